package ai

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeProvider implements the Provider interface using Anthropic's Claude
type ClaudeProvider struct {
	client      *anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewClaudeProvider creates a new Claude provider
func NewClaudeProvider(model string, maxTokens int, temperature float64) (*ClaudeProvider, error) {
	apiKey := os.Getenv("OMNIAGENT_ANTHROPIC_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OMNIAGENT_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))

	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &ClaudeProvider{
		client:      &client,
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: temperature,
	}, nil
}

// Complete sends the prompts to the Messages API
func (p *ClaudeProvider) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(p.temperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return "", classify(fmt.Errorf("Claude API error: %w", err), status)
	}

	// Extract text content
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("empty response from Claude")
}
