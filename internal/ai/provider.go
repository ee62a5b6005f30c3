// Package ai plans UI actions with a hosted language model.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Provider sends one system + user prompt pair to a model and returns its text reply
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// TransientError marks a provider failure worth retrying (rate limits, 5xx, network)
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// NewProvider creates a new AI provider based on the provider name
func NewProvider(name, model string, maxTokens int, temperature float64) (Provider, error) {
	switch name {
	case "claude", "anthropic":
		return NewClaudeProvider(model, maxTokens, temperature)
	case "openai", "gpt":
		return NewOpenAIProvider(model, maxTokens, temperature)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", name)
	}
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// classify wraps retryable failures in a TransientError
func classify(err error, status int) error {
	if status != 0 && transientStatus(status) {
		return &TransientError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}
	return err
}
