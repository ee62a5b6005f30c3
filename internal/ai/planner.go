package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/v0xg/omniagent/internal/ui"
)

// ErrNoJSON is returned when a model reply holds no JSON object
var ErrNoJSON = errors.New("no JSON object found in response")

// Planner asks a Provider for the next action plan
type Planner struct {
	provider      Provider
	limiter       *rate.Limiter
	maxRetries    uint64
	retryInterval time.Duration
	debugPrompts  bool
	logger        *zap.Logger
}

// PlannerOption configures a Planner
type PlannerOption func(*Planner)

// WithRequestsPerMinute caps provider calls; zero or less disables the limit
func WithRequestsPerMinute(n int) PlannerOption {
	return func(p *Planner) {
		if n > 0 {
			p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
		} else {
			p.limiter = nil
		}
	}
}

// WithMaxRetries caps retries of transient provider failures
func WithMaxRetries(n int) PlannerOption {
	return func(p *Planner) {
		if n >= 0 {
			p.maxRetries = uint64(n)
		}
	}
}

// WithRetryInterval sets the first backoff interval
func WithRetryInterval(d time.Duration) PlannerOption {
	return func(p *Planner) { p.retryInterval = d }
}

// WithDebugPrompts logs full prompts and replies at debug level
func WithDebugPrompts(on bool) PlannerOption {
	return func(p *Planner) { p.debugPrompts = on }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) PlannerOption {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPlanner creates a Planner backed by provider
func NewPlanner(provider Provider, opts ...PlannerOption) *Planner {
	p := &Planner{
		provider:      provider,
		maxRetries:    3,
		retryInterval: time.Second,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("planner")
	return p
}

// Plan returns the next action and its resolved target element, if any.
// step is 0-based.
func (p *Planner) Plan(ctx context.Context, elements []ui.Element, goal string, history []string, step int) (ui.ActionPlan, *ui.Element, error) {
	log := p.logger.With(zap.Int("step", step+1))
	log.Info("planning next action", zap.String("goal", goal), zap.Int("elements", len(elements)))

	prompt, err := renderPrompt(goal, history, elements, step)
	if err != nil {
		return ui.ActionPlan{}, nil, fmt.Errorf("failed to render prompt: %w", err)
	}
	if p.debugPrompts {
		log.Debug("prompt", zap.String("system", systemPrompt), zap.String("user", prompt))
	}

	reply, err := p.complete(ctx, log, prompt)
	if err != nil {
		return ui.ActionPlan{}, nil, err
	}
	if p.debugPrompts {
		log.Debug("reply", zap.String("text", reply))
	}

	plan, err := decodePlan(reply)
	if err != nil {
		return ui.ActionPlan{}, nil, fmt.Errorf("failed to parse model response: %w\nResponse: %s", err, reply)
	}

	var target *ui.Element
	if plan.ElementID != nil {
		target = ui.FindByID(elements, *plan.ElementID)
		if target == nil {
			log.Warn("planned element not found in current elements", zap.Int("element_id", *plan.ElementID))
		}
	}

	log.Info("planned action",
		zap.String("action", string(plan.Action)),
		zap.Bool("goal_complete", plan.IsGoalComplete),
		zap.String("reasoning", plan.Reasoning))
	return plan, target, nil
}

func (p *Planner) complete(ctx context.Context, log *zap.Logger, prompt string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInterval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	attempt := 0
	var reply string
	operation := func() error {
		attempt++
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}
		text, err := p.provider.Complete(ctx, systemPrompt, prompt)
		if err != nil {
			if !IsTransient(err) {
				return backoff.Permanent(err)
			}
			log.Warn("transient model error, retrying", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		reply = text
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return reply, nil
}

func decodePlan(reply string) (ui.ActionPlan, error) {
	raw, err := extractJSON(reply)
	if err != nil {
		return ui.ActionPlan{}, err
	}
	var plan ui.ActionPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return ui.ActionPlan{}, fmt.Errorf("failed to parse extracted JSON: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return ui.ActionPlan{}, err
	}
	return plan, nil
}

// extractJSON returns the first balanced JSON object in a reply that may
// carry markdown fences or surrounding prose.
func extractJSON(reply string) (string, error) {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	if json.Valid([]byte(text)) && strings.HasPrefix(text, "{") {
		return text, nil
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return "", ErrNoJSON
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: no matching closing brace", ErrNoJSON)
}
