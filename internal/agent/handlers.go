package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/omniagent/internal/ui"
)

// action is everything a handler needs to carry out one plan
type action struct {
	plan          ui.ActionPlan
	target        *ui.Element
	width, height int // physical pixels of the perceived screenshot
	scale         float64
}

type actionHandler func(ctx context.Context, log *zap.Logger, a action) bool

// LogicalPoint maps the center of b from normalized screenshot space to the
// execution surface: denormalize with the physical size, then divide by scale.
func LogicalPoint(b ui.Bounds, width, height int, scale float64) (int, int, bool) {
	cx, cy, ok := b.Center()
	if !ok {
		return 0, 0, false
	}
	if scale <= 0 {
		scale = 1
	}
	px := cx * float64(width)
	py := cy * float64(height)
	return int(px / scale), int(py / scale), true
}

func (e *Executor) executeClick(ctx context.Context, log *zap.Logger, a action) bool {
	if a.target == nil {
		log.Error("click requires a target element")
		return false
	}
	x, y, ok := LogicalPoint(a.target.Bounds, a.width, a.height, a.scale)
	if !ok {
		log.Error("target has invalid bounds", zap.Int("element_id", a.target.ID))
		return false
	}
	log.Debug("clicking", zap.Int("x", x), zap.Int("y", y))
	return e.execution.Click(ctx, x, y, ui.ClickSingle)
}

func (e *Executor) executeType(ctx context.Context, log *zap.Logger, a action) bool {
	if a.plan.TextToType == nil {
		log.Error("type action without text_to_type")
		return false
	}

	if a.target != nil {
		x, y, ok := LogicalPoint(a.target.Bounds, a.width, a.height, a.scale)
		if !ok || !e.execution.Click(ctx, x, y, ui.ClickSingle) {
			log.Warn("failed to focus target before typing, typing anyway",
				zap.Int("element_id", a.target.ID))
		}
		if err := e.sleep(ctx, e.cfg.PreTypeDelay); err != nil {
			return false
		}
	}

	log.Debug("typing", zap.Int("chars", len([]rune(*a.plan.TextToType))))
	return e.execution.TypeText(ctx, *a.plan.TextToType)
}

func (e *Executor) executePressKey(ctx context.Context, log *zap.Logger, a action) bool {
	if a.plan.KeyInfo == nil || *a.plan.KeyInfo == "" {
		log.Error("press_key action without key_info")
		return false
	}
	log.Debug("pressing key", zap.String("key", *a.plan.KeyInfo))
	return e.execution.ExecuteKeyString(ctx, *a.plan.KeyInfo)
}

// executeScroll infers direction from the plan's reasoning.
// No recognizable direction is a no-op, not a failure.
func (e *Executor) executeScroll(ctx context.Context, log *zap.Logger, a action) bool {
	dx, dy := ScrollDelta(a.plan.Reasoning, e.cfg.ScrollAmount)
	if dx == 0 && dy == 0 {
		log.Warn("scroll planned without a clear direction, skipping")
		return true
	}
	log.Debug("scrolling", zap.Int("dx", dx), zap.Int("dy", dy))
	return e.execution.Scroll(ctx, dx, dy)
}

// ScrollDelta reads a scroll direction out of free text. Positive dy is up.
func ScrollDelta(reasoning string, amount int) (dx, dy int) {
	r := strings.ToLower(reasoning)
	switch {
	case strings.Contains(r, "down"):
		dy = -amount
	case strings.Contains(r, "up"):
		dy = amount
	}
	switch {
	case strings.Contains(r, "left"):
		dx = -amount
	case strings.Contains(r, "right"):
		dx = amount
	}
	return dx, dy
}
