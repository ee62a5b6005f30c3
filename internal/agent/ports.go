package agent

import (
	"context"
	"image"

	"github.com/v0xg/omniagent/internal/ui"
)

// Perception produces a fresh snapshot of the screen on every Update
type Perception interface {
	// Update captures and parses the screen. The getters below reflect the latest call.
	Update(ctx context.Context) error
	Elements() []ui.Element
	// ScreenDimensions returns the physical pixel size of the last screenshot
	ScreenDimensions() (width, height int)
	LastScreenshot() image.Image
}

// Planner chooses the next action for a goal.
// It returns an error rather than a partial plan when the model output is unusable.
type Planner interface {
	Plan(ctx context.Context, elements []ui.Element, goal string, history []string, step int) (ui.ActionPlan, *ui.Element, error)
}

// Execution performs input primitives in logical coordinates.
// A false return is an expected, recoverable action failure.
type Execution interface {
	Click(ctx context.Context, x, y int, kind ui.ClickType) bool
	TypeText(ctx context.Context, text string) bool
	ExecuteKeyString(ctx context.Context, spec string) bool
	Scroll(ctx context.Context, dx, dy int) bool
}

// ScreenCapturer grabs a frame without parsing it
type ScreenCapturer interface {
	CaptureScreen(ctx context.Context) (image.Image, error)
}

// ScaleReporter reports the ratio between screenshot pixels and input coordinates
type ScaleReporter interface {
	ScalingFactor() (float64, error)
}
