// Package overlay draws perception and action annotations onto screenshots.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/v0xg/omniagent/internal/ui"
)

var (
	// BoxColor outlines detected elements
	BoxColor = color.RGBA{0, 200, 0, 255}
	// HighlightColor marks the target of a planned action
	HighlightColor = color.RGBA{230, 30, 30, 255}

	labelText   = color.RGBA{255, 255, 255, 255}
	labelBG     = color.RGBA{0, 0, 0, 170}
	rippleColor = color.RGBA{66, 133, 244, 200}
)

// DrawBoundingBoxes outlines every element, optionally tagging each with its ID
func DrawBoundingBoxes(img image.Image, elements []ui.Element, c color.RGBA, showIDs bool) *image.RGBA {
	out := toRGBA(img)
	size := out.Bounds().Size()

	for _, el := range elements {
		r, ok := elementRect(el, size, out.Bounds().Min)
		if !ok {
			continue
		}
		drawRect(out, r, 2, c)
		if showIDs {
			drawLabel(out, r.Min.X, r.Min.Y, fmt.Sprintf("%d", el.ID), labelText, labelBG)
		}
	}
	return out
}

// DrawActionHighlight marks the target of plan and captions the frame with the
// planned action. target may be nil for actions without one.
func DrawActionHighlight(img image.Image, target *ui.Element, plan ui.ActionPlan) *image.RGBA {
	out := toRGBA(img)
	bounds := out.Bounds()

	if target != nil {
		if r, ok := elementRect(*target, bounds.Size(), bounds.Min); ok {
			drawRect(out, r.Inset(-3), 3, HighlightColor)
			if plan.Action == ui.ActionClick || plan.Action == ui.ActionTypeText {
				c := r.Min.Add(r.Size().Div(2))
				drawRipple(out, c.X, c.Y, rippleColor)
			}
		}
	}

	drawLabel(out, bounds.Min.X+4, bounds.Min.Y+4, caption(target, plan), labelText, labelBG)
	return out
}

func caption(target *ui.Element, plan ui.ActionPlan) string {
	s := string(plan.Action)
	if target != nil {
		s += fmt.Sprintf(" #%d", target.ID)
		if target.Content != "" {
			s += fmt.Sprintf(" '%s'", shorten(target.Content, 24))
		}
	}
	switch {
	case plan.TextToType != nil:
		s += fmt.Sprintf(" text=%q", shorten(*plan.TextToType, 24))
	case plan.KeyInfo != nil:
		s += " key=" + *plan.KeyInfo
	}
	return s
}

// elementRect converts normalized bounds to a pixel rectangle on an image of size
func elementRect(el ui.Element, size, origin image.Point) (image.Rectangle, bool) {
	if _, _, ok := el.Bounds.Center(); !ok {
		return image.Rectangle{}, false
	}
	x, y, w, h := el.Bounds.Pixels(size.X, size.Y)
	r := image.Rect(x, y, x+w, y+h).Add(origin)
	return r, !r.Empty()
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
