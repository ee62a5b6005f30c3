package ui

import (
	"fmt"
	"math"
	"strings"
)

// BoundsTolerance is the slack allowed when checking that normalized bounds stay inside [0,1]
const BoundsTolerance = 0.001

// Bounds is a rectangle normalized to the screenshot it was perceived on
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the normalized center point. ok is false for degenerate bounds.
func (b Bounds) Center() (x, y float64, ok bool) {
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, false
		}
	}
	if b.Width < 0 || b.Height < 0 {
		return 0, 0, false
	}
	return b.X + b.Width/2, b.Y + b.Height/2, true
}

// Within reports whether the bounds satisfy the normalization invariant with the given tolerance
func (b Bounds) Within(tol float64) bool {
	return b.X >= -tol && b.Y >= -tol &&
		b.Width >= 0 && b.Height >= 0 &&
		b.X+b.Width <= 1+tol && b.Y+b.Height <= 1+tol
}

// Clamp pulls the rectangle back inside the unit square
func (b Bounds) Clamp() Bounds {
	x := clamp01(b.X)
	y := clamp01(b.Y)
	return Bounds{
		X:      x,
		Y:      y,
		Width:  math.Max(0, math.Min(b.Width, 1-x)),
		Height: math.Max(0, math.Min(b.Height, 1-y)),
	}
}

// Pixels converts the bounds to absolute pixel coordinates on an image of the given size
func (b Bounds) Pixels(width, height int) (x, y, w, h int) {
	return int(b.X * float64(width)), int(b.Y * float64(height)),
		int(b.Width * float64(width)), int(b.Height * float64(height))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Element is a UI region detected in one perception snapshot.
// IDs are only unique within the snapshot that produced them.
type Element struct {
	ID         int            `json:"id"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Bounds     Bounds         `json:"bounds"`
	Confidence float64        `json:"confidence"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Clone returns a copy that shares no mutable state with e
func (e Element) Clone() Element {
	if e.Attributes != nil {
		attrs := make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			attrs[k] = v
		}
		e.Attributes = attrs
	}
	return e
}

// PromptRepr renders the element the way the planner sees it
func (e Element) PromptRepr() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ID: %d, Type: %s", e.ID, e.Type)
	if e.Content != "" {
		fmt.Fprintf(&sb, ", Content: '%s'", truncate(e.Content, 50))
	}
	fmt.Fprintf(&sb, ", Bounds: (x=%.2f, y=%.2f, w=%.2f, h=%.2f)",
		e.Bounds.X, e.Bounds.Y, e.Bounds.Width, e.Bounds.Height)
	if len(e.Attributes) > 0 {
		keys := sortedKeys(e.Attributes)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Attributes[k]))
		}
		fmt.Fprintf(&sb, ", Attributes: {%s}", strings.Join(parts, ", "))
	}
	return sb.String()
}

// FindByID returns the element with the given snapshot id, or nil
func FindByID(elements []Element, id int) *Element {
	for i := range elements {
		if elements[i].ID == id {
			el := elements[i]
			return &el
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
