package parser

import (
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/omniagent/internal/ui"
)

// DefaultMinElementPx drops detections smaller than this on either axis
const DefaultMinElementPx = 3

// Mapper converts raw detections into elements numbered from 0
type Mapper struct {
	MinElementPx int
	Logger       *zap.Logger
}

// Map converts raw detections for a screenshot of width x height pixels.
// Invalid or tiny detections are skipped and do not consume an ID.
func (m Mapper) Map(raw []RawElement, width, height int) []ui.Element {
	log := m.Logger
	if log == nil {
		log = zap.NewNop()
	}

	elements := make([]ui.Element, 0, len(raw))
	for i, item := range raw {
		el, ok := m.convert(item, width, height)
		if !ok {
			log.Debug("skipping detection", zap.Int("index", i), zap.String("content", item.Content), zap.Float64s("bbox", item.BBox))
			continue
		}
		el.ID = len(elements)
		elements = append(elements, el)
	}
	log.Debug("mapped detections", zap.Int("raw", len(raw)), zap.Int("elements", len(elements)))
	return elements
}

func (m Mapper) convert(item RawElement, width, height int) (ui.Element, bool) {
	if len(item.BBox) != 4 {
		return ui.Element{}, false
	}
	x1, y1, x2, y2 := item.BBox[0], item.BBox[1], item.BBox[2], item.BBox[3]
	b := ui.Bounds{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}

	if b.Width <= 0 || b.Height <= 0 || !b.Within(ui.BoundsTolerance) {
		return ui.Element{}, false
	}
	b = b.Clamp()
	if b.Width <= 0 || b.Height <= 0 {
		return ui.Element{}, false
	}

	if width > 0 && height > 0 && m.MinElementPx > 0 {
		minPx := float64(m.MinElementPx)
		if b.Width*float64(width) < minPx || b.Height*float64(height) < minPx {
			return ui.Element{}, false
		}
	}

	attrs := make(map[string]any, len(item.Attributes)+1)
	for k, v := range item.Attributes {
		attrs[k] = v
	}
	if item.Interactivity {
		attrs["interactive"] = true
	}

	return ui.Element{
		Type:       normalizeType(item.Type),
		Content:    strings.TrimSpace(item.Content),
		Bounds:     b,
		Confidence: item.Confidence,
		Attributes: attrs,
	}, true
}

func normalizeType(t string) string {
	t = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(t)), " ", "_")
	if t == "" {
		return "unknown"
	}
	return t
}
