// Package perception turns screenshots into element snapshots for the agent loop.
package perception

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/v0xg/omniagent/internal/parser"
	"github.com/v0xg/omniagent/internal/ui"
)

// ScreenSource captures the current screen
type ScreenSource interface {
	Screenshot(ctx context.Context) (image.Image, error)
}

// Parser detects elements in a screenshot
type Parser interface {
	Parse(ctx context.Context, img image.Image) (*parser.Response, error)
}

// Options tunes a VisualState
type Options struct {
	DownsampleFactor float64 // 1 sends full resolution to the parser
	MinElementPx     int
}

// VisualState holds the latest screenshot and its parsed elements
type VisualState struct {
	source ScreenSource
	parser Parser
	mapper parser.Mapper
	opts   Options
	logger *zap.Logger

	mu         sync.RWMutex
	elements   []ui.Element
	screenshot image.Image
	width      int
	height     int
}

// New creates a VisualState over source and p
func New(source ScreenSource, p Parser, opts Options, logger *zap.Logger) *VisualState {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DownsampleFactor <= 0 || opts.DownsampleFactor > 1 {
		opts.DownsampleFactor = 1
	}
	logger = logger.Named("perception")
	return &VisualState{
		source: source,
		parser: p,
		mapper: parser.Mapper{MinElementPx: opts.MinElementPx, Logger: logger},
		opts:   opts,
		logger: logger,
	}
}

// Update captures the screen, parses it and replaces the current snapshot
func (v *VisualState) Update(ctx context.Context) error {
	start := time.Now()
	shot, err := v.source.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	if shot == nil {
		return fmt.Errorf("screenshot failed: empty image")
	}
	size := shot.Bounds().Size()

	parseImg := shot
	if v.opts.DownsampleFactor < 1 {
		w := uint(float64(size.X) * v.opts.DownsampleFactor)
		h := uint(float64(size.Y) * v.opts.DownsampleFactor)
		if w > 0 && h > 0 {
			parseImg = resize.Resize(w, h, shot, resize.Lanczos3)
			v.logger.Debug("downsampled screenshot",
				zap.Int("width", int(w)), zap.Int("height", int(h)))
		}
	}

	resp, err := v.parser.Parse(ctx, parseImg)
	if err != nil {
		return fmt.Errorf("parse failed: %w", err)
	}

	// Bounds are normalized, so mapping against the original size keeps them valid
	elements := v.mapper.Map(resp.ParsedContentList, size.X, size.Y)

	v.mu.Lock()
	v.screenshot = shot
	v.width, v.height = size.X, size.Y
	v.elements = elements
	v.mu.Unlock()

	v.logger.Info("visual state updated",
		zap.Int("elements", len(elements)),
		zap.Int("width", size.X),
		zap.Int("height", size.Y),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Elements returns the elements of the latest snapshot
func (v *VisualState) Elements() []ui.Element {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]ui.Element(nil), v.elements...)
}

// ScreenDimensions returns the physical size of the latest screenshot
func (v *VisualState) ScreenDimensions() (int, int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.width, v.height
}

// LastScreenshot returns the latest screenshot
func (v *VisualState) LastScreenshot() image.Image {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.screenshot
}

// CaptureScreen grabs a frame without parsing it or touching the snapshot
func (v *VisualState) CaptureScreen(ctx context.Context) (image.Image, error) {
	return v.source.Screenshot(ctx)
}

// FindElement returns the element best matching a natural language description
func (v *VisualState) FindElement(description string) *ui.Element {
	return FindElement(v.Elements(), description)
}

// FindElements returns up to limit elements matching description, best first
func (v *VisualState) FindElements(description string, limit int) []ui.Element {
	return RankElements(v.Elements(), description, limit)
}

// FindElement scores each element by query terms found in its content (+2)
// and type (+1) and returns the best, or nil if nothing scores.
func FindElement(elements []ui.Element, description string) *ui.Element {
	ranked := RankElements(elements, description, 1)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}

// RankElements returns the scoring elements ordered by score, then by ID
func RankElements(elements []ui.Element, description string, limit int) []ui.Element {
	terms := strings.Fields(strings.ToLower(description))
	if len(terms) == 0 {
		return nil
	}

	type scored struct {
		el    ui.Element
		score int
	}
	var hits []scored
	for _, el := range elements {
		content := strings.ToLower(el.Content)
		typ := strings.ToLower(el.Type)
		score := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				score += 2
			}
			if strings.Contains(typ, term) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{el, score})
		}
	}

	// Stable insertion keeps ID order among equal scores
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].score > hits[j-1].score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]ui.Element, len(hits))
	for i, h := range hits {
		out[i] = h.el
	}
	return out
}
