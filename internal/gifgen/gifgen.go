// Package gifgen assembles the PNG artifacts of a run into an animated GIF.
package gifgen

import (
	"cmp"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

// DefaultDelay is the per-frame display time
const DefaultDelay = 670 * time.Millisecond

// ErrNoFrames is returned when there is nothing to animate
var ErrNoFrames = errors.New("no frames")

// Options configures GIF generation
type Options struct {
	Delay    time.Duration
	MaxWidth uint // frames are never upscaled; 0 means 800
}

// Collect lists the PNG files in runDir, oldest first, ties broken by name
func Collect(runDir string) ([]string, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	type frameFile struct {
		path    string
		modTime time.Time
	}
	var files []frameFile
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		files = append(files, frameFile{filepath.Join(runDir, e.Name()), info.ModTime()})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no PNG files in %s", ErrNoFrames, runDir)
	}

	slices.SortFunc(files, func(a, b frameFile) int {
		if c := a.modTime.Compare(b.modTime); c != 0 {
			return c
		}
		return cmp.Compare(a.path, b.path)
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// Load opens frames, skipping files that cannot be decoded
func Load(paths []string, logger *zap.Logger) ([]image.Image, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := imaging.Open(p)
		if err != nil {
			logger.Warn("skipping frame", zap.String("path", p), zap.Error(err))
			continue
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no decodable frames", ErrNoFrames)
	}
	return frames, nil
}

// Generate creates a looping GIF from frames and returns its size in bytes
func Generate(frames []image.Image, outputPath string, opts Options) (int64, error) {
	if len(frames) == 0 {
		return 0, ErrNoFrames
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}

	// Delay is in 100ths of a second
	delay := max(int(opts.Delay/(10*time.Millisecond)), 1)

	// Determine output size from the first frame
	bounds := frames[0].Bounds()
	maxWidth := opts.MaxWidth
	if maxWidth == 0 {
		maxWidth = 800
	}
	outputWidth := min(uint(bounds.Dx()), maxWidth)
	aspectRatio := float64(bounds.Dy()) / float64(bounds.Dx())
	outputHeight := max(uint(float64(outputWidth)*aspectRatio), 1)

	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		LoopCount: 0, // Infinite loop
	}

	resized := make([]image.Image, len(frames))
	for i, frame := range frames {
		resized[i] = resize.Resize(outputWidth, outputHeight, frame, resize.Lanczos3)
	}
	palette := generatePalette(resized)

	for i, frame := range resized {
		paletted := image.NewPaletted(frame.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, frame.Bounds(), frame, frame.Bounds().Min)
		g.Image[i] = paletted
		g.Delay[i] = delay
	}

	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := gif.EncodeAll(f, g); err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// generatePalette builds a 256-color palette from the most frequent colors
// across all frames, padded with grayscale.
func generatePalette(frames []image.Image) color.Palette {
	colorMap := make(map[color.RGBA]int)

	step := 4 // Sample every 4th pixel for performance
	for _, img := range frames {
		bounds := img.Bounds()
		for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
			for x := bounds.Min.X; x < bounds.Max.X; x += step {
				r, g, b, _ := img.At(x, y).RGBA()
				colorMap[color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255}]++
			}
		}
	}

	type colorCount struct {
		c     color.RGBA
		count int
	}
	colors := make([]colorCount, 0, len(colorMap))
	for c, count := range colorMap {
		colors = append(colors, colorCount{c, count})
	}
	slices.SortFunc(colors, func(a, b colorCount) int {
		if a.count != b.count {
			return cmp.Compare(b.count, a.count)
		}
		return cmp.Compare(packRGB(a.c), packRGB(b.c))
	})

	palette := make(color.Palette, 0, 256)
	for i := 0; i < len(colors) && len(palette) < 256; i++ {
		palette = append(palette, colors[i].c)
	}
	for i := 0; len(palette) < 256; i++ {
		gray := uint8(i)
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}

func packRGB(c color.RGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}
