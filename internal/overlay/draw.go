package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// toRGBA copies src into a new RGBA image so drawing never touches the caller's frame
func toRGBA(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	result := image.NewRGBA(bounds)
	draw.Draw(result, bounds, src, bounds.Min, draw.Src)
	return result
}

// drawRect draws a rectangle outline width pixels thick, growing inward
func drawRect(img *image.RGBA, r image.Rectangle, width int, c color.RGBA) {
	for i := 0; i < width; i++ {
		x0, y0 := r.Min.X+i, r.Min.Y+i
		x1, y1 := r.Max.X-i, r.Max.Y-i
		if x0 > x1 || y0 > y1 {
			return
		}
		drawLine(img, x0, y0, x1, y0, c)
		drawLine(img, x1, y0, x1, y1, c)
		drawLine(img, x1, y1, x0, y1, c)
		drawLine(img, x0, y1, x0, y0, c)
	}
}

// fillRect blends c over r
func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

// drawLine draws a line between two points using Bresenham's algorithm
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx := 1
	if x1 > x2 {
		sx = -1
	}
	sy := 1
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy

	for {
		setPixelSafe(img, x1, y1, c)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

// drawRipple draws concentric circles around a click point
func drawRipple(img *image.RGBA, x, y int, c color.RGBA) {
	for _, radius := range []int{6, 12, 18} {
		for angle := 0.0; angle < 360; angle++ {
			rad := angle * math.Pi / 180
			px := x + int(float64(radius)*math.Cos(rad))
			py := y + int(float64(radius)*math.Sin(rad))
			setPixelSafe(img, px, py, c)
			setPixelSafe(img, px+1, py, c)
			setPixelSafe(img, px, py+1, c)
		}
	}
}

// drawLabel writes text on a filled background with its top-left corner at (x, y)
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(fg), Face: face}
	w := d.MeasureString(text).Ceil()
	h := face.Metrics().Height.Ceil()

	fillRect(img, image.Rect(x, y, x+w+4, y+h+2), bg)
	d.Dot = fixed.P(x+2, y+face.Metrics().Ascent.Ceil()+1)
	d.DrawString(text)
}

func setPixelSafe(img *image.RGBA, x, y int, c color.RGBA) {
	bounds := img.Bounds()
	if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
		img.Set(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
