// Package synthetic renders a simulated login form that the agent can perceive and drive
// without a browser or a parser service.
package synthetic

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/v0xg/omniagent/internal/keys"
	"github.com/v0xg/omniagent/internal/ui"
)

// Logical screen size
const (
	Width  = 800
	Height = 600
)

var (
	background = color.RGBA{230, 230, 230, 255}
	black      = color.RGBA{0, 0, 0, 255}
	white      = color.RGBA{255, 255, 255, 255}
	linkBlue   = color.RGBA{0, 0, 238, 255}
	buttonFill = color.RGBA{0, 128, 0, 255}
	focusRing  = color.RGBA{30, 110, 230, 255}
	errorRed   = color.RGBA{200, 0, 0, 255}
)

// Layout in logical pixels
var (
	usernameRect = image.Rect(200, 175, 600, 215)
	passwordRect = image.Rect(200, 260, 600, 300)
	checkboxRect = image.Rect(200, 330, 220, 350)
	forgotRect   = image.Rect(488, 335, 600, 348)
	loginRect    = image.Rect(340, 390, 460, 435)
	logoutRect   = image.Rect(340, 330, 460, 375)
)

type field int

const (
	noField field = iota
	usernameField
	passwordField
)

// LoginScreen is a stateful login form. It implements the agent's Perception,
// Execution, ScreenCapturer and ScaleReporter ports.
type LoginScreen struct {
	scale  float64
	logger *zap.Logger

	mu       sync.Mutex
	username string
	password string
	remember bool
	focused  field
	loggedIn bool
	message  string

	elements []ui.Element
	shot     image.Image
}

// Option configures a LoginScreen
type Option func(*LoginScreen)

// WithScaleFactor renders screenshots at f times the logical size
func WithScaleFactor(f float64) Option {
	return func(s *LoginScreen) {
		if f > 0 {
			s.scale = f
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *LoginScreen) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewLoginScreen returns an empty login form
func NewLoginScreen(opts ...Option) *LoginScreen {
	s := &LoginScreen{scale: 1, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("synthetic")
	return s
}

// LoggedIn reports whether the form was submitted successfully
func (s *LoginScreen) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// Credentials returns the current field values
func (s *LoginScreen) Credentials() (username, password string, remember bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username, s.password, s.remember
}

// Update renders the current state and rebuilds the element list
func (s *LoginScreen) Update(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shot = s.render()
	s.elements = s.buildElements()
	s.logger.Debug("rendered", zap.Bool("logged_in", s.loggedIn), zap.Int("elements", len(s.elements)))
	return nil
}

// Elements returns the elements from the last Update
func (s *LoginScreen) Elements() []ui.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ui.Element, len(s.elements))
	for i, el := range s.elements {
		out[i] = el.Clone()
	}
	return out
}

// ScreenDimensions returns the physical size of the last screenshot
func (s *LoginScreen) ScreenDimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shot == nil {
		return 0, 0
	}
	b := s.shot.Bounds()
	return b.Dx(), b.Dy()
}

// LastScreenshot returns the screenshot from the last Update
func (s *LoginScreen) LastScreenshot() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shot
}

// CaptureScreen renders the current state without touching the snapshot
func (s *LoginScreen) CaptureScreen(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.render(), nil
}

// Screenshot lets the screen stand in for a real display behind perception.VisualState
func (s *LoginScreen) Screenshot(ctx context.Context) (image.Image, error) {
	return s.CaptureScreen(ctx)
}

// ScalingFactor reports the render scale
func (s *LoginScreen) ScalingFactor() (float64, error) {
	return s.scale, nil
}

// Click hit-tests logical coordinates against the current screen
func (s *LoginScreen) Click(ctx context.Context, x, y int, kind ui.ClickType) bool {
	if ctx.Err() != nil {
		return false
	}
	if x < 0 || y < 0 || x >= Width || y >= Height {
		s.logger.Warn("click outside screen", zap.Int("x", x), zap.Int("y", y))
		return false
	}
	if kind == ui.ClickRight {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := image.Pt(x, y)

	if s.loggedIn {
		if p.In(logoutRect) {
			s.reset()
		}
		return true
	}

	switch {
	case p.In(usernameRect):
		s.focused = usernameField
	case p.In(passwordRect):
		s.focused = passwordField
	case p.In(checkboxRect):
		s.remember = !s.remember
	case p.In(forgotRect):
		s.message = "Password reset is not available"
	case p.In(loginRect):
		s.submit()
	default:
		s.focused = noField
	}
	return true
}

// TypeText appends text to the focused field
func (s *LoginScreen) TypeText(ctx context.Context, text string) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.focused {
	case usernameField:
		s.username += text
	case passwordField:
		s.password += text
	default:
		s.logger.Debug("typed with no focused field", zap.Int("length", len(text)))
	}
	return true
}

// ExecuteKeyString handles enter (submit), tab (next field) and backspace
func (s *LoginScreen) ExecuteKeyString(ctx context.Context, spec string) bool {
	if ctx.Err() != nil {
		return false
	}
	combo, err := keys.Parse(spec)
	if err != nil {
		s.logger.Warn("invalid key spec", zap.String("key", spec), zap.Error(err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedIn || len(combo.Modifiers) > 0 {
		return true
	}

	switch combo.Key {
	case "enter":
		s.submit()
	case "tab":
		s.focused = (s.focused + 1) % 3
	case "backspace":
		switch s.focused {
		case usernameField:
			s.username = dropLast(s.username)
		case passwordField:
			s.password = dropLast(s.password)
		}
	}
	return true
}

// Scroll is accepted; the form fits on one screen
func (s *LoginScreen) Scroll(ctx context.Context, dx, dy int) bool {
	return ctx.Err() == nil
}

func (s *LoginScreen) submit() {
	if s.username == "" || s.password == "" {
		s.message = "Please enter username and password"
		return
	}
	s.loggedIn = true
	s.focused = noField
	s.message = ""
	s.logger.Info("login submitted", zap.String("username", s.username), zap.Bool("remember", s.remember))
}

func (s *LoginScreen) reset() {
	s.username, s.password = "", ""
	s.remember, s.loggedIn = false, false
	s.focused = noField
	s.message = ""
}

func (s *LoginScreen) buildElements() []ui.Element {
	var els []ui.Element
	add := func(typ, content string, r image.Rectangle, attrs map[string]any) {
		els = append(els, ui.Element{
			ID:         len(els),
			Type:       typ,
			Content:    content,
			Bounds:     normalize(r),
			Confidence: 1,
			Attributes: attrs,
		})
	}

	if s.loggedIn {
		add("text", "Login Successful!", textRect("Login Successful!", 200), nil)
		add("text", fmt.Sprintf("Welcome, %s!", s.username), textRect(fmt.Sprintf("Welcome, %s!", s.username), 240), nil)
		add("button", "Logout", logoutRect, nil)
		return els
	}

	add("text_field", s.username, usernameRect, map[string]any{"focused": s.focused == usernameField})
	add("text_field", mask(s.password), passwordRect, map[string]any{"is_password": true, "focused": s.focused == passwordField})
	add("checkbox", "Remember Me", checkboxRect, map[string]any{"checked": s.remember})
	add("link", "Forgot Password?", forgotRect, nil)
	add("button", "Login", loginRect, nil)
	if s.message != "" {
		add("text", s.message, textRect(s.message, 460), nil)
	}
	return els
}

func (s *LoginScreen) render() image.Image {
	img := imaging.New(Width, Height, background)

	if s.loggedIn {
		drawCentered(img, "Login Successful!", 200, black)
		drawCentered(img, fmt.Sprintf("Welcome, %s!", s.username), 240, black)
		drawButton(img, logoutRect, "Logout")
	} else {
		drawCentered(img, "Welcome Back!", 80, black)

		drawText(img, "Username:", 200, 150, black)
		drawField(img, usernameRect, s.username, s.focused == usernameField)

		drawText(img, "Password:", 200, 235, black)
		drawField(img, passwordRect, mask(s.password), s.focused == passwordField)

		fill(img, checkboxRect, white)
		outline(img, checkboxRect, black)
		if s.remember {
			fill(img, checkboxRect.Inset(5), black)
		}
		drawText(img, "Remember Me", 230, 332, black)
		drawText(img, "Forgot Password?", forgotRect.Min.X, forgotRect.Min.Y, linkBlue)

		drawButton(img, loginRect, "Login")
		if s.message != "" {
			drawCentered(img, s.message, 460, errorRed)
		}
	}

	if s.scale == 1 {
		return img
	}
	w := int(float64(Width) * s.scale)
	h := int(float64(Height) * s.scale)
	return imaging.Resize(img, w, h, imaging.NearestNeighbor)
}

func normalize(r image.Rectangle) ui.Bounds {
	return ui.Bounds{
		X:      float64(r.Min.X) / Width,
		Y:      float64(r.Min.Y) / Height,
		Width:  float64(r.Dx()) / Width,
		Height: float64(r.Dy()) / Height,
	}
}

func mask(s string) string {
	return strings.Repeat("*", len([]rune(s)))
}

func dropLast(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return string(r[:len(r)-1])
}

// Drawing helpers. Text uses the 7x13 basic font, so a glyph is 7px wide.

const (
	glyphWidth  = 7
	glyphHeight = 13
)

func textRect(text string, top int) image.Rectangle {
	w := len(text) * glyphWidth
	x := (Width - w) / 2
	return image.Rect(x, top, x+w, top+glyphHeight)
}

func fill(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func outline(img draw.Image, r image.Rectangle, c color.Color) {
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1), c)
	fill(img, image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y), c)
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y), c)
	fill(img, image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// drawText draws text with its top-left corner at (x, y)
func drawText(img draw.Image, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y+basicfont.Face7x13.Ascent),
	}
	d.DrawString(text)
}

func drawCentered(img draw.Image, text string, y int, c color.Color) {
	r := textRect(text, y)
	drawText(img, text, r.Min.X, r.Min.Y, c)
}

func drawField(img draw.Image, r image.Rectangle, value string, focused bool) {
	fill(img, r, white)
	if focused {
		outline(img, r, focusRing)
		outline(img, r.Inset(1), focusRing)
	} else {
		outline(img, r, black)
	}
	drawText(img, value, r.Min.X+8, r.Min.Y+(r.Dy()-glyphHeight)/2, black)
}

func drawButton(img draw.Image, r image.Rectangle, label string) {
	fill(img, r, buttonFill)
	outline(img, r, black)
	x := r.Min.X + (r.Dx()-len(label)*glyphWidth)/2
	y := r.Min.Y + (r.Dy()-glyphHeight)/2
	drawText(img, label, x, y, white)
}
