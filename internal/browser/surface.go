// Package browser drives a Chromium page as the agent's screen.
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/omniagent/internal/keys"
	"github.com/v0xg/omniagent/internal/ui"
)

// wheelNotchPx is the CSS pixel distance of one scroll notch
const wheelNotchPx = 100

// Options configures the browser surface
type Options struct {
	URL               string
	Width             int
	Height            int
	DeviceScaleFactor float64
	Headless          bool
	ProfileDir        string // Chrome/Chromium profile directory for authenticated sessions
	Timeout           time.Duration
}

// Surface wraps a Rod browser and page for perception and execution
type Surface struct {
	browser *rod.Browser
	page    *rod.Page
	opts    Options
	logger  *zap.Logger
}

// Launch starts Chromium, sets the viewport and opens opts.URL
func Launch(ctx context.Context, opts Options, logger *zap.Logger) (*Surface, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 800
	}
	if opts.DeviceScaleFactor <= 0 {
		opts.DeviceScaleFactor = 1
	}

	path, _ := launcher.LookPath()
	l := launcher.New().Context(ctx).Bin(path).Headless(opts.Headless)
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	s := &Surface{browser: browser, opts: opts, logger: logger.Named("browser")}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	s.page = page

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: opts.DeviceScaleFactor,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	if opts.URL != "" {
		if err := s.Navigate(ctx, opts.URL); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.logger.Info("browser ready",
		zap.String("url", opts.URL),
		zap.Int("width", opts.Width),
		zap.Int("height", opts.Height),
		zap.Float64("scale", opts.DeviceScaleFactor))
	return s, nil
}

// Navigate loads url and waits for the page to settle
func (s *Surface) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx).Timeout(s.opts.Timeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to load %s: %w", url, err)
	}

	// Wait for network idle with timeout (don't hang on persistent connections)
	s.page.Context(ctx).Timeout(5*time.Second).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()

	// SPAs render their controls after load
	s.waitForInteractiveElements(ctx, 5*time.Second)
	return nil
}

// Close cleans up browser resources
func (s *Surface) Close() error {
	var errs []error
	if s.page != nil {
		errs = append(errs, s.page.Close())
	}
	if s.browser != nil {
		errs = append(errs, s.browser.Close())
	}
	return errors.Join(errs...)
}

// Screenshot captures the viewport at physical resolution
func (s *Surface) Screenshot(ctx context.Context) (image.Image, error) {
	data, err := s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}

// CaptureScreen implements agent.ScreenCapturer
func (s *Surface) CaptureScreen(ctx context.Context) (image.Image, error) {
	return s.Screenshot(ctx)
}

// ScalingFactor reports physical pixels per logical (CSS) pixel
func (s *Surface) ScalingFactor() (float64, error) {
	return s.opts.DeviceScaleFactor, nil
}

// Click clicks at logical coordinates
func (s *Surface) Click(ctx context.Context, x, y int, kind ui.ClickType) bool {
	log := s.logger.With(zap.Int("x", x), zap.Int("y", y), zap.String("click_type", string(kind)))
	mouse := s.page.Context(ctx).Mouse

	if err := mouse.MoveTo(proto.Point{X: float64(x), Y: float64(y)}); err != nil {
		log.Error("mouse move failed", zap.Error(err))
		return false
	}

	button, count := proto.InputMouseButtonLeft, 1
	switch kind {
	case ui.ClickDouble:
		count = 2
	case ui.ClickRight:
		button = proto.InputMouseButtonRight
	}
	if err := mouse.Click(button, count); err != nil {
		log.Error("click failed", zap.Error(err))
		return false
	}
	log.Debug("clicked")
	return true
}

// TypeText inserts text into the focused element
func (s *Surface) TypeText(ctx context.Context, text string) bool {
	if err := s.page.Context(ctx).InsertText(text); err != nil {
		s.logger.Error("type failed", zap.Int("length", len(text)), zap.Error(err))
		return false
	}
	return true
}

// ExecuteKeyString presses a key spec such as "enter" or "ctrl+a"
func (s *Surface) ExecuteKeyString(ctx context.Context, spec string) bool {
	combo, err := keys.Parse(spec)
	if err != nil {
		s.logger.Error("invalid key spec", zap.String("key", spec), zap.Error(err))
		return false
	}

	mods, key, hasKey := rodKeys(combo)
	actions := s.page.Context(ctx).KeyActions()
	if hasKey {
		actions = actions.Press(mods...).Type(key).Release(mods...)
	} else {
		actions = actions.Type(mods...)
	}
	if err := actions.Do(); err != nil {
		s.logger.Error("key press failed", zap.String("key", combo.String()), zap.Error(err))
		return false
	}
	return true
}

// Scroll scrolls by wheel notches; positive dy scrolls up and positive dx right
func (s *Surface) Scroll(ctx context.Context, dx, dy int) bool {
	offsetX := float64(dx * wheelNotchPx)
	offsetY := float64(-dy * wheelNotchPx)
	if err := s.page.Context(ctx).Mouse.Scroll(offsetX, offsetY, 1); err != nil {
		s.logger.Error("scroll failed", zap.Int("dx", dx), zap.Int("dy", dy), zap.Error(err))
		return false
	}
	return true
}
