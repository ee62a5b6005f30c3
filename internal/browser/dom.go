package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/omniagent/internal/parser"
)

// domDetectJS lists visible interactive elements in the same shape as
// OmniParser detections, with bboxes normalized to the viewport.
const domDetectJS = `() => {
	const vw = window.innerWidth, vh = window.innerHeight;
	const out = [];
	const seen = new Set();

	function visible(el) {
		if (!el.offsetParent && getComputedStyle(el).position !== 'fixed') return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0 && r.bottom > 0 && r.right > 0 && r.top < vh && r.left < vw;
	}

	function push(el, type, content, attrs) {
		if (seen.has(el) || !visible(el)) return;
		seen.add(el);
		const r = el.getBoundingClientRect();
		out.push({
			type: type,
			bbox: [r.left / vw, r.top / vh, r.right / vw, r.bottom / vh],
			content: (content || '').trim().slice(0, 80),
			interactivity: true,
			source: 'dom',
			attributes: attrs || {}
		});
	}

	// Checkboxes and radios
	document.querySelectorAll('input[type="checkbox"], input[type="radio"]').forEach(el => {
		const label = el.labels && el.labels.length ? el.labels[0].textContent : (el.name || '');
		push(el, el.type, label, {checked: el.checked});
	});

	// Buttons
	document.querySelectorAll('button, [role="button"], input[type="submit"], input[type="button"]').forEach(el => {
		push(el, 'button', el.textContent || el.value || el.getAttribute('aria-label'));
	});

	// Input fields
	document.querySelectorAll('input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea').forEach(el => {
		const password = el.type === 'password';
		const value = password ? '*'.repeat(el.value.length) : el.value;
		push(el, 'text_field', value || el.placeholder || el.getAttribute('aria-label') || el.name,
			{is_password: password, focused: document.activeElement === el});
	});

	// Select dropdowns
	document.querySelectorAll('select').forEach(el => {
		const opt = el.options[el.selectedIndex];
		push(el, 'select', opt ? opt.text : el.name);
	});

	// Links
	document.querySelectorAll('a[href]').forEach(el => {
		const href = el.getAttribute('href');
		if (href.startsWith('javascript:')) return;
		push(el, 'link', el.textContent || el.getAttribute('aria-label'));
	});

	return JSON.stringify(out);
}`

const interactiveCountJS = `() => {
	let visible = 0;
	document.querySelectorAll('button, [role="button"], input:not([type="hidden"]), textarea, a[href]').forEach(el => {
		if (el.offsetParent) visible++;
	});
	return visible;
}`

// Parse implements perception.Parser from the live DOM, for pages where an
// OmniParser service is not available. The screenshot is not inspected.
func (s *Surface) Parse(ctx context.Context, _ image.Image) (*parser.Response, error) {
	start := time.Now()
	res, err := s.page.Context(ctx).Eval(domDetectJS)
	if err != nil {
		return nil, fmt.Errorf("dom detection failed: %w", err)
	}

	resp, err := decodeDetections(res.Value.String())
	if err != nil {
		return nil, err
	}
	resp.Latency = time.Since(start).Seconds()

	s.logger.Debug("dom detection complete", zap.Int("elements", len(resp.ParsedContentList)), zap.Float64("latency", resp.Latency))
	return resp, nil
}

func decodeDetections(raw string) (*parser.Response, error) {
	var resp parser.Response
	if err := json.Unmarshal([]byte(raw), &resp.ParsedContentList); err != nil {
		return nil, fmt.Errorf("failed to decode dom detections: %w", err)
	}
	return &resp, nil
}

// waitForInteractiveElements polls until interactive elements appear or timeout
func (s *Surface) waitForInteractiveElements(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		res, err := s.page.Context(ctx).Eval(interactiveCountJS)
		if err == nil && res.Value.Int() > 0 {
			return
		}
		select {
		case <-ctx.Done():
			s.logger.Debug("no interactive elements appeared", zap.Duration("timeout", timeout))
			return
		case <-ticker.C:
		}
	}
}
