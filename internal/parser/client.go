// Package parser talks to an OmniParser service and maps its detections to UI elements.
package parser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrServiceUnavailable is returned when the parser probe fails
var ErrServiceUnavailable = errors.New("omniparser service unavailable")

// RawElement is one detection as returned by the /parse/ endpoint
type RawElement struct {
	Type          string         `json:"type"`
	BBox          []float64      `json:"bbox"` // normalized [x1, y1, x2, y2]
	Content       string         `json:"content"`
	Interactivity bool           `json:"interactivity"`
	Source        string         `json:"source,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// Response is the /parse/ payload
type Response struct {
	ParsedContentList []RawElement `json:"parsed_content_list"`
	Latency           float64      `json:"latency,omitempty"`
	Error             string       `json:"error,omitempty"`
}

type parseRequest struct {
	Base64Image string `json:"base64_image"`
}

// Client calls the OmniParser HTTP API
type Client struct {
	baseURL         string
	httpClient      *http.Client
	maxRetries      uint64
	initialInterval time.Duration
	logger          *zap.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries caps retries of transient failures
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = uint64(n)
		}
	}
}

// WithRetryInterval sets the first backoff interval
func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.initialInterval = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		maxRetries:      3,
		initialInterval: time.Second,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("omniparser")
	return c
}

// Probe checks that the service is up
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/probe/", nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: probe returned status %d", ErrServiceUnavailable, resp.StatusCode)
	}
	return nil
}

// Parse uploads img and returns the detections
func (c *Client) Parse(ctx context.Context, img image.Image) (*Response, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}
	body, err := json.Marshal(parseRequest{Base64Image: base64.StdEncoding.EncodeToString(buf.Bytes())})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parse request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute

	var result Response
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse/", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create parse request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("network error during parse request, retrying", zap.Error(err))
			return fmt.Errorf("parse request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read parse response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("omniparser error: status %d, body: %s", resp.StatusCode, truncateBody(respBody))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				c.logger.Warn("transient parser error, retrying", zap.Int("status", resp.StatusCode))
				return err
			}
			return backoff.Permanent(err)
		}

		var parsed Response
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode parse response: %w", err))
		}
		if parsed.Error != "" {
			return backoff.Permanent(fmt.Errorf("omniparser returned error: %s", parsed.Error))
		}

		c.logger.Debug("parse complete",
			zap.Duration("duration", time.Since(start)),
			zap.Int("elements", len(parsed.ParsedContentList)))
		result = parsed
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return &result, nil
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
