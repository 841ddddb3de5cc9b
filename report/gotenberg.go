// Package report talks to the Gotenberg service that rasterises rendered letters.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxScreenshotBytes bounds the body read from a screenshot response.
const maxScreenshotBytes = 64 << 20

var (
	// ErrNotConfigured is returned when no Gotenberg URL is set.
	ErrNotConfigured = errors.New("report: gotenberg url not configured")
	// ErrScreenshotTooLarge is returned when a screenshot exceeds the read limit.
	ErrScreenshotTooLarge = errors.New("report: screenshot exceeds size limit")
)

// Client wraps interactions with the Gotenberg API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxBytes   int64
}

// NewClient constructs a new client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxBytes: maxScreenshotBytes,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Ping checks if the remote Gotenberg service is available.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.baseURL == "" {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gotenberg returned status %d", resp.StatusCode)
	}
	return nil
}

// Screenshot captures html as a full-page PNG using a viewport width px wide.
func (c *Client) Screenshot(ctx context.Context, html []byte, width int) ([]byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := map[string]string{
		"width":  strconv.Itoa(width),
		"height": strconv.Itoa(width * 297 / 210),
		"format": "png",
		"clip":   "false",
	}
	for _, k := range []string{"width", "height", "format", "clip"} {
		if err := writer.WriteField(k, fields[k]); err != nil {
			return nil, err
		}
	}
	// Chromium routes require the entry document to be named index.html.
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, bytes.NewReader(html)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/forms/chromium/screenshot/html", c.baseURL), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("screenshot failed with status %d", resp.StatusCode)
	}
	limit := c.maxBytes
	if limit <= 0 {
		limit = maxScreenshotBytes
	}
	// One byte past the limit tells a full-size image from a truncated one.
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrScreenshotTooLarge, limit)
	}
	return data, nil
}
