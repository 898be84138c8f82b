package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hupe1980/vecbuf/resource"
)

const maxResponseBytes = 32 << 20

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Unwrap exposes ErrRemote, and ErrCredentials for 401 and 403.
func (e *StatusError) Unwrap() []error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return []error{ErrRemote, ErrCredentials}
	}
	return []error{ErrRemote}
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// HTTPClient sends JSON requests under a request budget.
type HTTPClient struct {
	http   *http.Client
	ctrl   *resource.Controller
	header http.Header
	logger *slog.Logger
}

// NewHTTPClient returns a client that adds header to every request.
func NewHTTPClient(cfg Config, header http.Header) *HTTPClient {
	cfg = cfg.WithDefaults()
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{
		http:   hc,
		ctrl:   cfg.Controller(),
		header: header,
		logger: cfg.Logger,
	}
}

// Do sends in as the JSON body (nil for none) and decodes the response into
// out (nil to discard it).
func (c *HTTPClient) Do(ctx context.Context, method, url string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
	}

	release, err := c.ctrl.Acquire(ctx, int64(len(body)))
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRemote, method, url, err)
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRemote, method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrRemote, url, err)
	}
	c.logger.Debug("remote request", "method", method, "url", url,
		"status", resp.StatusCode, "bytes", len(body), "pending_bytes", c.ctrl.PendingBytes(),
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, URL: url, Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrRemote, url, err)
	}
	return nil
}
