// Package shopify implements the rate-limited client for the external
// store API. All outbound traffic of a migration funnels through one
// client instance per store, so pacing and throttling retries are
// handled here once and never by callers.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/storesync/storesync/internal/config"
	"github.com/storesync/storesync/internal/utils"
)

// Client issues authenticated REST and GraphQL requests against one
// store, enforcing two independent token-bucket regimes.
type Client struct {
	baseURL    string
	token      string
	apiVersion string
	cfg        config.Shopify
	httpClient *http.Client
	logger     zerolog.Logger

	rest    *limiter
	graphql *limiter
}

// limiter combines a token bucket with a minimum inter-request spacing
// and a single-flight mutex, matching the API's documented quota model.
type limiter struct {
	mu      sync.Mutex
	bucket  *rate.Limiter
	spacing *rate.Limiter
}

func newLimiter(rl config.RateLimit) *limiter {
	l := &limiter{
		bucket: rate.NewLimiter(rate.Limit(float64(rl.Capacity)/rl.Interval.Seconds()), rl.Capacity),
	}
	if rl.MinSpacing > 0 {
		l.spacing = rate.NewLimiter(rate.Every(rl.MinSpacing), 1)
	}
	return l
}

// schedule runs fn with the limiter held. Holding the mutex for the
// duration of the call keeps at most one request in flight.
func (l *limiter) schedule(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}
	if l.spacing != nil {
		if err := l.spacing.Wait(ctx); err != nil {
			return err
		}
	}
	return fn()
}

// NewClient creates a client for one store. storeURL may be a bare
// host (https is assumed) or a full base URL.
func NewClient(storeURL, accessToken string, cfg config.Shopify, logger zerolog.Logger) *Client {
	base := strings.TrimSuffix(storeURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	return &Client{
		baseURL:    base,
		token:      accessToken,
		apiVersion: cfg.APIVersion,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "shopify_client").Logger(),
		rest:       newLimiter(cfg.Rest),
		graphql:    newLimiter(cfg.GraphQL),
	}
}

// throttledError is the internal signal that the API answered with a
// rate-limit response. It never escapes the client.
type throttledError struct {
	retryAfter time.Duration
}

func (e *throttledError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.retryAfter)
}

// Rest issues one REST call through the REST limiter, retrying
// transparently on rate-limit responses. Non-throttling failures
// propagate immediately.
func (c *Client) Rest(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := c.restWithRetry(ctx, method, path, body, out, c.cfg.MaxRetries)
	return err
}

// Get issues a GET request
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Rest(ctx, http.MethodGet, path, nil, out)
}

// GetPage issues a GET request and additionally returns the page_info
// cursor of the next page, parsed from the Link response header.
// An empty cursor means there is no next page.
func (c *Client) GetPage(ctx context.Context, path string, out interface{}) (string, error) {
	header, err := c.restWithRetry(ctx, http.MethodGet, path, nil, out, c.cfg.MaxRetries)
	if err != nil {
		return "", err
	}
	return nextPageInfo(header), nil
}

// Post issues a POST request
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Rest(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT request
func (c *Client) Put(ctx context.Context, path string, body, out interface{}) error {
	return c.Rest(ctx, http.MethodPut, path, body, out)
}

func (c *Client) restWithRetry(ctx context.Context, method, path string, body, out interface{}, retries int) (http.Header, error) {
	var header http.Header

	err := c.rest.schedule(ctx, func() error {
		var err error
		header, err = c.doREST(ctx, method, path, body, out)
		return err
	})

	var throttled *throttledError
	if errors.As(err, &throttled) {
		if retries > 0 {
			c.logger.Debug().
				Str("path", path).
				Dur("retry_after", throttled.retryAfter).
				Int("retries_left", retries).
				Msg("throttled, backing off")
			if serr := sleepCtx(ctx, throttled.retryAfter); serr != nil {
				return nil, serr
			}
			return c.restWithRetry(ctx, method, path, body, out, retries-1)
		}
		return nil, &utils.ThrottleError{
			Path:       path,
			Attempts:   c.cfg.MaxRetries + 1,
			RetryAfter: throttled.retryAfter,
		}
	}

	return header, err
}

func (c *Client) doREST(ctx context.Context, method, path string, body, out interface{}) (http.Header, error) {
	url := fmt.Sprintf("%s/admin/api/%s%s", c.baseURL, c.apiVersion, path)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response of %s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &throttledError{retryAfter: c.retryAfter(resp.Header)}
	}
	if resp.StatusCode >= 400 {
		return nil, &utils.APIError{
			StatusCode: resp.StatusCode,
			Path:       path,
			Body:       truncate(string(data), 512),
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("decode response of %s %s: %w", method, path, err)
		}
	}

	return resp.Header, nil
}

// TestConnection verifies the credentials by fetching the shop resource
func (c *Client) TestConnection(ctx context.Context) error {
	return c.Get(ctx, "/shop.json", nil)
}

// Download fetches an arbitrary asset URL (theme assets, media files).
// These are CDN-hosted and not subject to the store's API quota, so
// the call bypasses the limiters. Returns the bytes and content type.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", &utils.APIError{StatusCode: resp.StatusCode, Path: rawURL}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read download %s: %w", rawURL, err)
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// retryAfter reads the server's advised wait duration, falling back to
// the configured default when the header is absent or malformed
func (c *Client) retryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return c.cfg.DefaultRetryAfter
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return c.cfg.DefaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

var pageInfoPattern = regexp.MustCompile(`page_info=([^&>]+)`)

// nextPageInfo extracts the next-page cursor from a Link header of the
// form <...page_info=xyz>; rel="next"
func nextPageInfo(header http.Header) string {
	link := header.Get("Link")
	if link == "" {
		return ""
	}
	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		if m := pageInfoPattern.FindStringSubmatch(part); m != nil {
			return m[1]
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
