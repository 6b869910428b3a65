package httpfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/user/note-enricher/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultMaxBodyBytes caps page bodies read by Fetch.
const DefaultMaxBodyBytes = 10 << 20

// StatusError is returned by GetJSON for non-2xx answers.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Temporary reports whether the status is worth retrying later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Options configures a Client.
type Options struct {
	Timeout        time.Duration
	RequestsPerSec float64
	Proxies        []string
	UserAgents     []string
	MaxBodyBytes   int64
}

// Client is the shared outbound HTTP client. It rate limits every request,
// rotates user agents and proxies, and implements repository.PageFetcher.
type Client struct {
	opts    Options
	rotator *Rotator
	limiter *rate.Limiter
	logger  *zap.Logger

	mu         sync.Mutex
	transports map[string]*http.Client
}

var _ repository.PageFetcher = (*Client)(nil)

// NewClient creates a Client. A non-positive rate disables limiting.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
		burst = int(opts.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		opts:       opts,
		rotator:    NewRotator(opts.Proxies, opts.UserAgents),
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
		transports: make(map[string]*http.Client),
	}
}

// httpClient returns a cached client for the given proxy ("" means direct).
func (c *Client) httpClient(proxy string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.transports[proxy]; ok {
		return hc
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		if pu, err := url.Parse(proxy); err == nil {
			tr.Proxy = http.ProxyURL(pu)
		} else {
			c.logger.Warn("ignoring invalid proxy", zap.String("proxy", proxy), zap.Error(err))
		}
	}
	hc := &http.Client{Transport: tr, Timeout: c.opts.Timeout}
	c.transports[proxy] = hc
	return hc
}

// Do waits for the rate limiter, stamps a user agent when the request has none,
// and sends req through the next proxy.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.rotator.UserAgent())
	}
	return c.httpClient(c.rotator.Proxy()).Do(req)
}

// Fetch GETs a page. Non-2xx responses are returned, not treated as errors,
// so callers can detect blocking.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*repository.FetchedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", rawURL, err)
	}

	c.logger.Debug("fetched page",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &repository.FetchedPage{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// GetJSON GETs rawURL with the given headers and decodes a 2xx JSON body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// IsTemporary reports whether err is a StatusError worth retrying.
func IsTemporary(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Temporary()
}
