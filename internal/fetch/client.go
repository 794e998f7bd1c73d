// Package fetch provides the shared HTTP session source adapters crawl
// through: one rate limiter and one client configuration for all outbound
// requests.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimit is the outbound requests-per-second budget.
	DefaultRateLimit = 1.0
	// DefaultBurst is the default limiter burst size.
	DefaultBurst = 1
	// DefaultUserAgent mimics a desktop browser; some sources refuse the Go
	// default agent.
	DefaultUserAgent = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:73.0) Gecko/20100101 Firefox/73.0"
)

// ErrBadStatus is returned for responses outside the 2xx range.
var ErrBadStatus = errors.New("unexpected response status")

// Client is a rate-limited HTTP session.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the outbound requests-per-second budget and burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUserAgent sets the User-Agent sent when a request declares none.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultBurst),
		userAgent:  DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do waits for the rate limiter, applies default headers, and performs the
// request.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// Get performs a GET request with the extra headers applied.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return c.Do(ctx, req)
}

// GetJSON performs a GET request and decodes a 2xx JSON response into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, header http.Header, v any) error {
	resp, err := c.Get(ctx, rawURL, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, rawURL); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}

// GetDocument performs a GET request and parses a 2xx HTML response.
// Non-breaking spaces are normalized to plain spaces before parsing.
func (c *Client) GetDocument(ctx context.Context, rawURL string, header http.Header) (*goquery.Document, error) {
	resp, err := c.Get(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, rawURL); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", rawURL, err)
	}
	html := strings.ReplaceAll(string(body), " ", " ")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse response from %s: %w", rawURL, err)
	}
	return doc, nil
}

func checkStatus(resp *http.Response, rawURL string) error {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %d from %s", ErrBadStatus, resp.StatusCode, rawURL)
	}
	return nil
}
