package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Error is the error envelope ArcGIS services return with a 200 status.
type Error struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("arcgis: %d %s", e.Code, e.Message)
}

// Client issues rate-limited requests against ArcGIS REST endpoints.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	token      string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout. A client passed with
// WithHTTPClient is copied, not modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(rps int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
}

// WithToken attaches a token to every request that does not carry one.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NewClient creates a client with a 30s timeout and 20 requests per second.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    30 * time.Second,
		limiter:    rate.NewLimiter(rate.Limit(20), 20),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 && c.httpClient.Timeout != c.timeout {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("f", "json")
	if c.token != "" && params.Get("token") == "" {
		params.Set("token", c.token)
	}
	return c.do(ctx, endpoint, params, out)
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "arcgis: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "arcgis: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "arcgis: request %s", endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "arcgis: read body")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("arcgis: HTTP %d from %s", resp.StatusCode, endpoint)
	}

	var envelope struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		zap.L().Debug("arcgis: service error", zap.String("url", endpoint), zap.Int("code", envelope.Error.Code))
		return eris.Wrapf(envelope.Error, "arcgis: %s", endpoint)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "arcgis: decode response")
	}
	return nil
}
