package session

import (
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"coursearchiver/internal/metrics"
)

// Config holds session settings.
type Config struct {
	UserAgent         string
	AcceptLanguage    string
	RequestsPerSecond float64 // 0 disables pacing
	Burst             int
}

// Client implements ports.HTTPDoer. It is the single authenticated session:
// one cookie jar, one set of default headers and one rate limiter shared by
// every component.
type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	headers http.Header
	logger  hclog.Logger
	metrics *metrics.Metrics
}

// New creates a Client with an empty cookie jar.
func New(cfg Config, logger hclog.Logger, m *metrics.Metrics) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}

	headers := http.Header{}
	if cfg.UserAgent != "" {
		headers.Set("User-Agent", cfg.UserAgent)
	}
	if cfg.AcceptLanguage != "" {
		headers.Set("Accept-Language", cfg.AcceptLanguage)
	}

	return &Client{
		// Requests are bounded by their own contexts only.
		client:  &http.Client{Jar: jar},
		limiter: limiter,
		headers: headers,
		logger:  logger.Named("session"),
		metrics: m,
	}, nil
}

// Do sends req after waiting for the rate limiter. Default headers fill in
// whatever the caller did not set, and gzip or zstd bodies are decoded
// transparently.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}
	// Byte ranges must address the stored representation, so only ask for
	// compression on full-body requests.
	if req.Header.Get("Range") == "" && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, zstd")
	}

	c.logger.Trace("request", "method", req.Method, "url", req.URL.String())
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(req.Method, 0)
		return nil, err
	}
	c.metrics.ObserveRequest(req.Method, resp.StatusCode)

	if err := decodeBody(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to decode %s response from %s: %w",
			resp.Header.Get("Content-Encoding"), req.URL.Redacted(), err)
	}
	return resp, nil
}

// Cookie returns the value of the named cookie the jar would send to u.
func (c *Client) Cookie(u *url.URL, name string) string {
	for _, ck := range c.client.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// SetCookies seeds the jar, e.g. with cookies exported from a browser.
func (c *Client) SetCookies(u *url.URL, cookies []*http.Cookie) {
	c.client.Jar.SetCookies(u, cookies)
}

func decodeBody(resp *http.Response) error {
	var (
		r   io.Reader
		cls func() error
	)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		r, cls = zr, zr.Close
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return err
		}
		r, cls = zr, func() error { zr.Close(); return nil }
	default:
		return nil
	}

	resp.Body = &decodedBody{Reader: r, decoder: cls, raw: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

type decodedBody struct {
	io.Reader
	decoder func() error
	raw     io.ReadCloser
}

func (b *decodedBody) Close() error {
	derr := b.decoder()
	if err := b.raw.Close(); err != nil {
		return err
	}
	return derr
}
