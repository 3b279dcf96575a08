// internal/netkit/client.go
package netkit

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Transport defaults tuned for scanning rather than browsing: shorter dial
// timeouts, generous per-host connection reuse.
const (
	DefaultDialTimeout           = 15 * time.Second
	DefaultKeepAliveInterval     = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultRequestTimeout        = 60 * time.Second

	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second

	// DefaultMaxRedirects caps how many hops a navigation follows.
	DefaultMaxRedirects = 10

	// DefaultMaxBodySize caps how much of a response body is read. Larger
	// bodies are truncated and flagged on the response.
	DefaultMaxBodySize = 10 << 20
)

// ClientConfig configures the HTTP facade.
type ClientConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxRedirects   int
	MaxBodySize    int64
	VerifyTLS      bool
	ProxyURL       *url.URL
	TLSConfig      *tls.Config
	Logger         *zap.Logger
}

// NewClientConfig returns the defaults used when the caller supplies nothing.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		UserAgent:      "kalamari/1.0",
		RequestTimeout: DefaultRequestTimeout,
		MaxRedirects:   DefaultMaxRedirects,
		MaxBodySize:    DefaultMaxBodySize,
		VerifyTLS:      true,
	}
}

// Client issues requests and pairs them with raw responses. It follows
// redirects itself so the cookie jar observes every hop.
type Client struct {
	cfg    *ClientConfig
	jar    *CookieJar
	client *http.Client
	logger *zap.Logger
}

// NewClient wires the facade to a jar. A nil config uses defaults.
func NewClient(cfg *ClientConfig, jar *CookieJar) *Client {
	if cfg == nil {
		cfg = NewClientConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if jar == nil {
		jar = NewCookieJar()
	}

	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	tlsConfig = tlsConfig.Clone()
	tlsConfig.InsecureSkipVerify = !cfg.VerifyTLS

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAliveInterval,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		ForceAttemptHTTP2:     true,
	}
	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	}

	return &Client{
		cfg: cfg,
		jar: jar,
		client: &http.Client{
			Transport: transport,
			// Redirects are followed manually in Do.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: cfg.RequestTimeout,
		},
		logger: logger.Named("netkit"),
	}
}

// Jar exposes the cookie jar backing this client.
func (c *Client) Jar() *CookieJar { return c.jar }

// Do performs the exchange, following up to MaxRedirects hops. Set-Cookie
// headers of every hop land in the jar; the returned response belongs to the
// final hop, with timing spanning the whole chain.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("netkit: request has no URL")
	}

	start := time.Now()
	current := req.Clone()
	origin := registrableDomain(req.URL.Hostname())

	var resp *Response
	for hop := 0; ; hop++ {
		crossSite := registrableDomain(current.URL.Hostname()) != origin
		wire, err := c.doOnce(ctx, current, SendContext{CrossSite: crossSite})
		if err != nil {
			return nil, err
		}
		resp = wire

		location := wire.Headers.Get("Location")
		if !isRedirect(wire.StatusCode) || location == "" {
			break
		}
		if hop >= c.cfg.MaxRedirects {
			return nil, fmt.Errorf("netkit: stopped after %d redirects", c.cfg.MaxRedirects)
		}
		next, err := current.URL.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("netkit: bad redirect target %q: %w", location, err)
		}
		method := current.Method
		body := current.Body
		// 303, and 301/302 for POST, downgrade to GET per RFC 9110.
		if wire.StatusCode == http.StatusSeeOther ||
			((wire.StatusCode == http.StatusMovedPermanently || wire.StatusCode == http.StatusFound) && method == http.MethodPost) {
			method = http.MethodGet
			body = nil
		}
		redirected := &Request{
			Method:        method,
			URL:           next,
			Headers:       current.Headers.Clone(),
			Body:          body,
			CorrelationID: current.CorrelationID,
		}
		redirected.Headers.Del("Cookie")
		redirected.Headers.Del("Content-Length")
		current = redirected
	}

	resp.Start = start
	resp.End = time.Now()
	resp.CorrelationID = req.CorrelationID
	resp.FinalURL = current.URL
	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, req *Request, sctx SendContext) (*Response, error) {
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("netkit: build request: %w", err)
	}
	for _, f := range req.Headers {
		httpReq.Header.Add(f.Name, f.Value)
	}
	if httpReq.Header.Get("User-Agent") == "" && c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if cookie := c.jar.HeaderFor(req.URL, sctx); cookie != "" {
		httpReq.Header.Set("Cookie", cookie)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	limit := c.cfg.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("netkit: read body: %w", err)
	}
	truncated := false
	if int64(len(body)) > limit {
		body = body[:limit]
		truncated = true
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    HeadersFromHTTP(httpResp.Header),
		Body:       body,
		FinalURL:   req.URL,
	}
	if truncated {
		resp.Truncated = true
		c.logger.Warn("response body truncated",
			zap.String("url", req.URL.String()),
			zap.Int64("limit", limit))
	}
	c.jar.SetFromResponse(req.URL, resp)
	return resp, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// registrableDomain approximates the site of a host for same-site checks:
// the last two labels, or the host itself when shorter.
func registrableDomain(host string) string {
	host = strings.ToLower(host)
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
