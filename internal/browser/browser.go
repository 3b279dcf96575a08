// internal/browser/browser.go
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/squidsec/kalamari/internal/config"
	"github.com/squidsec/kalamari/internal/dom"
	"github.com/squidsec/kalamari/internal/js"
	"github.com/squidsec/kalamari/internal/netkit"
)

// Browser owns the network state shared by its pages: cookie jar,
// interceptor chain, event log, auth vault, and metrics. Browsers never
// share jars; pools of browsers therefore cannot interfere through cookies
// or auth tokens.
type Browser struct {
	cfg     config.BrowserConfig
	pageCfg config.PageConfig

	client   *netkit.Client
	jar      *netkit.CookieJar
	chain    *netkit.Chain
	events   *netkit.EventLog
	vault    *netkit.AuthVault
	injector *netkit.AuthHeaderInjector
	metrics  *Metrics
	logger   *zap.Logger

	// authMu guards the browser-scoped auth token; it is deliberately not a
	// process global so multiple browsers stay independent.
	authMu    sync.Mutex
	authToken string
}

// NewBrowser validates the configuration and assembles the shared state.
// The interceptor registration order is fixed: rate limiter (when
// configured), auth injector, auth vault, then the event recorder last so
// it observes the final pre-wire request.
func NewBrowser(cfg config.BrowserConfig, pageCfg config.PageConfig, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	full := config.Config{Browser: cfg, Page: pageCfg, Logger: config.LoggerConfig{Format: "json"}, Crawl: config.CrawlConfig{}}
	if err := full.Validate(); err != nil {
		return nil, err
	}

	jar := netkit.NewCookieJar()
	clientCfg := &netkit.ClientConfig{
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.DefaultTimeout,
		MaxRedirects:   cfg.MaxRedirects,
		MaxBodySize:    cfg.MaxBodySize,
		VerifyTLS:      cfg.VerifyTLS,
		Logger:         logger,
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("browser: invalid proxy: %w", err)
		}
		clientCfg.ProxyURL = proxyURL
	}

	events := netkit.NewEventLog(cfg.MaxNetworkEvents)
	client := netkit.NewClient(clientCfg, jar)
	chain := netkit.NewChain(client, events, logger)

	b := &Browser{
		cfg:       cfg,
		pageCfg:   pageCfg,
		client:    client,
		jar:       jar,
		chain:     chain,
		events:    events,
		vault:     netkit.NewAuthVault(),
		injector:  netkit.NewAuthHeaderInjector(cfg.AuthToken),
		metrics:   NewMetrics(),
		logger:    logger.Named("browser"),
		authToken: cfg.AuthToken,
	}

	if cfg.RequestsPerSecond > 0 {
		chain.Register(netkit.NewRateLimitInterceptor(cfg.RequestsPerSecond, 1))
	}
	chain.Register(b.injector)
	chain.Register(b.vault)
	chain.Register(netkit.NewEventRecorder(events))
	return b, nil
}

// NewForScanning builds a browser from the security-scanning preset.
func NewForScanning(logger *zap.Logger) (*Browser, error) {
	cfg := config.SecurityScanning()
	return NewBrowser(cfg.Browser, cfg.Page, logger)
}

// Jar returns the browser's cookie jar.
func (b *Browser) Jar() *netkit.CookieJar { return b.jar }

// Chain returns the shared interceptor chain.
func (b *Browser) Chain() *netkit.Chain { return b.chain }

// Events returns the shared network event log.
func (b *Browser) Events() *netkit.EventLog { return b.events }

// Metrics returns the shared counters.
func (b *Browser) Metrics() *Metrics { return b.metrics }

// PageConfig returns the default page configuration.
func (b *Browser) PageConfig() config.PageConfig { return b.pageCfg }

// SetAuthToken swaps the bearer token injected into every request.
func (b *Browser) SetAuthToken(token string) {
	b.authMu.Lock()
	b.authToken = token
	b.authMu.Unlock()
	b.injector.SetBearer(token)
}

// AuthToken returns the current bearer token.
func (b *Browser) AuthToken() string {
	b.authMu.Lock()
	defer b.authMu.Unlock()
	return b.authToken
}

// Session assembles the derived auth snapshot from the vault, jar, and the
// union of page-local storage the caller supplies.
func (b *Browser) Session(localStorage map[string]string) netkit.AuthSession {
	return b.vault.Session(b.jar, localStorage)
}

// NewPage opens a page bound to this browser's shared state.
func (b *Browser) NewPage() *Page {
	return b.newPageWithConfig(b.pageCfg, nil)
}

// NewPageWithMarker opens a page whose sensor log confirms on the given
// marker.
func (b *Browser) NewPageWithMarker(marker string) *Page {
	cfg := b.pageCfg
	cfg.XSSMarker = marker
	return b.newPageWithConfig(cfg, nil)
}

func (b *Browser) newPageWithConfig(cfg config.PageConfig, framePath []int) *Page {
	b.metrics.PageOpened()
	return newPage(b, cfg, framePath)
}

// --- stored-XSS page driver ---

// SubmitField implements the stored-XSS submission step: load postURL, pick
// the form carrying the field (first form as fallback), fill, and submit
// through the form subsystem so a CSRF token rides along.
func (b *Browser) SubmitField(ctx context.Context, postURL, field, value string, extra map[string]string) error {
	page := b.NewPage()
	if err := page.Navigate(ctx, postURL); err != nil {
		return fmt.Errorf("browser: load form page: %w", err)
	}
	forms := page.Forms()
	if len(forms) == 0 {
		return fmt.Errorf("browser: no form found at %s", postURL)
	}
	form := forms[0]
	for _, f := range forms {
		if formHasField(f, field) {
			form = f
			break
		}
	}
	form.Set(field, value)
	for k, v := range extra {
		form.Set(k, v)
	}
	if _, err := page.SubmitForm(ctx, form); err != nil {
		return fmt.Errorf("browser: submit form: %w", err)
	}
	return nil
}

// CollectTriggers implements the stored-XSS reflect step: a fresh page with
// fresh hooks and the test marker, navigated and drained.
func (b *Browser) CollectTriggers(ctx context.Context, pageURL, marker string) ([]js.XssTrigger, string, error) {
	page := b.NewPageWithMarker(marker)
	if err := page.Navigate(ctx, pageURL); err != nil {
		return nil, "", err
	}
	page.WaitForJSIdle(ctx)
	source := ""
	if page.Document() != nil {
		source = page.Document().HTML()
	}
	return page.Triggers(), source, nil
}

func formHasField(f *dom.Form, name string) bool {
	for _, field := range f.Fields {
		if field.Name == name {
			return true
		}
	}
	return false
}

// normalizeURL strips fragments so ancestor-cycle checks compare page
// identity the way the frame handler needs.
func normalizeURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	return strings.TrimSuffix(c.String(), "/")
}
