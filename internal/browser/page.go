// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/squidsec/kalamari/internal/config"
	"github.com/squidsec/kalamari/internal/dom"
	"github.com/squidsec/kalamari/internal/js"
	"github.com/squidsec/kalamari/internal/netkit"
	"github.com/squidsec/kalamari/internal/security"
	"github.com/squidsec/kalamari/internal/xss"
)

// PageState is the page lifecycle.
type PageState int

const (
	StateNew PageState = iota
	StateNavigating
	StateLoaded
	StateScripting
	StateIdle
	StateFailed
)

func (s PageState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNavigating:
		return "navigating"
	case StateLoaded:
		return "loaded"
	case StateScripting:
		return "scripting"
	case StateIdle:
		return "idle"
	default:
		return "failed"
	}
}

// ErrPageFailed marks a navigation that ended in the Failed state. Analysis
// queries stay valid afterwards with empty or partial results.
var ErrPageFailed = errors.New("browser: page navigation failed")

// Page composes the DOM model, JS sandbox, sensor hooks, and timer queue
// into one navigable unit. A page is not safe for concurrent use; the pool
// guarantees exclusive ownership while checked out.
type Page struct {
	cfg     config.PageConfig
	browser *Browser
	logger  *zap.Logger

	state     PageState
	pageURL   *url.URL
	doc       *dom.Document
	sandbox   *js.Sandbox
	sensors   *js.SensorLog
	timers    *js.TimerQueue
	scripts   []security.ScriptSource
	rawCSP    string
	frames    []*Page
	framePath []int
	// frameAncestors carries normalized ancestor URLs for cycle protection.
	frameAncestors []string

	localStorage   map[string]string
	sessionStorage map[string]string
}

func newPage(b *Browser, cfg config.PageConfig, framePath []int) *Page {
	marker := cfg.XSSMarker
	return &Page{
		cfg:            cfg,
		browser:        b,
		logger:         b.logger.Named("page"),
		state:          StateNew,
		sensors:        js.NewSensorLog(marker),
		timers:         js.NewTimerQueue(),
		framePath:      framePath,
		localStorage:   make(map[string]string),
		sessionStorage: make(map[string]string),
	}
}

// State returns the lifecycle state.
func (p *Page) State() PageState { return p.state }

// URL returns the current page URL, nil before the first navigation.
func (p *Page) URL() *url.URL { return p.pageURL }

// Document returns the current DOM, nil before the first successful parse.
func (p *Page) Document() *dom.Document { return p.doc }

// Sensors exposes the page's sensor log.
func (p *Page) Sensors() *js.SensorLog { return p.sensors }

// Timers exposes the page's timer queue.
func (p *Page) Timers() *js.TimerQueue { return p.timers }

// Console returns the sandbox console buffer, nil before scripting.
func (p *Page) Console() []js.ConsoleEntry {
	if p.sandbox == nil {
		return nil
	}
	return p.sandbox.Console()
}

// Scripts returns the script sources collected by the last navigation.
func (p *Page) Scripts() []security.ScriptSource { return p.scripts }

// Frames returns the child frame pages processed by the last navigation.
func (p *Page) Frames() []*Page { return p.frames }

// LocalStorage returns the live storage map for session harvesting.
func (p *Page) LocalStorage() map[string]string { return p.localStorage }

// Navigate loads a URL: request through the interceptor chain, parse into a
// fresh DOM, install sensor hooks into a fresh sandbox, run scripts in
// document order, drain timers, then process frames. Navigation failures
// move the page to Failed; analysis calls keep working with what is there.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	target, err := url.Parse(rawURL)
	if err != nil {
		p.state = StateFailed
		return fmt.Errorf("browser: parse url: %w", err)
	}
	return p.navigate(ctx, target)
}

func (p *Page) navigate(ctx context.Context, target *url.URL) error {
	p.state = StateNavigating
	if p.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.NavigationTimeout)
		defer cancel()
	}

	req := netkit.NewRequest(http.MethodGet, target)
	resp, err := p.browser.chain.Execute(ctx, req)
	if err != nil {
		p.state = StateFailed
		p.logger.Debug("navigation failed", zap.String("url", target.String()), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPageFailed, err)
	}
	p.browser.metrics.RequestIssued(resp.Duration())
	if resp.FinalURL == nil {
		// Fulfilled responses skip the wire and may omit the final URL.
		resp.FinalURL = target
	}
	return p.loadResponse(ctx, resp)
}

// loadResponse parses a response body into the page and runs the scripting
// phase. Used by Navigate and by form submissions that render a result page.
func (p *Page) loadResponse(ctx context.Context, resp *netkit.Response) error {
	finalURL := resp.FinalURL
	if finalURL == nil {
		finalURL = p.pageURL
	}
	p.pageURL = finalURL

	doc, err := dom.Parse(resp.Body, finalURL)
	if err != nil {
		p.state = StateFailed
		return fmt.Errorf("%w: %v", ErrPageFailed, err)
	}
	if resp.Truncated {
		doc.AddWarning("response body truncated at configured maximum")
	}
	p.doc = doc
	p.rawCSP = resp.Headers.Get("Content-Security-Policy")
	if p.rawCSP == "" {
		p.rawCSP = security.ExtractCSPFromHTML(string(resp.Body))
	}
	p.state = StateLoaded

	p.resetSandbox()
	p.state = StateScripting
	p.runScripts(ctx)
	p.drainTimers()
	p.processFrames(ctx)
	p.aggregateFrameTriggers()
	p.state = StateIdle
	return nil
}

// resetSandbox builds a fresh sandbox and installs host bindings and sensor
// hooks before any author script can run. Hooks are installed even with JS
// disabled; author scripts then never execute, so only parser-adjacent
// sinks can record, and those stay unconfirmed.
func (p *Page) resetSandbox() {
	p.timers.Clear()
	p.sandbox = js.NewSandbox(p.logger, p.sensors, p.timers, p.cfg.InstructionBudget)
	if !p.cfg.InjectXSSHooks {
		p.sensors.Disable()
	}
	env := &js.Environment{
		Doc:            p.doc,
		PageURL:        p.pageURL,
		FramePath:      p.framePath,
		LocalStorage:   p.localStorage,
		SessionStorage: p.sessionStorage,
		CookieHeader: func() string {
			return p.browser.jar.HeaderFor(p.pageURL, netkit.SendContext{})
		},
		SetCookie: func(raw string) {
			p.browser.jar.SetFromHeader(p.pageURL, raw)
		},
		RecordRequest: func(method, target string, headers map[string]string) {
			p.recordStubRequest(method, target, headers)
		},
	}
	if err := js.Install(p.sandbox, env, p.logger); err != nil {
		p.logger.Warn("binding installation failed", zap.Error(err))
	}
}

// recordStubRequest logs a fetch/XHR call as a network event without
// letting it transit.
func (p *Page) recordStubRequest(method, target string, headers map[string]string) {
	resolved, err := p.pageURL.Parse(target)
	if err != nil {
		return
	}
	req := netkit.NewRequest(strings.ToUpper(method), resolved)
	for k, v := range headers {
		req.Headers.Add(k, v)
	}
	req.CorrelationID = p.browser.events.NextCorrelationID()
	p.browser.events.Record(netkit.NetworkEvent{
		Request:       req,
		FailureReason: "stubbed: script-initiated request not sent",
	})
}

// runScripts executes inline scripts in document order and fetches external
// ones through the chain in encounter order. Script failures are contained:
// they land in the console buffer and scanning continues.
func (p *Page) runScripts(ctx context.Context) {
	p.scripts = nil
	nodes, _ := p.doc.QueryAll("//script")
	for _, node := range nodes {
		if typ, ok := dom.Attr(node, "type"); ok {
			if t := strings.ToLower(strings.TrimSpace(typ)); t != "" && t != "text/javascript" && t != "module" && t != "application/javascript" {
				continue
			}
		}
		src, hasSrc := dom.Attr(node, "src")
		var source security.ScriptSource
		if hasSrc && src != "" {
			content, ok := p.fetchScript(ctx, src)
			if !ok {
				continue
			}
			resolved, _ := p.doc.BaseURL().Parse(src)
			source = security.ScriptSource{
				Origin:  security.ScriptOrigin{External: resolved.String()},
				Content: content,
				PageURL: p.pageURL.String(),
			}
		} else {
			source = security.ScriptSource{
				Origin:  security.ScriptOrigin{Inline: uint32(p.doc.IDFor(node))},
				Content: p.doc.Text(node),
				PageURL: p.pageURL.String(),
			}
		}
		p.scripts = append(p.scripts, source)

		if !p.cfg.JSEnabled || strings.TrimSpace(source.Content) == "" {
			continue
		}
		if _, err := p.sandbox.Evaluate(source.Content); err != nil {
			if errors.Is(err, js.ErrBudgetExceeded) {
				p.logger.Warn("script exceeded execution budget", zap.String("url", p.pageURL.String()))
			} else {
				p.logger.Debug("script error", zap.Error(err))
			}
		}
	}
	p.browser.metrics.TriggersRecorded(len(p.sensors.Triggers()))
}

func (p *Page) fetchScript(ctx context.Context, src string) (string, bool) {
	resolved, err := p.doc.BaseURL().Parse(src)
	if err != nil {
		return "", false
	}
	req := netkit.NewRequest(http.MethodGet, resolved)
	resp, err := p.browser.chain.Execute(ctx, req)
	if err != nil {
		p.logger.Debug("external script fetch failed", zap.String("src", resolved.String()), zap.Error(err))
		return "", false
	}
	p.browser.metrics.RequestIssued(resp.Duration())
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	return string(resp.Body), true
}

// drainTimers runs the configured flush rounds after the main document's
// scripts complete, bounding each round so intervals cannot loop forever.
func (p *Page) drainTimers() {
	if !p.cfg.JSEnabled {
		return
	}
	for round := 0; round < p.cfg.TimerFlushRounds; round++ {
		batch := p.timers.FlushLimited(p.cfg.FlushBudget)
		if len(batch) == 0 {
			return
		}
		p.sandbox.RunTimers(batch)
	}
}

// WaitForJSIdle flushes timers until none are pending or the context
// deadline elapses.
func (p *Page) WaitForJSIdle(ctx context.Context) {
	if p.sandbox == nil {
		return
	}
	for p.timers.HasPending() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		batch := p.timers.FlushLimited(p.cfg.FlushBudget)
		if len(batch) == 0 {
			return
		}
		p.sandbox.RunTimers(batch)
	}
}

// Triggers returns every sensor observation of this page, frames included.
func (p *Page) Triggers() []js.XssTrigger {
	return p.sensors.Triggers()
}

// AnalyzeXss folds the page's triggers into a verdict. Valid in every
// state, including Failed, where it reports over whatever was recorded.
func (p *Page) AnalyzeXss() xss.Analysis {
	return xss.Analyze(p.Triggers())
}

// TestXssPayload injects a payload via the configured site and re-navigates.
func (p *Page) TestXssPayload(ctx context.Context, payload string, inject xss.InjectSpec) (xss.Analysis, error) {
	if p.pageURL == nil {
		return xss.Analysis{}, fmt.Errorf("browser: page has no URL to inject into")
	}
	switch inject.Site {
	case xss.InjectURLParam:
		target := *p.pageURL
		q := target.Query()
		param := inject.Param
		if param == "" {
			param = "q"
		}
		q.Set(param, payload)
		target.RawQuery = q.Encode()
		if err := p.navigate(ctx, &target); err != nil {
			return p.AnalyzeXss(), err
		}
	case xss.InjectFormField:
		forms := p.Forms()
		if len(forms) == 0 {
			return xss.Analysis{}, fmt.Errorf("browser: no form to inject into")
		}
		form := forms[0]
		form.Set(inject.Param, payload)
		if _, err := p.SubmitForm(ctx, form); err != nil {
			return p.AnalyzeXss(), err
		}
	}
	return p.AnalyzeXss(), nil
}

// Forms returns the forms of the current document.
func (p *Page) Forms() []*dom.Form {
	if p.doc == nil {
		return nil
	}
	return p.doc.Forms()
}

// SubmitForm submits a filled form through the chain and loads the
// resulting document into the page. A harvested CSRF token is reported to
// the auth vault on the way out.
func (p *Page) SubmitForm(ctx context.Context, form *dom.Form) (*netkit.Response, error) {
	if form.Action == nil {
		return nil, fmt.Errorf("browser: form has no resolvable action")
	}
	if form.CSRFField != "" {
		p.browser.vault.RecordCSRFToken(form.CSRFField, form.Get(form.CSRFField))
	}

	var req *netkit.Request
	if form.Method == http.MethodPost {
		req = netkit.NewRequest(http.MethodPost, form.Action)
		req.Body = []byte(form.Encode())
		req.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		target := *form.Action
		target.RawQuery = form.Encode()
		req = netkit.NewRequest(http.MethodGet, &target)
	}

	resp, err := p.browser.chain.Execute(ctx, req)
	if err != nil {
		p.state = StateFailed
		return nil, fmt.Errorf("%w: %v", ErrPageFailed, err)
	}
	p.browser.metrics.RequestIssued(resp.Duration())
	if err := p.loadResponse(ctx, resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// CspAnalysis parses and scores the page's policy, nil when the page
// carries none. The Angular bypass is added when the script analyzer saw
// Angular on the page.
func (p *Page) CspAnalysis() *security.CspAnalysis {
	if p.rawCSP == "" {
		return nil
	}
	analysis := security.AnalyzeCSP(security.ParseCSP(p.rawCSP))
	if p.ScriptAnalysis().Framework == security.FrameworkAngular {
		analysis.NoteAngular()
	}
	return analysis
}

// ScriptAnalysis runs the static analyzer over the collected scripts.
func (p *Page) ScriptAnalysis() *security.ScriptAnalysis {
	return security.NewScriptAnalyzer().AnalyzeAll(p.scripts)
}

// SriViolations audits subresource integrity of the current document.
func (p *Page) SriViolations() []security.SriViolation {
	if p.doc == nil || p.pageURL == nil {
		return nil
	}
	return security.AuditSRI(p.doc, p.pageURL)
}

// ClobberCandidates sweeps the document for DOM-clobbering pivots.
func (p *Page) ClobberCandidates() []security.ClobberCandidate {
	if p.doc == nil {
		return nil
	}
	return security.FindClobberCandidates(p.doc)
}

// Links returns the document's resolved http and https links with fragments
// stripped, for crawling; javascript: and bare-fragment hrefs are skipped.
func (p *Page) Links() []*url.URL {
	if p.doc == nil || p.doc.BaseURL() == nil {
		return nil
	}
	nodes, _ := p.doc.QueryAll("//a[@href]")
	var out []*url.URL
	for _, n := range nodes {
		href, _ := dom.Attr(n, "href")
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
			continue
		}
		resolved, err := p.doc.BaseURL().Parse(href)
		if err != nil {
			continue
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		resolved.Fragment = ""
		out = append(out, resolved)
	}
	return out
}

// Reset clears per-page mutable state for pool reuse. The warm sandbox is
// rebuilt lazily on the next navigation.
func (p *Page) Reset() {
	p.state = StateNew
	p.pageURL = nil
	p.doc = nil
	p.scripts = nil
	p.rawCSP = ""
	p.frames = nil
	p.frameAncestors = nil
	p.sensors.Reset()
	p.timers.Clear()
	if p.sandbox != nil {
		p.sandbox.ClearConsole()
	}
	p.localStorage = make(map[string]string)
	p.sessionStorage = make(map[string]string)
}

// --- frame handling ---

// processFrames walks iframe elements recursively to the configured depth.
// Each frame is a distinct page sharing the browser's jar and chain; hooks
// are re-installed per frame. A frame whose URL equals any ancestor's is
// skipped.
func (p *Page) processFrames(ctx context.Context) {
	depth := len(p.framePath)
	if p.doc == nil || depth >= p.cfg.MaxIframeDepth {
		return
	}
	self := normalizeURL(p.pageURL)
	ancestors := append(append([]string{}, p.frameAncestors...), self)

	nodes, _ := p.doc.QueryAll("//iframe[@src]")
	for i, node := range nodes {
		src, _ := dom.Attr(node, "src")
		resolved, err := p.doc.BaseURL().Parse(src)
		if err != nil || (resolved.Scheme != "http" && resolved.Scheme != "https") {
			continue
		}
		frameURL := normalizeURL(resolved)
		if containsString(ancestors, frameURL) {
			p.logger.Debug("skipping frame cycle", zap.String("url", frameURL))
			continue
		}

		frameCfg := p.cfg
		child := p.browser.newPageWithConfig(frameCfg, append(append([]int{}, p.framePath...), i))
		child.frameAncestors = ancestors
		if err := child.navigate(ctx, resolved); err != nil {
			p.logger.Debug("frame navigation failed", zap.String("url", frameURL), zap.Error(err))
			continue
		}
		p.frames = append(p.frames, child)
	}
}

// aggregateFrameTriggers folds child-frame observations into this page's
// sensor log; frame paths recorded by the children already locate them.
func (p *Page) aggregateFrameTriggers() {
	for _, frame := range p.frames {
		p.sensors.Absorb(frame.sensors)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
