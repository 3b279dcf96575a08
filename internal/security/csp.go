// internal/security/csp.go
package security

import (
	"regexp"
	"strings"
)

// CspDirective is one parsed directive: name plus ordered source expressions.
type CspDirective struct {
	Name    string   `json:"name"`
	Sources []string `json:"sources"`
}

// CspPolicy is a parsed Content-Security-Policy header or meta tag.
type CspPolicy struct {
	Raw        string         `json:"raw"`
	Directives []CspDirective `json:"directives"`
	// Warnings collects parse oddities; a malformed policy still yields a
	// best-effort partial parse.
	Warnings []string `json:"warnings,omitempty"`
}

// Sources returns the source list for a directive name, or nil.
func (p *CspPolicy) Sources(name string) []string {
	for _, d := range p.Directives {
		if d.Name == name {
			return d.Sources
		}
	}
	return nil
}

// Has reports whether a directive is present at all.
func (p *CspPolicy) Has(name string) bool {
	for _, d := range p.Directives {
		if d.Name == name {
			return true
		}
	}
	return false
}

// scriptSources resolves the effective script source list: script-src, else
// default-src, else nil (everything allowed).
func (p *CspPolicy) scriptSources() []string {
	if s := p.Sources("script-src"); s != nil {
		return s
	}
	return p.Sources("default-src")
}

// BypassKind enumerates CSP weaknesses that enable script execution despite
// the policy's stated intent.
type BypassKind string

const (
	BypassUnsafeInline     BypassKind = "UnsafeInline"
	BypassUnsafeEval       BypassKind = "UnsafeEval"
	BypassWildcardHost     BypassKind = "WildcardHost"
	BypassDataURI          BypassKind = "DataUri"
	BypassJsonpEndpoint    BypassKind = "JsonpEndpoint"
	BypassAngularTemplate  BypassKind = "AngularTemplate"
	BypassMissingObjectSrc BypassKind = "MissingObjectSrc"
)

// CspBypass is one identified weakness with a human-readable description.
type CspBypass struct {
	Kind        BypassKind `json:"kind"`
	Description string     `json:"description"`
}

// CspAnalysis is the scored verdict over a parsed policy.
type CspAnalysis struct {
	Policy         *CspPolicy  `json:"-"`
	BlocksInline   bool        `json:"blocks_inline"`
	BlocksEval     bool        `json:"blocks_eval"`
	AllowsWildcard bool        `json:"allows_wildcard"`
	AllowsDataURI  bool        `json:"allows_data_uri"`
	NonceSources   []string    `json:"nonce_sources,omitempty"`
	HashSources    []string    `json:"hash_sources,omitempty"`
	SecurityScore  int         `json:"score"`
	Bypasses       []CspBypass `json:"bypasses"`
}

// jsonpHosts are CDN hosts known to expose JSONP or Angular bundles that
// defeat an allowlist-based policy.
var jsonpHosts = []string{
	"cdnjs.cloudflare.com",
	"cdn.jsdelivr.net",
	"unpkg.com",
	"ajax.googleapis.com",
	"code.jquery.com",
	"stackpath.bootstrapcdn.com",
	"maxcdn.bootstrapcdn.com",
}

var (
	nonceSource = regexp.MustCompile(`^'nonce-[^']+'$`)
	hashSource  = regexp.MustCompile(`^'sha(256|384|512)-[^']+'$`)
)

// ParseCSP splits a raw policy into directives. Parsing is tolerant:
// duplicate directives keep the first occurrence (matching browser
// behavior) and record a warning; empty directives are skipped.
func ParseCSP(raw string) *CspPolicy {
	policy := &CspPolicy{Raw: raw}
	seen := map[string]bool{}
	for _, chunk := range strings.Split(raw, ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		parts := strings.Fields(chunk)
		name := strings.ToLower(parts[0])
		if seen[name] {
			policy.Warnings = append(policy.Warnings, "duplicate directive ignored: "+name)
			continue
		}
		seen[name] = true
		policy.Directives = append(policy.Directives, CspDirective{Name: name, Sources: parts[1:]})
	}
	return policy
}

// csp meta extraction pattern, case-insensitive on the http-equiv value.
var cspMetaRe = regexp.MustCompile(`(?i)<meta[^>]+http-equiv\s*=\s*["']content-security-policy["'][^>]+content\s*=\s*(?:"([^"]*)"|'([^']*)')`)

// ExtractCSPFromHTML pulls a policy out of a meta tag, or "".
func ExtractCSPFromHTML(htmlText string) string {
	if m := cspMetaRe.FindStringSubmatch(htmlText); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	return ""
}

// AnalyzeCSP computes the scored analysis of a parsed policy.
//
// Scoring: start at 100; subtract 25 for each of inline allowed, eval
// allowed, wildcard source, data: allowed; subtract 10 when neither
// object-src nor a default-src fallback restricts plugin content; floor 0.
func AnalyzeCSP(policy *CspPolicy) *CspAnalysis {
	a := &CspAnalysis{Policy: policy}
	scripts := policy.scriptSources()

	for _, s := range scripts {
		switch {
		case nonceSource.MatchString(s):
			a.NonceSources = append(a.NonceSources, s)
		case hashSource.MatchString(s):
			a.HashSources = append(a.HashSources, s)
		}
	}

	hasUnsafeInline := containsSource(scripts, "'unsafe-inline'")
	hasUnsafeEval := containsSource(scripts, "'unsafe-eval'")

	// A nonce or hash neutralizes unsafe-inline in CSP2+ browsers.
	a.BlocksInline = scripts != nil && (!hasUnsafeInline || len(a.NonceSources) > 0 || len(a.HashSources) > 0)
	a.BlocksEval = !hasUnsafeEval

	for _, s := range scripts {
		switch strings.ToLower(s) {
		case "*", "http:", "https:":
			a.AllowsWildcard = true
		case "data:":
			a.AllowsDataURI = true
		}
	}

	score := 100
	if !a.BlocksInline || scripts == nil {
		score -= 25
		a.addBypass(BypassUnsafeInline, "unsafe-inline allows arbitrary inline scripts")
	}
	if !a.BlocksEval {
		score -= 25
		a.addBypass(BypassUnsafeEval, "unsafe-eval allows eval() and the Function constructor")
	}
	if a.AllowsWildcard {
		score -= 25
		a.addBypass(BypassWildcardHost, "wildcard source allows scripts from many origins")
	}
	if a.AllowsDataURI {
		score -= 25
		a.addBypass(BypassDataURI, "data: URIs can carry injected scripts")
	}

	// object-src falls back to default-src; only a policy with neither is
	// penalized for unrestricted plugin content.
	objects := policy.Sources("object-src")
	if objects == nil && !policy.Has("default-src") {
		score -= 10
		a.addBypass(BypassMissingObjectSrc, "object-src unrestricted, plugin content can execute")
	} else if objects != nil && !containsSource(objects, "'none'") && !policy.Has("default-src") {
		score -= 10
		a.addBypass(BypassMissingObjectSrc, "object-src present but not 'none'")
	}

	for _, s := range scripts {
		for _, host := range jsonpHosts {
			if strings.Contains(strings.ToLower(s), host) {
				a.addBypass(BypassJsonpEndpoint, "allowlisted CDN "+host+" exposes JSONP/legacy bundles")
			}
		}
	}

	if score < 0 {
		score = 0
	}
	a.SecurityScore = score
	return a
}

// NoteAngular adds the Angular template bypass when the page runs Angular
// and eval is permitted; the script analyzer supplies the framework signal.
func (a *CspAnalysis) NoteAngular() {
	if !a.BlocksEval {
		a.addBypass(BypassAngularTemplate, "unsafe-eval with Angular enables template-injection execution")
	}
}

func (a *CspAnalysis) addBypass(kind BypassKind, description string) {
	for _, b := range a.Bypasses {
		if b.Kind == kind {
			return
		}
	}
	a.Bypasses = append(a.Bypasses, CspBypass{Kind: kind, Description: description})
}

func containsSource(sources []string, want string) bool {
	for _, s := range sources {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
