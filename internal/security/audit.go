// internal/security/audit.go
package security

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/squidsec/kalamari/internal/dom"
)

// SriViolation is a subresource loaded cross-origin without an integrity
// attribute, or with one too weak to matter.
type SriViolation struct {
	ResourceURL  string `json:"resource_url"`
	ResourceType string `json:"resource_type"`
	Reason       string `json:"reason"`
}

// AuditSRI walks script and stylesheet references and flags cross-origin
// loads that carry no integrity hash.
func AuditSRI(doc *dom.Document, pageURL *url.URL) []SriViolation {
	var out []SriViolation
	check := func(n *html.Node, attr, kind string) {
		ref, ok := dom.Attr(n, attr)
		if !ok || ref == "" {
			return
		}
		resolved, err := pageURL.Parse(ref)
		if err != nil || resolved.Host == "" || resolved.Host == pageURL.Host {
			return
		}
		if integrity, ok := dom.Attr(n, "integrity"); ok && integrity != "" {
			if !strings.HasPrefix(integrity, "sha256-") &&
				!strings.HasPrefix(integrity, "sha384-") &&
				!strings.HasPrefix(integrity, "sha512-") {
				out = append(out, SriViolation{ResourceURL: resolved.String(), ResourceType: kind, Reason: "weak integrity algorithm"})
			}
			return
		}
		out = append(out, SriViolation{ResourceURL: resolved.String(), ResourceType: kind, Reason: "cross-origin resource without integrity"})
	}

	for _, n := range doc.ElementsByTag("script") {
		check(n, "src", "script")
	}
	links, _ := doc.QueryAll("//link[@rel='stylesheet']")
	for _, n := range links {
		check(n, "href", "stylesheet")
	}
	return out
}

// clobberTargets are document/window properties that a named element
// shadows, the classic DOM-clobbering pivot.
var clobberTargets = map[string]string{
	"location": "navigation hijack",
	"cookie":   "cookie accessor shadowing",
	"domain":   "document.domain shadowing",
	"forms":    "forms collection shadowing",
	"body":     "document.body shadowing",
	"head":     "document.head shadowing",
	"write":    "document.write shadowing",
	"origin":   "origin spoofing",
	"top":      "frame-reference shadowing",
	"parent":   "frame-reference shadowing",
	"opener":   "opener shadowing",
	"self":     "self-reference shadowing",
}

// ClobberCandidate is an element whose id or name collides with a sensitive
// global.
type ClobberCandidate struct {
	Tag        string `json:"tag"`
	Identifier string `json:"identifier"`
	Clobbers   string `json:"clobbers"`
	Impact     string `json:"impact"`
}

// FindClobberCandidates sweeps the document for id/name attributes that
// shadow document or window properties. Only tags browsers actually expose
// as named properties count.
func FindClobberCandidates(doc *dom.Document) []ClobberCandidate {
	nodes, _ := doc.QueryAll("//a[@id or @name] | //form[@id or @name] | //img[@id or @name] | //iframe[@id or @name] | //embed[@id or @name] | //object[@id or @name] | //input[@id or @name]")
	var out []ClobberCandidate
	for _, n := range nodes {
		for _, attr := range []string{"id", "name"} {
			ident, ok := dom.Attr(n, attr)
			if !ok {
				continue
			}
			if impact, sensitive := clobberTargets[strings.ToLower(ident)]; sensitive {
				out = append(out, ClobberCandidate{
					Tag:        n.Data,
					Identifier: ident,
					Clobbers:   ident,
					Impact:     impact,
				})
			}
		}
	}
	return out
}
