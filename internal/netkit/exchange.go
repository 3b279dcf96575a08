// internal/netkit/exchange.go
package netkit

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HeaderField is a single header name/value pair. Requests and responses
// carry headers as an ordered multimap so that rewrites performed by
// interceptors preserve wire order.
type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered header multimap with case-insensitive lookup.
type Headers []HeaderField

// Get returns the first value for the given name, or "".
func (h Headers) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns all values for the given name in order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Add appends a field, preserving any existing fields of the same name.
func (h *Headers) Add(name, value string) {
	*h = append(*h, HeaderField{Name: name, Value: value})
}

// Set replaces every field of the given name with a single value.
func (h *Headers) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes all fields with the given name.
func (h *Headers) Del(name string) {
	kept := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	*h = kept
}

// Clone returns a deep copy.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// ToHTTP converts to a net/http header map. Values of one name keep their
// order; the order across names is lost.
func (h Headers) ToHTTP() http.Header {
	out := make(http.Header, len(h))
	for _, f := range h {
		out.Add(f.Name, f.Value)
	}
	return out
}

// HeadersFromHTTP flattens a net/http header map into the ordered form.
func HeadersFromHTTP(src http.Header) Headers {
	var out Headers
	for name, values := range src {
		for _, v := range values {
			out = append(out, HeaderField{Name: name, Value: v})
		}
	}
	return out
}

// Request is a single outbound HTTP request. It is mutable while it travels
// through the interceptor chain and must be treated as immutable once the
// chain has released it.
type Request struct {
	Method        string
	URL           *url.URL
	Headers       Headers
	Body          []byte
	CorrelationID uint64
}

// NewRequest builds a request with the given method for the given URL.
func NewRequest(method string, u *url.URL) *Request {
	return &Request{Method: method, URL: u}
}

// Clone deep-copies the request so a rewrite cannot alias the original.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := &Request{
		Method:        r.Method,
		Headers:       r.Headers.Clone(),
		CorrelationID: r.CorrelationID,
	}
	if r.URL != nil {
		u := *r.URL
		clone.URL = &u
	}
	if r.Body != nil {
		clone.Body = make([]byte, len(r.Body))
		copy(clone.Body, r.Body)
	}
	return clone
}

// Response is a single inbound HTTP response paired with its request by
// correlation id.
type Response struct {
	StatusCode    int
	Headers       Headers
	Body          []byte
	Start         time.Time
	End           time.Time
	CorrelationID uint64
	// FinalURL is the URL the response was served from after redirects.
	FinalURL *url.URL
	// Truncated marks a body cut at the configured size cap.
	Truncated bool
}

// Duration reports the wall time spent on the wire.
func (r *Response) Duration() time.Duration {
	if r.Start.IsZero() || r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Clone deep-copies the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	clone := &Response{
		StatusCode:    r.StatusCode,
		Headers:       r.Headers.Clone(),
		Start:         r.Start,
		End:           r.End,
		CorrelationID: r.CorrelationID,
		Truncated:     r.Truncated,
	}
	if r.FinalURL != nil {
		u := *r.FinalURL
		clone.FinalURL = &u
	}
	if r.Body != nil {
		clone.Body = make([]byte, len(r.Body))
		copy(clone.Body, r.Body)
	}
	return clone
}

// ContentType returns the media type of the response body without parameters.
func (r *Response) ContentType() string {
	ct := r.Headers.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

// IsHTML reports whether the response body should be parsed as a document.
func (r *Response) IsHTML() bool {
	ct := r.ContentType()
	return ct == "" || ct == "text/html" || ct == "application/xhtml+xml"
}
