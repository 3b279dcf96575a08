// internal/netkit/cookiejar.go
package netkit

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// SameSite is the cookie same-site policy.
type SameSite int

const (
	SameSiteLax SameSite = iota
	SameSiteStrict
	SameSiteNone
)

func (s SameSite) String() string {
	switch s {
	case SameSiteStrict:
		return "Strict"
	case SameSiteNone:
		return "None"
	default:
		return "Lax"
	}
}

// Cookie is a single stored cookie. At most one live cookie exists per
// (domain, path, name) triple.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	Secure   bool
	HTTPOnly bool
	SameSite SameSite
	// HostOnly is set when the Set-Cookie carried no Domain attribute; the
	// cookie then matches the origin host exactly, never subdomains.
	HostOnly bool
}

// Expired reports whether the cookie is past its expiry.
func (c *Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && now.After(c.Expires)
}

// SendContext describes the navigation a cookie header is being built for.
type SendContext struct {
	// CrossSite is true when the navigation's initiator origin differs from
	// the target's registrable domain (top-level cross-site navigation).
	CrossSite bool
}

// CookieJar is a domain/path-scoped cookie store shared by all pages of one
// browser. Browsers never share jars.
type CookieJar struct {
	mu      sync.Mutex
	cookies map[string]Cookie // key: domain \x00 path \x00 name
	now     func() time.Time
}

// NewCookieJar creates an empty jar.
func NewCookieJar() *CookieJar {
	return &CookieJar{cookies: make(map[string]Cookie), now: time.Now}
}

func jarKey(domain, path, name string) string {
	return domain + "\x00" + path + "\x00" + name
}

// SetFromResponse stores every Set-Cookie header of a response received for
// the given request URL. Conflicting cookies overwrite.
func (j *CookieJar) SetFromResponse(u *url.URL, resp *Response) {
	for _, raw := range resp.Headers.Values("Set-Cookie") {
		j.SetFromHeader(u, raw)
	}
}

// SetFromHeader parses one Set-Cookie header value and stores the result.
// Malformed values are dropped silently, matching browser behavior.
func (j *CookieJar) SetFromHeader(u *url.URL, raw string) {
	parsed := parseSetCookie(raw)
	if parsed == nil || parsed.Name == "" {
		return
	}

	c := Cookie{
		Name:     parsed.Name,
		Value:    parsed.Value,
		Path:     parsed.Path,
		Expires:  parsed.Expires,
		Secure:   parsed.Secure,
		HTTPOnly: parsed.HttpOnly,
	}
	switch parsed.SameSite {
	case http.SameSiteStrictMode:
		c.SameSite = SameSiteStrict
	case http.SameSiteNoneMode:
		c.SameSite = SameSiteNone
	default:
		c.SameSite = SameSiteLax
	}
	if parsed.MaxAge > 0 {
		c.Expires = j.now().Add(time.Duration(parsed.MaxAge) * time.Second)
	} else if parsed.MaxAge < 0 {
		c.Expires = j.now().Add(-time.Second)
	}

	host := strings.ToLower(u.Hostname())
	domain := strings.ToLower(strings.TrimPrefix(parsed.Domain, "."))
	if domain == "" {
		c.Domain = host
		c.HostOnly = true
	} else {
		// A Set-Cookie for example.com matches a.example.com but never an
		// unrelated suffix; cookies scoped to a bare public suffix are
		// rejected outright.
		if ps, _ := publicsuffix.PublicSuffix(domain); ps == domain {
			return
		}
		if !domainMatch(host, domain) {
			return
		}
		c.Domain = domain
	}
	if c.Path == "" {
		c.Path = defaultPath(u)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	key := jarKey(c.Domain, c.Path, c.Name)
	if c.Expired(j.now()) {
		delete(j.cookies, key)
		return
	}
	j.cookies[key] = c
}

// CookiesFor returns the cookies applicable to a request URL, most specific
// path first. Expired cookies are purged on the way.
func (j *CookieJar) CookiesFor(u *url.URL, sctx SendContext) []Cookie {
	host := strings.ToLower(u.Hostname())
	secure := u.Scheme == "https"
	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Cookie
	for key, c := range j.cookies {
		if c.Expired(now) {
			delete(j.cookies, key)
			continue
		}
		if c.HostOnly {
			if host != c.Domain {
				continue
			}
		} else if !domainMatch(host, c.Domain) {
			continue
		}
		if !pathMatch(u.Path, c.Path) {
			continue
		}
		if c.Secure && !secure {
			continue
		}
		if c.SameSite == SameSiteStrict && sctx.CrossSite {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool {
		if len(out[a].Path) != len(out[b].Path) {
			return len(out[a].Path) > len(out[b].Path)
		}
		return out[a].Name < out[b].Name
	})
	return out
}

// HeaderFor renders the Cookie request header for a URL, or "".
func (j *CookieJar) HeaderFor(u *url.URL, sctx SendContext) string {
	cookies := j.CookiesFor(u, sctx)
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, len(cookies))
	for i, c := range cookies {
		parts[i] = c.Name + "=" + c.Value
	}
	return strings.Join(parts, "; ")
}

// All returns a copy of every live cookie in the jar.
func (j *CookieJar) All() []Cookie {
	now := j.now()
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Cookie
	for key, c := range j.cookies {
		if c.Expired(now) {
			delete(j.cookies, key)
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Domain != out[b].Domain {
			return out[a].Domain < out[b].Domain
		}
		return out[a].Name < out[b].Name
	})
	return out
}

// Clear drops every cookie.
func (j *CookieJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = make(map[string]Cookie)
}

// domainMatch implements RFC 6265 suffix matching: the host either equals
// the cookie domain or ends with "." + domain.
func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}

func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == "" {
		reqPath = "/"
	}
	if reqPath == cookiePath {
		return true
	}
	if strings.HasPrefix(reqPath, cookiePath) {
		return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
	}
	return false
}

func defaultPath(u *url.URL) string {
	p := u.Path
	if p == "" || !strings.HasPrefix(p, "/") {
		return "/"
	}
	if i := strings.LastIndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return "/"
}

// parseSetCookie defers to net/http's battle-tested Set-Cookie parser.
func parseSetCookie(raw string) *http.Cookie {
	header := http.Header{"Set-Cookie": {raw}}
	resp := http.Response{Header: header}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return nil
	}
	return cookies[0]
}
