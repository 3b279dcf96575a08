// internal/netkit/auth.go
package netkit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionCookieHints are substrings that mark a cookie as session-bearing.
var sessionCookieHints = []string{
	"session", "sess", "sid", "auth", "token", "jwt", "csrf", "xsrf",
	"phpsessid", "jsessionid", "connect.sid",
}

// BearerToken is an Authorization bearer value observed on an outbound
// request, with claims decoded (not verified) when the token is a JWT.
type BearerToken struct {
	Raw       string            `json:"raw"`
	IsJWT     bool              `json:"is_jwt"`
	Subject   string            `json:"subject,omitempty"`
	Issuer    string            `json:"issuer,omitempty"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
	Claims    map[string]string `json:"claims,omitempty"`
}

// Expired reports whether a decoded JWT is past its exp claim.
func (b *BearerToken) Expired(now time.Time) bool {
	return b.IsJWT && !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}

// AuthSession is a derived snapshot of authentication state, never
// authoritative: session-like cookies, storage entries, bearer tokens seen
// on the wire, and harvested CSRF tokens.
type AuthSession struct {
	SessionCookies []Cookie          `json:"session_cookies"`
	LocalStorage   map[string]string `json:"local_storage,omitempty"`
	BearerTokens   []BearerToken     `json:"bearer_tokens,omitempty"`
	CSRFTokens     map[string]string `json:"csrf_tokens,omitempty"`
}

// IsAuthenticated is true iff at least one session cookie or bearer token is
// present.
func (s *AuthSession) IsAuthenticated() bool {
	return len(s.SessionCookies) > 0 || len(s.BearerTokens) > 0
}

// AuthVault accumulates authentication material per browser. It doubles as
// an interceptor so bearer tokens are harvested from every outbound request.
type AuthVault struct {
	mu      sync.Mutex
	bearers map[string]BearerToken
	csrf    map[string]string
}

// NewAuthVault creates an empty vault.
func NewAuthVault() *AuthVault {
	return &AuthVault{
		bearers: make(map[string]BearerToken),
		csrf:    make(map[string]string),
	}
}

func (v *AuthVault) Name() string { return "auth-vault" }

// BeforeRequest observes Authorization headers without modifying anything,
// so the vault can sit in the interceptor chain.
func (v *AuthVault) BeforeRequest(_ context.Context, req *Request) Action {
	v.ObserveRequest(req)
	return Continue()
}

// ObserveRequest harvests a bearer token from an outbound request, if any.
func (v *AuthVault) ObserveRequest(req *Request) {
	auth := req.Headers.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return
	}
	raw := strings.TrimSpace(auth[len(prefix):])
	if raw == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, seen := v.bearers[raw]; seen {
		return
	}
	v.bearers[raw] = decodeBearer(raw)
}

// RecordCSRFToken stores a harvested CSRF token under its field or header name.
func (v *AuthVault) RecordCSRFToken(name, value string) {
	if name == "" || value == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.csrf[name] = value
}

// Session assembles the derived snapshot from the vault and a jar.
func (v *AuthVault) Session(jar *CookieJar, localStorage map[string]string) AuthSession {
	v.mu.Lock()
	bearers := make([]BearerToken, 0, len(v.bearers))
	for _, b := range v.bearers {
		bearers = append(bearers, b)
	}
	csrf := make(map[string]string, len(v.csrf))
	for k, val := range v.csrf {
		csrf[k] = val
	}
	v.mu.Unlock()

	var sessionCookies []Cookie
	if jar != nil {
		for _, c := range jar.All() {
			if isSessionCookie(c) {
				sessionCookies = append(sessionCookies, c)
			}
		}
	}

	var storage map[string]string
	if len(localStorage) > 0 {
		storage = make(map[string]string, len(localStorage))
		for k, val := range localStorage {
			storage[k] = val
		}
	}

	return AuthSession{
		SessionCookies: sessionCookies,
		LocalStorage:   storage,
		BearerTokens:   bearers,
		CSRFTokens:     csrf,
	}
}

func isSessionCookie(c Cookie) bool {
	name := strings.ToLower(c.Name)
	for _, hint := range sessionCookieHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	// Session-lifetime HttpOnly cookies are session carriers more often
	// than not.
	return c.HTTPOnly && c.Expires.IsZero()
}

// decodeBearer parses a JWT without verifying its signature. The scanner
// wants claims for reporting, not trust.
func decodeBearer(raw string) BearerToken {
	token := BearerToken{Raw: raw}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return token
	}
	token.IsJWT = true
	token.Claims = make(map[string]string, len(claims))
	for k, val := range claims {
		if s, ok := val.(string); ok {
			token.Claims[k] = s
		}
	}
	if sub, err := claims.GetSubject(); err == nil {
		token.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		token.Issuer = iss
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		token.ExpiresAt = exp.Time
	}
	return token
}
