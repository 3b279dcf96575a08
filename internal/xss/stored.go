// internal/xss/stored.go
package xss

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/squidsec/kalamari/internal/js"
)

// StoredXssTest describes one stored-XSS probe: submit a marked payload at
// post_url through a form field, then look for execution at reflect sites.
type StoredXssTest struct {
	PostURL   string   `json:"post_url"`
	Payload   string   `json:"payload"`
	Field     string   `json:"field"`
	ReflectAt []string `json:"reflect_at"`
	// Marker is minted when empty; the payload's MARKER placeholder is
	// substituted before submission.
	Marker string `json:"marker"`
	// ExtraFields rides along in the submission, CSRF token excluded (the
	// form subsystem carries that automatically).
	ExtraFields map[string]string `json:"extra_fields,omitempty"`
}

// MarkedPayload returns the payload with the marker substituted in.
func (t *StoredXssTest) MarkedPayload() string {
	if strings.Contains(t.Payload, "MARKER") {
		return strings.ReplaceAll(t.Payload, "MARKER", t.Marker)
	}
	return t.Payload
}

// StoredXssResult is the outcome of a stored-XSS probe.
type StoredXssResult struct {
	Test *StoredXssTest `json:"test"`
	// Confirmed is true when at least one reflect page fired a confirmed
	// trigger whose payload carries the marker.
	Confirmed bool `json:"confirmed"`
	// ReflectPoint is the first URL where execution was observed.
	ReflectPoint string `json:"reflect_point,omitempty"`
	// Triggers are the marker-matching triggers collected across pages.
	Triggers []js.XssTrigger `json:"triggers"`
	// StoredOnly lists pages where the raw marker appeared without
	// execution, a potential finding worth manual review.
	StoredOnly []string `json:"stored_only,omitempty"`
	// CheckedURLs is every reflect site visited.
	CheckedURLs []string `json:"checked_urls"`
}

// IsConfirmed reports the round-trip verdict.
func (r *StoredXssResult) IsConfirmed() bool { return r.Confirmed }

// PageDriver is the slice of the browser the stored-XSS flow needs: payload
// submission through the form subsystem and a fresh instrumented page per
// reflect site.
type PageDriver interface {
	// SubmitField submits value through the named field of the form at
	// postURL that carries that field (the first form when none does),
	// handling CSRF tokens.
	SubmitField(ctx context.Context, postURL, field, value string, extra map[string]string) error
	// CollectTriggers navigates a fresh page with fresh sensor hooks and
	// the given marker, returning recorded triggers and the page source.
	CollectTriggers(ctx context.Context, pageURL, marker string) ([]js.XssTrigger, string, error)
}

// StoredXssTester runs the multi-page correlation flow.
type StoredXssTester struct {
	driver PageDriver
	logger *zap.Logger
}

// NewStoredXssTester wires the tester to a page driver.
func NewStoredXssTester(driver PageDriver, logger *zap.Logger) *StoredXssTester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoredXssTester{driver: driver, logger: logger.Named("stored_xss")}
}

// Run executes the probe: submit, then sweep every reflect site.
// Individual reflect failures are logged and skipped; they do not fail the
// probe.
func (s *StoredXssTester) Run(ctx context.Context, test *StoredXssTest) (*StoredXssResult, error) {
	if test.Field == "" {
		return nil, fmt.Errorf("xss: stored test needs a form field")
	}
	if test.Marker == "" {
		test.Marker = NewPayloadGenerator().Marker()
	}

	result := &StoredXssResult{Test: test}
	payload := test.MarkedPayload()

	if err := s.driver.SubmitField(ctx, test.PostURL, test.Field, payload, test.ExtraFields); err != nil {
		return nil, fmt.Errorf("xss: submit payload: %w", err)
	}
	s.logger.Debug("payload submitted",
		zap.String("url", test.PostURL),
		zap.String("field", test.Field),
		zap.String("marker", test.Marker))

	for _, reflectURL := range test.ReflectAt {
		result.CheckedURLs = append(result.CheckedURLs, reflectURL)
		triggers, source, err := s.driver.CollectTriggers(ctx, reflectURL, test.Marker)
		if err != nil {
			s.logger.Warn("reflect check failed", zap.String("url", reflectURL), zap.Error(err))
			continue
		}

		executed := false
		for _, t := range triggers {
			if !strings.Contains(t.Payload, test.Marker) {
				continue
			}
			result.Triggers = append(result.Triggers, t)
			if t.Confirmed {
				executed = true
				if !result.Confirmed {
					result.Confirmed = true
					result.ReflectPoint = reflectURL
				}
			}
		}
		if !executed && strings.Contains(source, test.Marker) {
			result.StoredOnly = append(result.StoredOnly, reflectURL)
		}
	}
	return result, nil
}
