// internal/security/csp_test.go
package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bypassKinds(a *CspAnalysis) []BypassKind {
	kinds := make([]BypassKind, len(a.Bypasses))
	for i, b := range a.Bypasses {
		kinds[i] = b.Kind
	}
	return kinds
}

func TestCsp_ParseDirectives(t *testing.T) {
	policy := ParseCSP("default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self'")
	require.Len(t, policy.Directives, 3)
	assert.Equal(t, []string{"'self'", "'unsafe-inline'"}, policy.Sources("script-src"))
	assert.True(t, policy.Has("style-src"))
	assert.Nil(t, policy.Sources("img-src"))
}

func TestCsp_DuplicateDirectiveKeepsFirstWithWarning(t *testing.T) {
	policy := ParseCSP("script-src 'self'; script-src 'unsafe-inline'")
	assert.Equal(t, []string{"'self'"}, policy.Sources("script-src"))
	require.Len(t, policy.Warnings, 1)
	assert.Contains(t, policy.Warnings[0], "duplicate")
}

func TestCsp_ScoringScenario(t *testing.T) {
	// default-src 'self'; script-src 'self' 'unsafe-inline' must score 75
	// with only the inline bypass.
	a := AnalyzeCSP(ParseCSP("default-src 'self'; script-src 'self' 'unsafe-inline'"))
	assert.False(t, a.BlocksInline)
	assert.True(t, a.BlocksEval)
	assert.Equal(t, 75, a.SecurityScore)
	assert.Contains(t, bypassKinds(a), BypassUnsafeInline)
}

func TestCsp_ScoringMonotonicity(t *testing.T) {
	// Removing any permissive source must not decrease the score.
	weakest := AnalyzeCSP(ParseCSP("script-src 'unsafe-inline' 'unsafe-eval' * data:; "))
	noEval := AnalyzeCSP(ParseCSP("script-src 'unsafe-inline' * data:"))
	noWildcard := AnalyzeCSP(ParseCSP("script-src 'unsafe-inline' data:"))
	noData := AnalyzeCSP(ParseCSP("script-src 'unsafe-inline'"))
	strict := AnalyzeCSP(ParseCSP("script-src 'self'; object-src 'none'; default-src 'self'"))

	assert.LessOrEqual(t, weakest.SecurityScore, noEval.SecurityScore)
	assert.LessOrEqual(t, noEval.SecurityScore, noWildcard.SecurityScore)
	assert.LessOrEqual(t, noWildcard.SecurityScore, noData.SecurityScore)
	assert.LessOrEqual(t, noData.SecurityScore, strict.SecurityScore)
	assert.Equal(t, 100, strict.SecurityScore)
}

func TestCsp_ScoreFloorsAtZero(t *testing.T) {
	a := AnalyzeCSP(ParseCSP("script-src 'unsafe-inline' 'unsafe-eval' * data: http:"))
	assert.Equal(t, 0, a.SecurityScore)
}

func TestCsp_NonceNeutralizesUnsafeInline(t *testing.T) {
	a := AnalyzeCSP(ParseCSP("script-src 'nonce-abc123' 'unsafe-inline'"))
	assert.True(t, a.BlocksInline, "nonce takes precedence over unsafe-inline")
	require.Len(t, a.NonceSources, 1)
}

func TestCsp_HashSourcesCollected(t *testing.T) {
	a := AnalyzeCSP(ParseCSP("script-src 'sha256-AbCd123=' 'self'"))
	require.Len(t, a.HashSources, 1)
	assert.True(t, a.BlocksInline)
}

func TestCsp_WildcardAndDataDetection(t *testing.T) {
	a := AnalyzeCSP(ParseCSP("script-src * data:"))
	assert.True(t, a.AllowsWildcard)
	assert.True(t, a.AllowsDataURI)
	kinds := bypassKinds(a)
	assert.Contains(t, kinds, BypassWildcardHost)
	assert.Contains(t, kinds, BypassDataURI)
}

func TestCsp_DefaultSrcFallbackForEval(t *testing.T) {
	a := AnalyzeCSP(ParseCSP("default-src 'self' 'unsafe-eval'"))
	assert.False(t, a.BlocksEval)
	assert.Contains(t, bypassKinds(a), BypassUnsafeEval)
}

func TestCsp_MissingObjectSrcPenalty(t *testing.T) {
	bare := AnalyzeCSP(ParseCSP("script-src 'self'"))
	assert.Contains(t, bypassKinds(bare), BypassMissingObjectSrc)
	assert.Equal(t, 90, bare.SecurityScore)

	covered := AnalyzeCSP(ParseCSP("script-src 'self'; default-src 'self'"))
	assert.NotContains(t, bypassKinds(covered), BypassMissingObjectSrc)
}

func TestCsp_JsonpCdnBypass(t *testing.T) {
	a := AnalyzeCSP(ParseCSP("script-src 'self' https://ajax.googleapis.com"))
	assert.Contains(t, bypassKinds(a), BypassJsonpEndpoint)
}

func TestCsp_AngularBypassRequiresEval(t *testing.T) {
	withEval := AnalyzeCSP(ParseCSP("script-src 'self' 'unsafe-eval'"))
	withEval.NoteAngular()
	assert.Contains(t, bypassKinds(withEval), BypassAngularTemplate)

	withoutEval := AnalyzeCSP(ParseCSP("script-src 'self'"))
	withoutEval.NoteAngular()
	assert.NotContains(t, bypassKinds(withoutEval), BypassAngularTemplate)
}

func TestCsp_MetaTagExtraction(t *testing.T) {
	html := `<html><head><meta http-equiv="Content-Security-Policy" content="script-src 'self'"></head></html>`
	assert.Equal(t, "script-src 'self'", ExtractCSPFromHTML(html))
	assert.Empty(t, ExtractCSPFromHTML(`<html><head></head></html>`))
}
