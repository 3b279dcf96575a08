// internal/security/audit_test.go
package security

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidsec/kalamari/internal/dom"
)

func parseDoc(t *testing.T, htmlText string) (*dom.Document, *url.URL) {
	t.Helper()
	base, err := url.Parse("https://site.test/app/")
	require.NoError(t, err)
	doc, err := dom.Parse([]byte(htmlText), base)
	require.NoError(t, err)
	return doc, base
}

func TestAuditSRI_FlagsCrossOriginWithoutIntegrity(t *testing.T) {
	doc, base := parseDoc(t, `
<html><head>
  <script src="https://cdn.other.test/lib.js"></script>
  <script src="/local.js"></script>
  <script src="https://cdn.other.test/pinned.js" integrity="sha384-AbC"></script>
  <script src="https://cdn.other.test/weak.js" integrity="md5-zzz"></script>
  <link rel="stylesheet" href="https://cdn.other.test/a.css">
</head><body></body></html>`)

	violations := AuditSRI(doc, base)
	require.Len(t, violations, 3)

	byURL := map[string]SriViolation{}
	for _, v := range violations {
		byURL[v.ResourceURL] = v
	}
	assert.Contains(t, byURL["https://cdn.other.test/lib.js"].Reason, "without integrity")
	assert.Contains(t, byURL["https://cdn.other.test/weak.js"].Reason, "weak")
	assert.Equal(t, "stylesheet", byURL["https://cdn.other.test/a.css"].ResourceType)
}

func TestFindClobberCandidates(t *testing.T) {
	doc, _ := parseDoc(t, `
<html><body>
  <a id="location" href="/x">clickme</a>
  <form name="cookie"></form>
  <img id="harmless">
  <div id="top">not a named-property tag</div>
</body></html>`)

	candidates := FindClobberCandidates(doc)
	require.Len(t, candidates, 2)

	idents := map[string]string{}
	for _, c := range candidates {
		idents[c.Identifier] = c.Tag
	}
	assert.Equal(t, "a", idents["location"])
	assert.Equal(t, "form", idents["cookie"])
}
