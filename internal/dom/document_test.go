// internal/dom/document_test.go
package dom

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, htmlText string) *Document {
	t.Helper()
	base, err := url.Parse("http://example.test/dir/page.html")
	require.NoError(t, err)
	doc, err := Parse([]byte(htmlText), base)
	require.NoError(t, err)
	return doc
}

func TestParse_EmptyInputYieldsBareRoot(t *testing.T) {
	doc, err := Parse(nil, nil)
	require.NoError(t, err)
	require.NotNil(t, doc.Root())
	assert.Nil(t, doc.Root().FirstChild, "empty input must not synthesize children")

	doc, err = Parse([]byte("   \n\t "), nil)
	require.NoError(t, err)
	assert.Nil(t, doc.Root().FirstChild)
}

func TestParse_MalformedHTMLIsTolerated(t *testing.T) {
	doc := mustParse(t, `<div><p>unclosed<div><b>nested`)
	require.NotNil(t, doc.Body())
	assert.Contains(t, doc.HTML(), "unclosed")
}

func TestDocument_NodeIdentityIsStable(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="a"></div></body></html>`)
	n := doc.GetElementByID("a")
	require.NotNil(t, n)

	first := doc.IDFor(n)
	assert.Equal(t, first, doc.IDFor(n), "same node, same id")
	assert.Same(t, n, doc.NodeByID(first))

	// Ids survive mutations around the node.
	doc.SetAttribute(n, "class", "x")
	assert.Equal(t, first, doc.IDFor(n))
}

func TestDocument_SetInnerHTMLSwapsChildrenAtomically(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="box"><span>old</span></div></body></html>`)
	box := doc.GetElementByID("box")
	require.NotNil(t, box)

	require.NoError(t, doc.SetInnerHTML(box, `<em>one</em><em>two</em>`))
	assert.Equal(t, `<em>one</em><em>two</em>`, doc.InnerHTML(box))
}

func TestDocument_MutationsEmitRecords(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="box"></div></body></html>`)
	box := doc.GetElementByID("box")
	require.NotNil(t, box)

	obs := &MutationObserver{}
	doc.Observe(obs)

	doc.SetAttribute(box, "data-k", "v")
	require.NoError(t, doc.SetInnerHTML(box, `<i>x</i>`))
	doc.SetTextContent(box, "plain")

	records := obs.Records()
	require.Len(t, records, 3)
	assert.Equal(t, MutationAttributes, records[0].Type)
	assert.Equal(t, "data-k", records[0].AttributeName)
	assert.Equal(t, MutationChildList, records[1].Type)
	require.Len(t, records[1].AddedNodes, 1)
	assert.Equal(t, MutationChildList, records[2].Type)
	require.Len(t, records[2].RemovedNodes, 1)
}

func TestDocument_AppendRemoveInsert(t *testing.T) {
	doc := mustParse(t, `<html><body><ul id="list"><li id="a">a</li></ul></body></html>`)
	list := doc.GetElementByID("list")
	a := doc.GetElementByID("a")
	require.NotNil(t, list)
	require.NotNil(t, a)

	b := CreateElement("li")
	doc.AppendChild(list, b)
	require.NoError(t, doc.InsertBefore(list, CreateTextNode("first"), a))

	require.NoError(t, doc.RemoveChild(list, a))
	assert.Error(t, doc.RemoveChild(list, a), "removing a non-child must error")

	assert.NotContains(t, doc.InnerHTML(list), `id="a"`)
	assert.Contains(t, doc.InnerHTML(list), "first")
}

func TestDocument_WriteAppendsToBody(t *testing.T) {
	doc := mustParse(t, `<html><body><p>keep</p></body></html>`)
	require.NoError(t, doc.Write(`<div id="injected">w</div>`))
	assert.NotNil(t, doc.GetElementByID("injected"))
	assert.Contains(t, doc.InnerHTML(doc.Body()), "keep")
}

func TestDocument_BaseHrefResolvesActions(t *testing.T) {
	doc := mustParse(t, `<html><head><base href="/other/"></head><body></body></html>`)
	assert.Equal(t, "/other/", doc.BaseURL().Path)
}

func TestAttrPreservesInsertionOrder(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="d" b="2" a="1"></div></body></html>`)
	n := doc.GetElementByID("d")
	require.NotNil(t, n)
	doc.SetAttribute(n, "c", "3")

	keys := make([]string, 0, len(n.Attr))
	for _, attr := range n.Attr {
		keys = append(keys, attr.Key)
	}
	assert.Equal(t, []string{"id", "b", "a", "c"}, keys)
}

func TestCSSToXPath(t *testing.T) {
	cases := map[string]string{
		"*":            "//*",
		"div":          "//div",
		"#main":        "//*[@id='main']",
		".item":        "//*[contains(concat(' ', normalize-space(@class), ' '), ' item ')]",
		"div#a.b":      "//div[@id='a' and contains(concat(' ', normalize-space(@class), ' '), ' b ')]",
		"ul li":        "//ul//li",
		"input[name=q]": "//input[@name='q']",
		"//custom":     "//custom",
	}
	for css, want := range cases {
		assert.Equal(t, want, CSSToXPath(css), "selector %q", css)
	}
}

func TestForms_ExtractionAndCSRF(t *testing.T) {
	doc := mustParse(t, `
<html><body>
  <form method="POST" action="/login">
    <input type="hidden" name="csrf_token" value="tok123">
    <input type="text" name="user" value="admin">
    <input type="password" name="pass">
    <textarea name="bio">hello</textarea>
    <select name="role"><option value="a">A</option><option value="b" selected>B</option></select>
  </form>
  <form action="search"><input name="q"></form>
</body></html>`)

	forms := doc.Forms()
	require.Len(t, forms, 2)

	login := forms[0]
	assert.Equal(t, "POST", login.Method)
	assert.Equal(t, "/login", login.Action.Path)
	assert.Equal(t, "csrf_token", login.CSRFField)
	require.Len(t, login.Fields, 5)
	assert.Equal(t, "tok123", login.Get("csrf_token"))
	assert.Equal(t, "hello", login.Get("bio"))

	search := forms[1]
	assert.Equal(t, "GET", search.Method)
	// Relative action resolves against the page base.
	assert.Equal(t, "/dir/search", search.Action.Path)
}

func TestForm_SetAndEncodeKeepOrder(t *testing.T) {
	doc := mustParse(t, `<html><body><form action="/s"><input name="a" value="1"><input name="b" value="2"></form></body></html>`)
	form := doc.Forms()[0]
	form.Set("b", "two&more")
	form.Set("c", "3")
	assert.Equal(t, "a=1&b=two%26more&c=3", form.Encode())
}
