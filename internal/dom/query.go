// internal/dom/query.go
package dom

import (
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// QueryNode finds the first match for an XPath expression scoped to n.
func QueryNode(n *html.Node, xpath string) (*html.Node, error) {
	return htmlquery.Query(n, xpath)
}

// QueryNodeAll finds every match for an XPath expression scoped to n.
func QueryNodeAll(n *html.Node, xpath string) ([]*html.Node, error) {
	return htmlquery.QueryAll(n, xpath)
}
