// internal/dom/selector.go
package dom

import (
	"fmt"
	"strings"
)

// CSSToXPath translates simple CSS selectors (tag, #id, .class, descendant
// combinator, [attr] and [attr=value]) to XPath. Anything already shaped
// like XPath passes through untouched.
func CSSToXPath(css string) string {
	css = strings.TrimSpace(css)
	if css == "*" {
		return "//*"
	}
	if strings.HasPrefix(css, "/") || strings.HasPrefix(css, "./") || strings.HasPrefix(css, "(") {
		return css
	}

	var xpath strings.Builder
	xpath.WriteString("//")

	parts := strings.Fields(css)
	for i, part := range parts {
		if i > 0 {
			xpath.WriteString("//")
		}
		tag, predicates := parseCompound(part)
		xpath.WriteString(tag)
		if len(predicates) > 0 {
			xpath.WriteString("[")
			xpath.WriteString(strings.Join(predicates, " and "))
			xpath.WriteString("]")
		}
	}
	return xpath.String()
}

// parseCompound splits one compound selector (div#id.a.b[attr=v]) into a tag
// name and XPath predicates.
func parseCompound(token string) (string, []string) {
	tag := "*"
	var predicates []string
	hasTag := false

	for len(token) > 0 {
		switch {
		case strings.HasPrefix(token, "#"):
			end := indexAny(token[1:], ".#[") + 1
			if end == 0 {
				end = len(token)
			}
			id := token[1:end]
			if id != "" && !strings.Contains(id, "'") {
				predicates = append(predicates, fmt.Sprintf("@id='%s'", id))
			}
			token = token[end:]
		case strings.HasPrefix(token, "."):
			end := indexAny(token[1:], ".#[") + 1
			if end == 0 {
				end = len(token)
			}
			class := token[1:end]
			if class != "" && !strings.Contains(class, "'") {
				predicates = append(predicates,
					fmt.Sprintf("contains(concat(' ', normalize-space(@class), ' '), ' %s ')", class))
			}
			token = token[end:]
		case strings.HasPrefix(token, "["):
			end := strings.IndexByte(token, ']')
			if end < 0 {
				return tag, predicates
			}
			inner := token[1:end]
			if name, value, found := strings.Cut(inner, "="); found {
				value = strings.Trim(value, `"'`)
				if !strings.Contains(value, "'") {
					predicates = append(predicates, fmt.Sprintf("@%s='%s'", name, value))
				}
			} else if inner != "" {
				predicates = append(predicates, "@"+inner)
			}
			token = token[end+1:]
		case !hasTag:
			end := indexAny(token, ".#[")
			if end < 0 {
				end = len(token)
			}
			tag = strings.ToLower(token[:end])
			hasTag = true
			token = token[end:]
		default:
			return tag, predicates
		}
	}
	return tag, predicates
}

func indexAny(s, chars string) int {
	return strings.IndexAny(s, chars)
}
