// internal/dom/form.go
package dom

import (
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// csrfFieldHints mark a hidden input as a CSRF token carrier.
var csrfFieldHints = []string{
	"csrf", "xsrf", "_token", "authenticity_token", "__requestverificationtoken",
}

// FormField is one named control of a form, in document order.
type FormField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Form is a read/write view over a <form> element.
type Form struct {
	Method string      `json:"method"`
	Action *url.URL    `json:"action"`
	Fields []FormField `json:"fields"`
	// CSRFField names the detected token field, if any.
	CSRFField string `json:"csrf_field,omitempty"`

	doc  *Document
	node *html.Node
}

// NodeID returns the stable id of the backing <form> element.
func (f *Form) NodeID() NodeID { return f.doc.IDFor(f.node) }

// Forms extracts every form of the document, resolving actions against the
// page base.
func (d *Document) Forms() []*Form {
	nodes, _ := d.QueryAll("//form")
	forms := make([]*Form, 0, len(nodes))
	for _, n := range nodes {
		forms = append(forms, d.formFrom(n))
	}
	return forms
}

func (d *Document) formFrom(n *html.Node) *Form {
	f := &Form{doc: d, node: n, Method: http.MethodGet}
	if m, ok := Attr(n, "method"); ok && strings.EqualFold(m, "post") {
		f.Method = http.MethodPost
	}
	action, _ := Attr(n, "action")
	if d.baseURL != nil {
		if resolved, err := d.baseURL.Parse(action); err == nil {
			f.Action = resolved
		}
	} else if parsed, err := url.Parse(action); err == nil {
		f.Action = parsed
	}

	controls, _ := QueryNodeAll(n, ".//input | .//textarea | .//select")
	for _, c := range controls {
		name, ok := Attr(c, "name")
		if !ok || name == "" {
			continue
		}
		field := FormField{Name: name}
		switch c.Data {
		case "textarea":
			field.Type = "textarea"
			field.Value = d.Text(c)
		case "select":
			field.Type = "select"
			if opt, _ := QueryNode(c, ".//option[@selected]"); opt != nil {
				field.Value, _ = Attr(opt, "value")
			} else if opt, _ := QueryNode(c, ".//option"); opt != nil {
				field.Value, _ = Attr(opt, "value")
			}
		default:
			field.Type, _ = Attr(c, "type")
			if field.Type == "" {
				field.Type = "text"
			}
			field.Value, _ = Attr(c, "value")
		}
		f.Fields = append(f.Fields, field)
		if f.CSRFField == "" && isCSRFField(name, field.Type) {
			f.CSRFField = name
		}
	}
	return f
}

func isCSRFField(name, typ string) bool {
	lower := strings.ToLower(name)
	for _, hint := range csrfFieldHints {
		if strings.Contains(lower, hint) {
			return typ == "hidden" || typ == ""
		}
	}
	return false
}

// Set assigns a field's value, adding the field if the form lacks it.
func (f *Form) Set(name, value string) {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			f.Fields[i].Value = value
			return
		}
	}
	f.Fields = append(f.Fields, FormField{Name: name, Type: "text", Value: value})
}

// Get returns a field's current value.
func (f *Form) Get(name string) string {
	for _, field := range f.Fields {
		if field.Name == name {
			return field.Value
		}
	}
	return ""
}

// Encode renders the fields as application/x-www-form-urlencoded, keeping
// document order.
func (f *Form) Encode() string {
	var sb strings.Builder
	for i, field := range f.Fields {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(field.Name))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(field.Value))
	}
	return sb.String()
}
