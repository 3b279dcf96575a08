// internal/xss/engine.go
package xss

import (
	"github.com/squidsec/kalamari/internal/js"
)

// Analysis is the aggregate verdict over a page's recorded triggers.
type Analysis struct {
	Triggers   []js.XssTrigger `json:"triggers"`
	Vulnerable bool            `json:"vulnerable"`
	// HighestKind is the most conclusive trigger kind observed, empty when
	// no trigger fired.
	HighestKind js.TriggerKind `json:"highest_kind,omitempty"`
}

// Analyze folds raw triggers into a verdict. A page is vulnerable when any
// trigger is confirmed.
func Analyze(triggers []js.XssTrigger) Analysis {
	a := Analysis{Triggers: triggers}
	for _, t := range triggers {
		if t.Confirmed {
			a.Vulnerable = true
		}
		if t.Kind.Severity() > a.HighestKind.Severity() {
			a.HighestKind = t.Kind
		}
	}
	return a
}

// InjectSite says where a test payload lands.
type InjectSite int

const (
	// InjectURLParam appends the payload as a query parameter value.
	InjectURLParam InjectSite = iota
	// InjectFormField submits the payload through a named form field.
	InjectFormField
)

// InjectSpec configures test_xss_payload style injection.
type InjectSpec struct {
	Site InjectSite
	// Param names the query parameter or form field receiving the payload.
	Param string
}
