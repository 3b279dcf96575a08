// cmd/forms.go
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/squidsec/kalamari/internal/browser"
	"github.com/squidsec/kalamari/internal/dom"
	"github.com/squidsec/kalamari/internal/netkit"
	"github.com/squidsec/kalamari/internal/observability"
)

// formsReport pairs extracted forms with the derived auth snapshot, since
// form discovery is usually the first step of an authenticated test.
type formsReport struct {
	URL     string             `json:"url"`
	Forms   []formJSON         `json:"forms"`
	Session netkit.AuthSession `json:"session"`
}

type formJSON struct {
	Method    string          `json:"method"`
	Action    string          `json:"action"`
	Fields    []dom.FormField `json:"fields"`
	CSRFField string          `json:"csrf_field,omitempty"`
}

var formsCmd = &cobra.Command{
	Use:   "forms <url>",
	Short: "Extract forms and session state from a page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		b, err := browser.NewBrowser(cfg.Browser, cfg.Page, observability.GetLogger())
		if err != nil {
			return err
		}

		page := b.NewPage()
		if err := page.Navigate(context.Background(), args[0]); err != nil {
			return networkErr(err)
		}

		report := formsReport{URL: page.URL().String()}
		for _, f := range page.Forms() {
			fj := formJSON{
				Method:    f.Method,
				Fields:    f.Fields,
				CSRFField: f.CSRFField,
			}
			if f.Action != nil {
				fj.Action = f.Action.String()
			}
			report.Forms = append(report.Forms, fj)
		}
		report.Session = b.Session(page.LocalStorage())
		return printJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(formsCmd)
}
