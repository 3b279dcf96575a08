// cmd/xss.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/squidsec/kalamari/internal/browser"
	"github.com/squidsec/kalamari/internal/js"
	"github.com/squidsec/kalamari/internal/observability"
	"github.com/squidsec/kalamari/internal/security"
	"github.com/squidsec/kalamari/internal/xss"
)

var (
	flagXssMarker  string
	flagXssParam   string
	flagXssPayload string
	flagXssStored  string
	flagXssField   string
	flagXssReflect []string
)

// triggerJSON is the documented serialization of one trigger.
type triggerJSON struct {
	Kind      string `json:"kind"`
	Payload   string `json:"payload"`
	Confirmed bool   `json:"confirmed"`
	FramePath []int  `json:"frame_path"`
	URL       string `json:"url"`
}

// xssReport is the envelope printed by the xss subcommand.
type xssReport struct {
	URL         string                `json:"url"`
	Vulnerable  bool                  `json:"vulnerable"`
	HighestKind string                `json:"highest_kind,omitempty"`
	Triggers    []triggerJSON         `json:"triggers"`
	CSP         *security.CspAnalysis `json:"csp,omitempty"`
	Stored      *xss.StoredXssResult  `json:"stored,omitempty"`
}

var xssCmd = &cobra.Command{
	Use:   "xss <url>",
	Short: "Scan a page for XSS with sensor hooks installed",
	Long: `Navigates the target with the security-scanning preset, executes its
scripts against the instrumented sandbox, and reports confirmed triggers.
With --payload the value is injected via a URL parameter first; with
--stored-post the stored-XSS flow submits the payload and checks the
--reflect-at pages for execution.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadScanConfig()
		if err != nil {
			return err
		}
		if flagXssMarker != "" {
			cfg.Page.XSSMarker = flagXssMarker
		}
		b, err := browser.NewBrowser(cfg.Browser, cfg.Page, observability.GetLogger())
		if err != nil {
			return err
		}
		ctx := context.Background()

		report := xssReport{URL: args[0]}
		var analysis xss.Analysis

		switch {
		case flagXssStored != "":
			if flagXssField == "" {
				return fmt.Errorf("--field is required with --stored-post")
			}
			tester := xss.NewStoredXssTester(b, observability.GetLogger())
			test := &xss.StoredXssTest{
				PostURL:   flagXssStored,
				Payload:   flagXssPayload,
				Field:     flagXssField,
				ReflectAt: append([]string{args[0]}, flagXssReflect...),
				Marker:    flagXssMarker,
			}
			if test.Payload == "" {
				test.Payload = "<script>alert('MARKER')</script>"
			}
			result, err := tester.Run(ctx, test)
			if err != nil {
				return networkErr(err)
			}
			report.Stored = result
			analysis = xss.Analyze(result.Triggers)
		default:
			page := b.NewPage()
			if err := page.Navigate(ctx, args[0]); err != nil {
				return networkErr(err)
			}
			page.WaitForJSIdle(ctx)
			if flagXssPayload != "" {
				analysis, _ = page.TestXssPayload(ctx, flagXssPayload, xss.InjectSpec{
					Site:  xss.InjectURLParam,
					Param: flagXssParam,
				})
			} else {
				analysis = page.AnalyzeXss()
			}
			report.CSP = page.CspAnalysis()
		}

		report.Vulnerable = analysis.Vulnerable
		report.HighestKind = string(analysis.HighestKind)
		report.Triggers = toTriggerJSON(analysis.Triggers)
		if err := printJSON(report); err != nil {
			return err
		}
		if report.Vulnerable {
			return findingErr(fmt.Errorf("confirmed XSS on %s", args[0]))
		}
		return nil
	},
}

func toTriggerJSON(triggers []js.XssTrigger) []triggerJSON {
	out := make([]triggerJSON, len(triggers))
	for i, t := range triggers {
		out[i] = triggerJSON{
			Kind:      string(t.Kind),
			Payload:   t.Payload,
			Confirmed: t.Confirmed,
			FramePath: t.FramePath,
			URL:       t.URL,
		}
		if out[i].FramePath == nil {
			out[i].FramePath = []int{}
		}
	}
	return out
}

func init() {
	f := xssCmd.Flags()
	f.StringVar(&flagXssMarker, "marker", "", "marker string confirming payload execution")
	f.StringVar(&flagXssParam, "param", "q", "query parameter receiving --payload")
	f.StringVar(&flagXssPayload, "payload", "", "payload to inject before scanning")
	f.StringVar(&flagXssStored, "stored-post", "", "form page URL for the stored-XSS flow")
	f.StringVar(&flagXssField, "field", "", "form field receiving the stored payload")
	f.StringArrayVar(&flagXssReflect, "reflect-at", nil, "additional reflect URLs for the stored flow")
	rootCmd.AddCommand(xssCmd)
}
