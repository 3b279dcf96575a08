// cmd/fetch.go
package cmd

import (
	"context"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/squidsec/kalamari/internal/browser"
	"github.com/squidsec/kalamari/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var flagFetchRaw bool

// fetchReport is the JSON envelope printed by the fetch subcommand.
type fetchReport struct {
	URL      string   `json:"url"`
	State    string   `json:"state"`
	Title    string   `json:"title,omitempty"`
	Scripts  int      `json:"scripts"`
	Links    []string `json:"links,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Events   int      `json:"network_events"`
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch a page, run its scripts, and summarize the result",
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
		page.WaitForJSIdle(context.Background())

		if flagFetchRaw {
			fmt.Println(page.Document().HTML())
			return nil
		}

		report := fetchReport{
			URL:      page.URL().String(),
			State:    page.State().String(),
			Scripts:  len(page.Scripts()),
			Warnings: page.Document().Warnings(),
			Events:   b.Events().Len(),
		}
		if title, err := page.Document().Query("//title"); err == nil && title != nil {
			report.Title = page.Document().Text(title)
		}
		for _, link := range page.Links() {
			report.Links = append(report.Links, link.String())
		}
		return printJSON(report)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	fetchCmd.Flags().BoolVar(&flagFetchRaw, "raw", false, "print the serialized DOM instead of a summary")
	rootCmd.AddCommand(fetchCmd)
}
