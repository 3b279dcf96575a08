// cmd/crawl.go
package cmd

import (
	"context"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/squidsec/kalamari/internal/browser"
	"github.com/squidsec/kalamari/internal/observability"
)

var (
	flagCrawlDepth    int
	flagCrawlMaxPages int
	flagCrawlAllHosts bool
	flagCrawlInclude  []string
	flagCrawlExclude  []string
	flagCrawlWorkers  int
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Crawl same-site links and map the attack surface",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("depth") {
			cfg.Crawl.MaxDepth = flagCrawlDepth
		}
		if cmd.Flags().Changed("max-pages") {
			cfg.Crawl.MaxPages = flagCrawlMaxPages
		}
		if flagCrawlAllHosts {
			cfg.Crawl.SameDomainOnly = false
		}
		cfg.Crawl.IncludePatterns = append(cfg.Crawl.IncludePatterns, flagCrawlInclude...)
		cfg.Crawl.ExcludePatterns = append(cfg.Crawl.ExcludePatterns, flagCrawlExclude...)

		b, err := browser.NewBrowser(cfg.Browser, cfg.Page, observability.GetLogger())
		if err != nil {
			return err
		}
		workers := flagCrawlWorkers
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		pool := browser.NewPool(b, workers)
		defer pool.Shutdown()

		crawler, err := browser.NewCrawler(cfg.Crawl, pool, observability.GetLogger())
		if err != nil {
			return err
		}
		result, err := crawler.Crawl(context.Background(), args[0])
		if err != nil {
			return networkErr(err)
		}
		return printJSON(result)
	},
}

func init() {
	f := crawlCmd.Flags()
	f.IntVar(&flagCrawlDepth, "depth", 2, "maximum link depth")
	f.IntVar(&flagCrawlMaxPages, "max-pages", 50, "maximum pages to visit")
	f.BoolVar(&flagCrawlAllHosts, "all-hosts", false, "follow links to other hosts")
	f.StringArrayVar(&flagCrawlInclude, "include", nil, "regex a URL must match to be crawled")
	f.StringArrayVar(&flagCrawlExclude, "exclude", nil, "regex excluding URLs from the crawl")
	f.IntVar(&flagCrawlWorkers, "workers", 0, "concurrent pages (default: CPU count)")
	rootCmd.AddCommand(crawlCmd)
}
