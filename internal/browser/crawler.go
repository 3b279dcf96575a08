// internal/browser/crawler.go
package browser

import (
	"context"
	"net/url"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/squidsec/kalamari/internal/config"
	"github.com/squidsec/kalamari/internal/dom"
	"github.com/squidsec/kalamari/internal/security"
)

// CrawledPage is one visited page's summary.
type CrawledPage struct {
	URL      string                   `json:"url"`
	Depth    int                      `json:"depth"`
	Title    string                   `json:"title,omitempty"`
	Links    []string                 `json:"links,omitempty"`
	Forms    []*dom.Form              `json:"forms,omitempty"`
	Scripts  int                      `json:"scripts"`
	Analysis *security.ScriptAnalysis `json:"analysis,omitempty"`
	Err      string                   `json:"error,omitempty"`
}

// CrawlResult is the whole crawl.
type CrawlResult struct {
	Pages   []CrawledPage `json:"pages"`
	Visited int           `json:"visited"`
	Skipped int           `json:"skipped"`
}

// Crawler walks same-site links breadth-first within the configured bounds,
// fanning page visits across a pool.
type Crawler struct {
	cfg    config.CrawlConfig
	pool   *Pool
	logger *zap.Logger

	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewCrawler compiles the URL filters and binds the crawler to a pool.
func NewCrawler(cfg config.CrawlConfig, pool *Pool, logger *zap.Logger) (*Crawler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Crawler{cfg: cfg, pool: pool, logger: logger.Named("crawler")}
	for _, p := range cfg.IncludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		c.include = append(c.include, re)
	}
	for _, p := range cfg.ExcludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		c.exclude = append(c.exclude, re)
	}
	return c, nil
}

// Crawl runs a bounded BFS from the start URL. Per-page failures are
// reported in the result, never fatal to the batch.
func (c *Crawler) Crawl(ctx context.Context, start string) (*CrawlResult, error) {
	startURL, err := url.Parse(start)
	if err != nil {
		return nil, err
	}

	result := &CrawlResult{}
	visited := map[string]bool{}
	frontier := []string{startURL.String()}

	for depth := 0; depth <= c.cfg.MaxDepth && len(frontier) > 0; depth++ {
		var batch []string
		for _, u := range frontier {
			if visited[u] || len(visited)+len(batch) >= c.cfg.MaxPages {
				continue
			}
			batch = append(batch, u)
		}
		frontier = nil
		if len(batch) == 0 {
			break
		}
		for _, u := range batch {
			visited[u] = true
		}

		var mu sync.Mutex
		results := c.pool.Map(ctx, batch, func(ctx context.Context, page *Page, u string) (any, error) {
			crawled := c.visit(ctx, page, u, depth)
			mu.Lock()
			defer mu.Unlock()
			for _, link := range crawled.Links {
				if c.admit(startURL, link) && !visited[link] {
					frontier = append(frontier, link)
				}
			}
			return crawled, nil
		})
		for _, r := range results {
			if crawled, ok := r.Value.(CrawledPage); ok {
				result.Pages = append(result.Pages, crawled)
			}
		}
	}
	result.Visited = len(result.Pages)
	return result, nil
}

func (c *Crawler) visit(ctx context.Context, page *Page, u string, depth int) CrawledPage {
	crawled := CrawledPage{URL: u, Depth: depth}
	if err := page.Navigate(ctx, u); err != nil {
		crawled.Err = err.Error()
		return crawled
	}
	if doc := page.Document(); doc != nil {
		if title, err := doc.Query("//title"); err == nil && title != nil {
			crawled.Title = doc.Text(title)
		}
	}
	for _, link := range page.Links() {
		crawled.Links = append(crawled.Links, link.String())
	}
	crawled.Forms = page.Forms()
	crawled.Scripts = len(page.Scripts())
	crawled.Analysis = page.ScriptAnalysis()
	return crawled
}

// admit applies the same-domain bound and include/exclude filters.
func (c *Crawler) admit(start *url.URL, link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if c.cfg.SameDomainOnly && u.Hostname() != start.Hostname() {
		return false
	}
	for _, re := range c.exclude {
		if re.MatchString(link) {
			return false
		}
	}
	if len(c.include) == 0 {
		return true
	}
	for _, re := range c.include {
		if re.MatchString(link) {
			return true
		}
	}
	return false
}
