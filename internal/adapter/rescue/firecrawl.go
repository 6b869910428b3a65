package rescue

import (
	"context"
	"errors"
	"fmt"

	firecrawl "github.com/mendableai/firecrawl-go"
	"github.com/user/note-enricher/internal/repository"
)

// ProviderFirecrawl names the Firecrawl rescue fetcher.
const ProviderFirecrawl = "firecrawl"

// FirecrawlClient scrapes blocked pages through the Firecrawl API.
type FirecrawlClient struct {
	app *firecrawl.FirecrawlApp
	err error
}

var _ repository.RescueFetcher = (*FirecrawlClient)(nil)

// NewFirecrawlClient creates a new FirecrawlClient. Without an API key the
// client reports itself unavailable.
func NewFirecrawlClient(apiKey, baseURL string) *FirecrawlClient {
	if apiKey == "" {
		return &FirecrawlClient{err: errors.New("firecrawl api key not configured")}
	}
	app, err := firecrawl.NewFirecrawlApp(apiKey, baseURL)
	return &FirecrawlClient{app: app, err: err}
}

func (c *FirecrawlClient) Name() string { return ProviderFirecrawl }

// Available reports whether an API key is configured.
func (c *FirecrawlClient) Available() bool { return c.app != nil && c.err == nil }

type scrapeResult struct {
	doc *firecrawl.FirecrawlDocument
	err error
}

// Rescue scrapes rawURL and returns its main content as markdown and HTML.
// The SDK call takes no context, so ctx only bounds how long we wait for it.
func (c *FirecrawlClient) Rescue(ctx context.Context, rawURL string) (*repository.RescuedPage, error) {
	if !c.Available() {
		return nil, c.err
	}

	onlyMain := true
	params := &firecrawl.ScrapeParams{
		Formats:         []string{"markdown", "html"},
		OnlyMainContent: &onlyMain,
	}

	done := make(chan scrapeResult, 1)
	go func() {
		doc, err := c.app.ScrapeURL(rawURL, params)
		done <- scrapeResult{doc: doc, err: err}
	}()

	var res scrapeResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("firecrawl scrape: %w", res.err)
	}
	if res.doc == nil {
		return nil, errors.New("firecrawl scrape: empty document")
	}

	page := &repository.RescuedPage{
		HTML:     res.doc.HTML,
		Markdown: res.doc.Markdown,
	}
	if md := res.doc.Metadata; md != nil {
		page.Title = deref(md.Title)
		page.Description = deref(md.Description)
		page.SiteName = deref(md.OGSiteName)
	}
	return page, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
