package rescue

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/user/note-enricher/internal/repository"
	"go.uber.org/zap"
)

// ProviderBrowser names the headless Chrome rescue fetcher.
const ProviderBrowser = "chromedp"

// BrowserFetcher renders pages in headless Chrome so script gated content loads.
type BrowserFetcher struct {
	enabled   bool
	userAgent string
	timeout   time.Duration
	logger    *zap.Logger

	once        sync.Once
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

var _ repository.RescueFetcher = (*BrowserFetcher)(nil)

// NewBrowserFetcher creates a BrowserFetcher. Chrome is started lazily on first use.
func NewBrowserFetcher(enabled bool, pageLoadTimeout time.Duration, logger *zap.Logger) *BrowserFetcher {
	if pageLoadTimeout <= 0 {
		pageLoadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserFetcher{
		enabled:   enabled,
		userAgent: `Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36`,
		timeout:   pageLoadTimeout,
		logger:    logger,
	}
}

func (b *BrowserFetcher) Name() string { return ProviderBrowser }

func (b *BrowserFetcher) Available() bool { return b.enabled }

func (b *BrowserFetcher) allocator() context.Context {
	b.once.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(b.userAgent),
		)
		b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	})
	return b.allocCtx
}

// Rescue loads rawURL and returns the rendered document.
func (b *BrowserFetcher) Rescue(ctx context.Context, rawURL string) (*repository.RescuedPage, error) {
	taskCtx, cancel := chromedp.NewContext(b.allocator(), chromedp.WithLogf(b.logger.Sugar().Debugf))
	defer cancel()

	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, b.timeout)
	defer cancelTimeout()

	// Stop when the caller's deadline passes even though the browser context is detached from it.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		title string
		html  string
	)
	start := time.Now()
	err := chromedp.Run(taskCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		b.logger.Warn("headless render failed", zap.String("url", rawURL), zap.Error(err))
		return nil, err
	}

	b.logger.Debug("rendered page",
		zap.String("url", rawURL),
		zap.Int("bytes", len(html)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &repository.RescuedPage{Title: title, HTML: html}, nil
}

// Close shuts down Chrome if it was started.
func (b *BrowserFetcher) Close() {
	if b.allocCancel != nil {
		b.allocCancel()
	}
}
