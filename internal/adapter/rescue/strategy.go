package rescue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/user/note-enricher/internal/adapter/readability"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/extraction"
	"github.com/user/note-enricher/internal/repository"
	"go.uber.org/zap"
)

// StrategyName identifies the rescue step.
const StrategyName = "rescue-fetch"

// Strategy retries a blocked page through the configured rescue fetchers, in order.
type Strategy struct {
	fetchers []repository.RescueFetcher
	logger   *zap.Logger
}

var _ extraction.Strategy = (*Strategy)(nil)

// NewStrategy creates a new rescue Strategy.
func NewStrategy(logger *zap.Logger, fetchers ...repository.RescueFetcher) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{fetchers: fetchers, logger: logger}
}

func (s *Strategy) Name() string { return StrategyName }

// Applies when rescue is enabled for the call and at least one fetcher is configured.
func (s *Strategy) Applies(kind entity.URLKind, opts entity.ExtractionOptions) bool {
	if kind != entity.KindGenericPage && kind != entity.KindPodcastHost {
		return false
	}
	if !opts.RescueEnabled() {
		return false
	}
	for _, f := range s.fetchers {
		if f.Available() {
			return true
		}
	}
	return false
}

func (s *Strategy) Attempt(ctx context.Context, req *extraction.Request) (*extraction.Outcome, error) {
	var errs []error
	for _, f := range s.fetchers {
		if !f.Available() {
			continue
		}
		page, err := f.Rescue(ctx, req.URL)
		if err != nil {
			s.logger.Debug("rescue fetcher failed", zap.String("fetcher", f.Name()), zap.String("url", req.URL), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
			continue
		}
		out, err := toOutcome(page, req.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
			continue
		}
		out.FirecrawlUsed = f.Name() == ProviderFirecrawl
		return out, nil
	}
	if len(errs) == 0 {
		return nil, extraction.Skip("no rescue fetcher configured")
	}
	return nil, errors.Join(errs...)
}

// toOutcome prefers readability over rendered HTML and falls back to the provider's markdown.
func toOutcome(page *repository.RescuedPage, pageURL string) (*extraction.Outcome, error) {
	out := &extraction.Outcome{}
	if page.HTML != "" {
		if extracted, err := readability.ExtractHTML([]byte(page.HTML), pageURL); err == nil {
			out = extracted
		}
	}
	if reason := readability.DetectBlock(200, []byte(page.HTML)); reason != "" && page.Markdown == "" {
		return nil, extraction.Blocked(reason)
	}
	if page.Markdown != "" {
		out.Markdown = strings.TrimSpace(page.Markdown)
		if out.Content == "" {
			out.Content = out.Markdown
		}
	}
	out.Title = firstNonEmpty(page.Title, out.Title)
	out.Description = firstNonEmpty(page.Description, out.Description)
	out.SiteName = firstNonEmpty(page.SiteName, out.SiteName)
	if out.Content == "" && out.Markdown == "" {
		return nil, extraction.ErrEmptyContent
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
