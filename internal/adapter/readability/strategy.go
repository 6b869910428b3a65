package readability

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/extraction"
	"github.com/user/note-enricher/internal/repository"
	"go.uber.org/zap"
)

// StrategyName identifies the direct fetch + readability step.
const StrategyName = "html-readability"

// DefaultMinContentLength is the shortest readable text not treated as blocked.
const DefaultMinContentLength = 200

// Strategy fetches a page and extracts its main content with go-readability.
type Strategy struct {
	fetcher   repository.PageFetcher
	minLength int
	logger    *zap.Logger
}

var _ extraction.Strategy = (*Strategy)(nil)

// NewStrategy creates a new readability Strategy.
func NewStrategy(fetcher repository.PageFetcher, minLength int, logger *zap.Logger) *Strategy {
	if minLength <= 0 {
		minLength = DefaultMinContentLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{fetcher: fetcher, minLength: minLength, logger: logger}
}

func (s *Strategy) Name() string { return StrategyName }

// Applies to every page like URL.
func (s *Strategy) Applies(kind entity.URLKind, _ entity.ExtractionOptions) bool {
	return kind == entity.KindGenericPage || kind == entity.KindPodcastHost
}

// Attempt fetches the page. Blocked responses fail with extraction.ErrContentBlocked;
// readable but short pages fail with a PartialError carrying the text.
func (s *Strategy) Attempt(ctx context.Context, req *extraction.Request) (*extraction.Outcome, error) {
	page, err := s.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	if reason := DetectBlock(page.StatusCode, page.Body); reason != "" {
		return nil, extraction.Blocked(reason)
	}

	out, err := ExtractHTML(page.Body, page.URL)
	if err != nil {
		return nil, err
	}

	if n := utf8.RuneCountInString(out.Content); n < s.minLength {
		s.logger.Debug("readable text below minimum",
			zap.String("url", req.URL),
			zap.Int("length", n),
			zap.Int("min_length", s.minLength),
		)
		return nil, &extraction.PartialError{
			Err:     extraction.Blocked(fmt.Sprintf("content too short (%d chars)", n)),
			Outcome: out,
		}
	}
	return out, nil
}

// ExtractHTML runs readability over a full HTML document and merges the page metadata.
func ExtractHTML(body []byte, pageURL string) (*extraction.Outcome, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", extraction.ErrInvalidURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	md := ParseMetadata(doc)

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}

	return &extraction.Outcome{
		Title:       pick(md.Title, strings.TrimSpace(article.Title)),
		Description: pick(md.Description, strings.TrimSpace(article.Excerpt)),
		SiteName:    pick(md.SiteName, strings.TrimSpace(article.SiteName)),
		Content:     CleanText(article.TextContent),
		HTML:        strings.TrimSpace(article.Content),
	}, nil
}

// CleanText trims every line and collapses runs of blank lines to one.
func CleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
