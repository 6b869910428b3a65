// Package bootstrap assembles the extraction cascades from configuration.
// Both binaries share it so the server and the CLI run identical plans.
package bootstrap

import (
	"os"

	"github.com/user/note-enricher/internal/adapter/httpfetch"
	"github.com/user/note-enricher/internal/adapter/podcast"
	"github.com/user/note-enricher/internal/adapter/readability"
	"github.com/user/note-enricher/internal/adapter/rescue"
	"github.com/user/note-enricher/internal/adapter/transcribe"
	"github.com/user/note-enricher/internal/adapter/youtube"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/extraction"
	"github.com/user/note-enricher/pkg/config"
	"go.uber.org/zap"
)

// Strategies holds one instance of every cascade step.
type Strategies struct {
	YouTubeMetadata extraction.Strategy
	YouTubeWeb      extraction.Strategy
	YouTubeProxy    extraction.Strategy
	YouTubeLocal    extraction.Strategy
	Podcast         extraction.Strategy
	Media           extraction.Strategy
	Readability     extraction.Strategy
	Rescue          extraction.Strategy
}

// Cascades orders the strategies per URL kind. Podcast pages fall back to the
// generic page steps when no episode can be transcribed.
func Cascades(s Strategies) map[entity.URLKind]extraction.Cascade {
	return map[entity.URLKind]extraction.Cascade{
		entity.KindYouTubeVideo: {
			Metadata: s.YouTubeMetadata,
			Steps:    []extraction.Strategy{s.YouTubeWeb, s.YouTubeProxy, s.YouTubeLocal},
		},
		entity.KindPodcastHost: {
			Steps: []extraction.Strategy{s.Podcast, s.Readability, s.Rescue},
		},
		entity.KindDirectMedia: {
			Steps: []extraction.Strategy{s.Media},
		},
		entity.KindGenericPage: {
			Steps: []extraction.Strategy{s.Readability, s.Rescue},
		},
	}
}

// Extractor is the configured orchestrator plus the resources it owns.
type Extractor struct {
	*extraction.Orchestrator
	browser *rescue.BrowserFetcher
}

// NewExtractor builds every strategy from cfg and wires them into an orchestrator.
func NewExtractor(cfg *config.Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	strategies, browser := newStrategies(cfg, logger)
	return &Extractor{
		Orchestrator: extraction.NewOrchestrator(Cascades(strategies), logger.Named("extraction")),
		browser:      browser,
	}
}

func newStrategies(cfg *config.Config, logger *zap.Logger) (Strategies, *rescue.BrowserFetcher) {
	pages := httpfetch.NewClient(httpfetch.Options{
		Timeout:        cfg.RequestTimeout,
		RequestsPerSec: cfg.RequestsPerSec,
		Proxies:        cfg.Proxies,
	}, logger.Named("fetch"))
	// Media downloads and uploads run far longer than a page fetch.
	media := httpfetch.NewClient(httpfetch.Options{
		Timeout:        cfg.MediaTimeout,
		RequestsPerSec: cfg.RequestsPerSec,
		Proxies:        cfg.Proxies,
	}, logger.Named("media"))

	pipeline := &transcribe.Pipeline{
		Downloader: transcribe.NewDownloader(media, cfg.MaxMediaBytes, os.TempDir(), logger),
		Transcriber: transcribe.NewWhisperClient(transcribe.WhisperConfig{
			APIKey:  cfg.TranscribeAPIKey,
			BaseURL: cfg.TranscribeBaseURL,
			Model:   cfg.TranscribeModel,
		}, media),
		Logger: logger,
	}

	watch := youtube.NewWatchPageClient(pages, "")
	browser := rescue.NewBrowserFetcher(cfg.RescueBrowserEnabled, cfg.RequestTimeout, logger)

	strategies := Strategies{
		YouTubeMetadata: youtube.NewMetadataStrategy(watch),
		YouTubeWeb:      youtube.NewWebTranscriptStrategy(watch, pages),
		YouTubeProxy:    youtube.NewProxyTranscriptStrategy(cfg.SupadataAPIKey, cfg.SupadataBaseURL, pages),
		YouTubeLocal:    youtube.NewLocalTranscriptionStrategy(cfg.YtDlpPath, pipeline, nil, logger),
		Podcast:         podcast.NewStrategy(podcast.NewResolver(pages, pages, ""), pipeline, logger),
		Media:           transcribe.NewMediaStrategy(pipeline),
		Readability:     readability.NewStrategy(pages, cfg.MinContentLength, logger),
		Rescue: rescue.NewStrategy(logger,
			rescue.NewFirecrawlClient(cfg.FirecrawlAPIKey, cfg.FirecrawlBaseURL),
			browser,
		),
	}

	return strategies, browser
}

// Close stops the headless browser if it was started.
func (e *Extractor) Close() {
	e.browser.Close()
}

// DefaultOptions maps configuration onto extraction options.
func DefaultOptions(cfg *config.Config) entity.ExtractionOptions {
	rescueOn := cfg.RescueEnabled
	return entity.ExtractionOptions{
		RequestTimeout: cfg.RequestTimeout,
		MediaTimeout:   cfg.MediaTimeout,
		TotalTimeout:   cfg.TotalTimeout,
		MaxCharacters:  cfg.MaxCharacters,
		EnableRescue:   &rescueOn,
	}
}
