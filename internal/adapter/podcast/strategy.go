package podcast

import (
	"context"
	"time"

	"github.com/user/note-enricher/internal/adapter/transcribe"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/extraction"
	"go.uber.org/zap"
)

// StrategyName identifies the podcast feed step.
const StrategyName = "podcast-feed-transcription"

// Strategy resolves the episode feed of a podcast page and transcribes its enclosure.
type Strategy struct {
	resolver *Resolver
	pipeline *transcribe.Pipeline
	logger   *zap.Logger
}

var (
	_ extraction.Strategy      = (*Strategy)(nil)
	_ extraction.StepTimeouter = (*Strategy)(nil)
)

// NewStrategy creates a new podcast Strategy.
func NewStrategy(resolver *Resolver, pipeline *transcribe.Pipeline, logger *zap.Logger) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{resolver: resolver, pipeline: pipeline, logger: logger}
}

func (s *Strategy) Name() string { return StrategyName }

func (s *Strategy) Applies(kind entity.URLKind, opts entity.ExtractionOptions) bool {
	return kind == entity.KindPodcastHost && opts.PodcastEnabled() && s.pipeline.Available()
}

func (s *Strategy) StepTimeout(opts entity.ExtractionOptions) time.Duration {
	return opts.MediaTimeout
}

func (s *Strategy) Attempt(ctx context.Context, req *extraction.Request) (*extraction.Outcome, error) {
	ep, err := s.resolver.Resolve(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("resolved podcast episode",
		zap.String("url", req.URL),
		zap.String("episode", ep.Title),
		zap.String("enclosure", ep.EnclosureURL),
	)

	t, duration, err := s.pipeline.Run(ctx, ep.EnclosureURL)
	if err != nil {
		return nil, err
	}
	if duration == nil {
		duration = ep.Duration
	}

	mediaType := extraction.MediaTypeOf(ep.EnclosureURL)
	if mediaType == "" {
		mediaType = entity.MediaAudio
	}
	return &extraction.Outcome{
		Title:       ep.Title,
		Description: ep.Description,
		SiteName:    ep.ShowTitle,
		Transcript:  t,
		Media:       &entity.Media{Type: mediaType, DurationSeconds: duration},
		Provider:    s.pipeline.Transcriber.Name(),
	}, nil
}
