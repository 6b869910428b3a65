package transcribe

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/extraction"
	"github.com/user/note-enricher/internal/repository"
	"go.uber.org/zap"
)

// MediaStrategyName identifies the direct media step.
const MediaStrategyName = "media-transcription"

// Pipeline downloads a media URL and transcribes it.
type Pipeline struct {
	Downloader  repository.MediaDownloader
	Transcriber repository.Transcriber
	Logger      *zap.Logger
}

// Available reports whether the transcriber is configured.
func (p *Pipeline) Available() bool {
	return p != nil && p.Transcriber != nil && p.Transcriber.Available()
}

// Run downloads mediaURL, transcribes it and removes the temp file.
func (p *Pipeline) Run(ctx context.Context, mediaURL string) (*entity.Transcript, *float64, error) {
	path, err := p.Downloader.Download(ctx, mediaURL)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && p.Logger != nil {
			p.Logger.Warn("failed to remove media file", zap.String("path", path), zap.Error(err))
		}
	}()
	return p.TranscribeFile(ctx, path)
}

// TranscribeFile transcribes an already downloaded file.
func (p *Pipeline) TranscribeFile(ctx context.Context, path string) (*entity.Transcript, *float64, error) {
	t, duration, err := p.Transcriber.Transcribe(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", p.Transcriber.Name(), err)
	}
	return t, duration, nil
}

// MediaStrategy handles URLs that point straight at an audio or video file.
type MediaStrategy struct {
	pipeline *Pipeline
}

var (
	_ extraction.Strategy      = (*MediaStrategy)(nil)
	_ extraction.StepTimeouter = (*MediaStrategy)(nil)
)

// NewMediaStrategy creates a new MediaStrategy.
func NewMediaStrategy(pipeline *Pipeline) *MediaStrategy {
	return &MediaStrategy{pipeline: pipeline}
}

func (s *MediaStrategy) Name() string { return MediaStrategyName }

func (s *MediaStrategy) Applies(kind entity.URLKind, _ entity.ExtractionOptions) bool {
	return kind == entity.KindDirectMedia && s.pipeline.Available()
}

func (s *MediaStrategy) StepTimeout(opts entity.ExtractionOptions) time.Duration {
	return opts.MediaTimeout
}

func (s *MediaStrategy) Attempt(ctx context.Context, req *extraction.Request) (*extraction.Outcome, error) {
	t, duration, err := s.pipeline.Run(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	mediaType := extraction.MediaTypeOf(req.URL)
	if mediaType == "" {
		mediaType = entity.MediaAudio
	}
	media := &entity.Media{Type: mediaType, DurationSeconds: duration}
	if mediaType == entity.MediaVideo {
		media.VideoKind = "file"
	}
	return &extraction.Outcome{
		Transcript: t,
		Media:      media,
		Provider:   s.pipeline.Transcriber.Name(),
	}, nil
}
