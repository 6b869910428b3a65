package youtube

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/note-enricher/internal/adapter/transcribe"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/extraction"
	"go.uber.org/zap"
)

// Step names of the YouTube cascade.
const (
	MetadataStrategyName = "youtube-metadata"
	WebStrategyName      = "youtube-web-transcript"
	ProxyStrategyName    = "youtube-proxy-transcript"
	LocalStrategyName    = "youtube-local-transcription"
)

// Transcript sources.
const (
	SourceCaptions = "youtube-captions"
	SourceSupadata = "supadata"
)

// JSONGetter performs a GET and decodes the JSON answer. *httpfetch.Client satisfies it.
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error
}

func videoIDOf(req *extraction.Request) (string, error) {
	id, ok := VideoID(req.URL)
	if !ok {
		return "", extraction.Skip("no video id in url")
	}
	return id, nil
}

// MetadataStrategy reads title, description and duration from the watch page.
type MetadataStrategy struct {
	pages *WatchPageClient
}

// NewMetadataStrategy creates a new MetadataStrategy.
func NewMetadataStrategy(pages *WatchPageClient) *MetadataStrategy {
	return &MetadataStrategy{pages: pages}
}

func (s *MetadataStrategy) Name() string { return MetadataStrategyName }

func (s *MetadataStrategy) Applies(kind entity.URLKind, _ entity.ExtractionOptions) bool {
	return kind == entity.KindYouTubeVideo
}

func (s *MetadataStrategy) Attempt(ctx context.Context, req *extraction.Request) (*extraction.Outcome, error) {
	id, err := videoIDOf(req)
	if err != nil {
		return nil, err
	}
	wp, err := s.pages.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	kind := VideoKind(req.URL)
	if wp.IsLive {
		kind = "live"
	}
	content := wp.Title
	if wp.Description != "" {
		content += "\n\n" + wp.Description
	}
	return &extraction.Outcome{
		Title:       wp.Title,
		Description: wp.Description,
		SiteName:    "YouTube",
		Content:     strings.TrimSpace(content),
		Media: &entity.Media{
			Type:            entity.MediaVideo,
			DurationSeconds: wp.Duration,
			VideoKind:       kind,
		},
	}, nil
}

// WebTranscriptStrategy reads the caption track advertised by the watch page.
type WebTranscriptStrategy struct {
	pages  *WatchPageClient
	client JSONGetter
}

// NewWebTranscriptStrategy creates a new WebTranscriptStrategy.
func NewWebTranscriptStrategy(pages *WatchPageClient, client JSONGetter) *WebTranscriptStrategy {
	return &WebTranscriptStrategy{pages: pages, client: client}
}

func (s *WebTranscriptStrategy) Name() string { return WebStrategyName }

func (s *WebTranscriptStrategy) Applies(kind entity.URLKind, _ entity.ExtractionOptions) bool {
	return kind == entity.KindYouTubeVideo
}

type json3Transcript struct {
	Events []struct {
		TStartMs    int64 `json:"tStartMs"`
		DDurationMs int64 `json:"dDurationMs"`
		Segs        []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func (s *WebTranscriptStrategy) Attempt(ctx context.Context, req *extraction.Request) (*extraction.Outcome, error) {
	id, err := videoIDOf(req)
	if err != nil {
		return nil, err
	}
	wp, err := s.pages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	track, ok := pickTrack(wp.Tracks)
	if !ok {
		return nil, fmt.Errorf("video %s has no caption tracks", id)
	}

	trackURL, err := withQuery(track.BaseURL, "fmt", "json3")
	if err != nil {
		return nil, err
	}
	var body json3Transcript
	if err := s.client.GetJSON(ctx, trackURL, nil, &body); err != nil {
		return nil, fmt.Errorf("fetch caption track: %w", err)
	}

	var segments []entity.TranscriptSegment
	for _, ev := range body.Events {
		var b strings.Builder
		for _, seg := range ev.Segs {
			b.WriteString(seg.UTF8)
		}
		text := strings.TrimSpace(strings.ReplaceAll(b.String(), "\n", " "))
		if text == "" {
			continue
		}
		seg := entity.TranscriptSegment{StartMs: ev.TStartMs, Text: html.UnescapeString(text)}
		if ev.DDurationMs > 0 {
			end := ev.TStartMs + ev.DDurationMs
			seg.EndMs = &end
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("caption track of %s is empty", id)
	}

	return &extraction.Outcome{
		Transcript: &entity.Transcript{
			Text:     extraction.JoinSegments(segments),
			Source:   SourceCaptions,
			Segments: segments,
		},
		Provider: SourceCaptions,
	}, nil
}

// ProxyTranscriptStrategy asks the Supadata scraping API for the transcript.
type ProxyTranscriptStrategy struct {
	apiKey  string
	baseURL string
	client  JSONGetter
}

// NewProxyTranscriptStrategy creates a new ProxyTranscriptStrategy. It is skipped without an API key.
func NewProxyTranscriptStrategy(apiKey, baseURL string, client JSONGetter) *ProxyTranscriptStrategy {
	if baseURL == "" {
		baseURL = "https://api.supadata.ai"
	}
	return &ProxyTranscriptStrategy{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *ProxyTranscriptStrategy) Name() string { return ProxyStrategyName }

func (s *ProxyTranscriptStrategy) Applies(kind entity.URLKind, _ entity.ExtractionOptions) bool {
	return kind == entity.KindYouTubeVideo && s.apiKey != ""
}

type supadataTranscript struct {
	Lang    string `json:"lang"`
	Content []struct {
		Text     string  `json:"text"`
		Offset   float64 `json:"offset"`
		Duration float64 `json:"duration"`
	} `json:"content"`
}

func (s *ProxyTranscriptStrategy) Attempt(ctx context.Context, req *extraction.Request) (*extraction.Outcome, error) {
	id, err := videoIDOf(req)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("videoId", id)
	q.Set("text", "false")
	endpoint := s.baseURL + "/v1/youtube/transcript?" + q.Encode()

	var body supadataTranscript
	if err := s.client.GetJSON(ctx, endpoint, map[string]string{"x-api-key": s.apiKey}, &body); err != nil {
		return nil, fmt.Errorf("supadata: %w", err)
	}

	var segments []entity.TranscriptSegment
	for _, c := range body.Content {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		seg := entity.TranscriptSegment{StartMs: int64(c.Offset), Text: text}
		if c.Duration > 0 {
			end := int64(c.Offset + c.Duration)
			seg.EndMs = &end
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("supadata returned an empty transcript for %s", id)
	}

	return &extraction.Outcome{
		Transcript: &entity.Transcript{
			Text:     extraction.JoinSegments(segments),
			Source:   SourceSupadata,
			Segments: segments,
		},
		Provider: SourceSupadata,
	}, nil
}

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// LocalTranscriptionStrategy downloads the audio track with yt-dlp and transcribes it.
type LocalTranscriptionStrategy struct {
	ytDlpPath string
	pipeline  *transcribe.Pipeline
	run       Runner
	lookPath  func(string) (string, error)
	logger    *zap.Logger
}

// NewLocalTranscriptionStrategy creates a new LocalTranscriptionStrategy.
func NewLocalTranscriptionStrategy(ytDlpPath string, pipeline *transcribe.Pipeline, run Runner, logger *zap.Logger) *LocalTranscriptionStrategy {
	if ytDlpPath == "" {
		ytDlpPath = "yt-dlp"
	}
	if run == nil {
		run = ExecRunner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalTranscriptionStrategy{
		ytDlpPath: ytDlpPath,
		pipeline:  pipeline,
		run:       run,
		lookPath:  exec.LookPath,
		logger:    logger,
	}
}

func (s *LocalTranscriptionStrategy) Name() string { return LocalStrategyName }

// Applies when a transcriber is configured and the yt-dlp binary can be found.
func (s *LocalTranscriptionStrategy) Applies(kind entity.URLKind, _ entity.ExtractionOptions) bool {
	if kind != entity.KindYouTubeVideo || !s.pipeline.Available() {
		return false
	}
	if _, err := s.lookPath(s.ytDlpPath); err != nil {
		s.logger.Debug("yt-dlp not found", zap.String("path", s.ytDlpPath), zap.Error(err))
		return false
	}
	return true
}

func (s *LocalTranscriptionStrategy) StepTimeout(opts entity.ExtractionOptions) time.Duration {
	return opts.MediaTimeout
}

func (s *LocalTranscriptionStrategy) Attempt(ctx context.Context, req *extraction.Request) (*extraction.Outcome, error) {
	id, err := videoIDOf(req)
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "yt-"+id+"-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	out, err := s.run(ctx, s.ytDlpPath,
		"--no-playlist",
		"--quiet",
		"-f", "bestaudio[ext=m4a]/bestaudio",
		"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
		"--print", "after_move:filepath",
		"https://www.youtube.com/watch?v="+id,
	)
	if err != nil {
		return nil, err
	}
	path := lastLine(string(out))
	if path == "" {
		return nil, fmt.Errorf("yt-dlp did not report an output file")
	}

	t, duration, err := s.pipeline.TranscribeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	outcome := &extraction.Outcome{
		Transcript: t,
		Provider:   s.pipeline.Transcriber.Name(),
	}
	if duration != nil {
		outcome.Media = &entity.Media{Type: entity.MediaVideo, DurationSeconds: duration, VideoKind: VideoKind(req.URL)}
	}
	return outcome, nil
}

func withQuery(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
