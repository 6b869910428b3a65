package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/repository"
)

// ProviderWhisper is the transcript source of the OpenAI compatible client.
const ProviderWhisper = "whisper"

// WhisperConfig configures an OpenAI compatible /audio/transcriptions endpoint.
type WhisperConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// WhisperClient implements repository.Transcriber on go-openai.
type WhisperClient struct {
	cfg    WhisperConfig
	client *openai.Client
}

var _ repository.Transcriber = (*WhisperClient)(nil)

// NewWhisperClient creates a new WhisperClient. Requests go through doer so
// they share the outbound rate limit and proxies.
func NewWhisperClient(cfg WhisperConfig, doer Doer) *WhisperClient {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if doer != nil {
		oc.HTTPClient = doer
	}
	return &WhisperClient{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

func (c *WhisperClient) Name() string { return ProviderWhisper }

// Available reports whether an API key is configured.
func (c *WhisperClient) Available() bool { return c.cfg.APIKey != "" }

// Transcribe uploads the file and returns the transcript with its segments.
func (c *WhisperClient) Transcribe(ctx context.Context, path string) (*entity.Transcript, *float64, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:                  c.cfg.Model,
		FilePath:               path,
		Format:                 openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{openai.TranscriptionTimestampGranularitySegment},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, nil, fmt.Errorf("transcription failed with status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			body := reqErr.Body
			if len(body) > 2048 {
				body = body[:2048]
			}
			return nil, nil, fmt.Errorf("transcription failed with status %d: %s", reqErr.HTTPStatusCode, strings.TrimSpace(string(body)))
		}
		return nil, nil, fmt.Errorf("transcription request: %w", err)
	}

	t := &entity.Transcript{
		Text:   strings.TrimSpace(resp.Text),
		Source: ProviderWhisper,
	}
	for _, seg := range resp.Segments {
		end := int64(seg.End * 1000)
		t.Segments = append(t.Segments, entity.TranscriptSegment{
			StartMs: int64(seg.Start * 1000),
			EndMs:   &end,
			Text:    strings.TrimSpace(seg.Text),
		})
	}
	if t.Text == "" {
		return nil, nil, errors.New("transcription returned no text")
	}

	var duration *float64
	if resp.Duration > 0 {
		d := resp.Duration
		duration = &d
	}
	return t, duration, nil
}
