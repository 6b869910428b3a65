package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/pkg/config"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxCharacters:    1000,
		MinContentLength: 200,
		RescueEnabled:    false,
		YtDlpPath:        "yt-dlp",
	}
}

func TestCascades_Order(t *testing.T) {
	strategies, browser := newStrategies(testConfig(), zap.NewNop())
	defer browser.Close()

	cascades := Cascades(strategies)
	require.Len(t, cascades, 4)

	yt := cascades[entity.KindYouTubeVideo]
	require.NotNil(t, yt.Metadata)
	assert.Equal(t, "youtube-metadata", yt.Metadata.Name())
	assert.Equal(t, []string{"youtube-web-transcript", "youtube-proxy-transcript", "youtube-local-transcription"}, yt.Names())

	assert.Equal(t, []string{"podcast-feed-transcription", "html-readability", "rescue-fetch"}, cascades[entity.KindPodcastHost].Names())
	assert.Equal(t, []string{"media-transcription"}, cascades[entity.KindDirectMedia].Names())
	assert.Equal(t, []string{"html-readability", "rescue-fetch"}, cascades[entity.KindGenericPage].Names())
}

func TestNewExtractor(t *testing.T) {
	e := NewExtractor(testConfig(), nil)
	require.NotNil(t, e.Orchestrator)
	e.Close()
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions(testConfig())
	assert.Equal(t, 1000, opts.MaxCharacters)
	assert.False(t, opts.RescueEnabled())
	assert.True(t, opts.YouTubeEnabled())
}
