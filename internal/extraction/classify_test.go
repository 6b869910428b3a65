package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/user/note-enricher/internal/entity"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		want entity.URLKind
	}{
		{"https://www.youtube.com/watch?v=abc123", entity.KindYouTubeVideo},
		{"https://youtu.be/abc123", entity.KindYouTubeVideo},
		{"https://youtube.com/shorts/abc123", entity.KindYouTubeVideo},
		{"https://m.youtube.com/watch?v=abc123", entity.KindYouTubeVideo},
		{"https://music.youtube.com/watch?v=abc123", entity.KindYouTubeVideo},
		{"https://www.youtube.com/embed/abc123", entity.KindYouTubeVideo},
		{"https://www.youtube.com/@channel", entity.KindGenericPage},
		{"https://podcasts.apple.com/us/podcast/show/id123456789?i=1000", entity.KindPodcastHost},
		{"https://open.spotify.com/episode/xyz", entity.KindPodcastHost},
		{"https://open.spotify.com/track/xyz", entity.KindGenericPage},
		{"https://myshow.buzzsprout.com/12345", entity.KindPodcastHost},
		{"https://overcast.fm/+abc", entity.KindPodcastHost},
		{"https://cdn.example.com/audio/episode.MP3", entity.KindDirectMedia},
		{"https://cdn.example.com/video/clip.webm?token=1", entity.KindDirectMedia},
		{"https://example.com/blog/post", entity.KindGenericPage},
		{"::not a url", entity.KindGenericPage},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.url, entity.ExtractionOptions{}))
		})
	}
}

func TestClassify_DisabledSourcesFallBackToGeneric(t *testing.T) {
	off := false
	opts := entity.ExtractionOptions{EnableYouTube: &off, EnablePodcast: &off}
	assert.Equal(t, entity.KindGenericPage, Classify("https://youtu.be/abc", opts))
	assert.Equal(t, entity.KindGenericPage, Classify("https://overcast.fm/+abc", opts))
}

func TestTruncate_IsRuneSafe(t *testing.T) {
	out, cut := Truncate("héllo wörld", 6)
	assert.True(t, cut)
	assert.Equal(t, "héllo", out)

	out, cut = Truncate("short", 10)
	assert.False(t, cut)
	assert.Equal(t, "short", out)
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "[00:05]", FormatTimestamp(5000))
	assert.Equal(t, "[10:00]", FormatTimestamp(600000))
	assert.Equal(t, "[1:01:01]", FormatTimestamp(3661000))
}

func TestRenderMarkdown(t *testing.T) {
	html := `<article>
		<h1>Title</h1>
		<p>Intro with a <a href="https://example.com">link</a> and <em>emphasis</em>.</p>
		<ul><li>one</li><li>two</li></ul>
		<blockquote><p>quoted</p></blockquote>
		<pre>code line</pre>
	</article>`

	md, err := RenderMarkdown(html)
	assert.NoError(t, err)
	assert.Contains(t, md, "# Title")
	assert.Contains(t, md, "Intro with a [link](https://example.com) and _emphasis_.")
	assert.Contains(t, md, "- one\n- two")
	assert.Contains(t, md, "> quoted")
	assert.Contains(t, md, "```\ncode line\n```")
}
