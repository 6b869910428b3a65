package extraction

import (
	"net/url"
	"strings"

	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/pkg/utils"
)

var youtubeHosts = map[string]bool{
	"youtube.com":          true,
	"m.youtube.com":        true,
	"music.youtube.com":    true,
	"youtube-nocookie.com": true,
}

var podcastHosts = map[string]bool{
	"podcasts.apple.com":     true,
	"overcast.fm":            true,
	"pca.st":                 true,
	"castbox.fm":             true,
	"podbean.com":            true,
	"anchor.fm":              true,
	"podcasters.spotify.com": true,
}

var podcastHostSuffixes = []string{
	".buzzsprout.com",
	".simplecast.com",
	".libsyn.com",
	".transistor.fm",
	".podbean.com",
}

var audioExtensions = map[string]bool{
	"mp3": true, "m4a": true, "aac": true, "wav": true,
	"ogg": true, "oga": true, "opus": true, "flac": true,
}

var videoExtensions = map[string]bool{
	"mp4": true, "m4v": true, "mov": true, "webm": true, "mkv": true,
}

// Classify maps a URL to the cascade that handles it. No network access.
// Disabled source types fall back to generic-page.
func Classify(rawURL string, opts entity.ExtractionOptions) entity.URLKind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return entity.KindGenericPage
	}
	host := utils.Hostname(rawURL)

	if opts.YouTubeEnabled() && isYouTube(host, u.Path, u.Query()) {
		return entity.KindYouTubeVideo
	}
	if opts.PodcastEnabled() && isPodcastHost(host, u.Path) {
		return entity.KindPodcastHost
	}
	if MediaTypeOf(rawURL) != "" {
		return entity.KindDirectMedia
	}
	return entity.KindGenericPage
}

func isYouTube(host, path string, q url.Values) bool {
	if host == "youtu.be" {
		return len(strings.Trim(path, "/")) > 0
	}
	if !youtubeHosts[host] {
		return false
	}
	if path == "/watch" {
		return q.Get("v") != ""
	}
	for _, prefix := range []string{"/shorts/", "/live/", "/embed/"} {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return true
		}
	}
	return false
}

func isPodcastHost(host, path string) bool {
	if host == "open.spotify.com" {
		return strings.HasPrefix(path, "/episode/") || strings.HasPrefix(path, "/show/")
	}
	if podcastHosts[host] {
		return true
	}
	for _, suffix := range podcastHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// MediaTypeOf returns audio or video when the URL path ends in a known media
// extension, and "" otherwise.
func MediaTypeOf(rawURL string) entity.MediaType {
	ext := utils.Extension(rawURL)
	switch {
	case audioExtensions[ext]:
		return entity.MediaAudio
	case videoExtensions[ext]:
		return entity.MediaVideo
	default:
		return ""
	}
}
