package youtube

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/user/note-enricher/pkg/utils"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// VideoID extracts the 11 character id from any supported YouTube URL form.
func VideoID(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := utils.Hostname(rawURL)

	var id string
	switch {
	case host == "youtu.be":
		id = firstSegment(u.Path)
	case u.Path == "/watch":
		id = u.Query().Get("v")
	default:
		for _, prefix := range []string{"/shorts/", "/live/", "/embed/", "/v/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id = firstSegment(strings.TrimPrefix(u.Path, prefix))
				break
			}
		}
	}
	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// VideoKind is "short", "live" or "video" depending on the URL form.
func VideoKind(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "video"
	}
	switch {
	case strings.HasPrefix(u.Path, "/shorts/"):
		return "short"
	case strings.HasPrefix(u.Path, "/live/"):
		return "live"
	default:
		return "video"
	}
}

func firstSegment(p string) string {
	p = strings.Trim(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
