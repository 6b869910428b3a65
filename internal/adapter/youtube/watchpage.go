package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/user/note-enricher/internal/adapter/readability"
	"github.com/user/note-enricher/internal/repository"
	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the origin watch pages are fetched from.
const DefaultBaseURL = "https://www.youtube.com"

// watchPageTTL covers the strategies of one extraction that read the same page.
const watchPageTTL = 2 * time.Minute

var errNoPlayerResponse = errors.New("player response not found in watch page")

// captionTrack is one entry of the caption track list.
type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
	Name         struct {
		SimpleText string `json:"simpleText"`
	} `json:"name"`
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails struct {
		VideoID          string `json:"videoId"`
		Title            string `json:"title"`
		ShortDescription string `json:"shortDescription"`
		LengthSeconds    string `json:"lengthSeconds"`
		Author           string `json:"author"`
		IsLiveContent    bool   `json:"isLiveContent"`
	} `json:"videoDetails"`
	Captions struct {
		Renderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

// WatchPage is the parsed watch page of one video.
type WatchPage struct {
	VideoID     string
	Title       string
	Description string
	Author      string
	Duration    *float64
	IsLive      bool
	Tracks      []captionTrack
}

type cachedWatchPage struct {
	page    *WatchPage
	expires time.Time
}

// WatchPageClient fetches and parses watch pages. Parsed pages are shared
// read-only for watchPageTTL, and concurrent Gets of one video share a fetch.
type WatchPageClient struct {
	fetcher repository.PageFetcher
	baseURL string
	now     func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cachedWatchPage
}

// NewWatchPageClient creates a WatchPageClient. An empty baseURL uses DefaultBaseURL.
func NewWatchPageClient(fetcher repository.PageFetcher, baseURL string) *WatchPageClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &WatchPageClient{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
		cache:   make(map[string]cachedWatchPage),
	}
}

// Get returns the watch page of videoID. Callers must not modify it.
func (c *WatchPageClient) Get(ctx context.Context, videoID string) (*WatchPage, error) {
	if wp, ok := c.cached(videoID); ok {
		return wp, nil
	}
	v, err, _ := c.group.Do(videoID, func() (any, error) {
		if wp, ok := c.cached(videoID); ok {
			return wp, nil
		}
		wp, err := c.fetch(ctx, videoID)
		if err != nil {
			return nil, err
		}
		c.store(videoID, wp)
		return wp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*WatchPage), nil
}

func (c *WatchPageClient) cached(videoID string) (*WatchPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[videoID]
	if !ok || !c.now().Before(entry.expires) {
		return nil, false
	}
	return entry.page, true
}

func (c *WatchPageClient) store(videoID string, wp *WatchPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, entry := range c.cache {
		if !now.Before(entry.expires) {
			delete(c.cache, id)
		}
	}
	c.cache[videoID] = cachedWatchPage{page: wp, expires: now.Add(watchPageTTL)}
}

func (c *WatchPageClient) fetch(ctx context.Context, videoID string) (*WatchPage, error) {
	page, err := c.fetcher.Fetch(ctx, c.baseURL+"/watch?v="+videoID+"&hl=en")
	if err != nil {
		return nil, fmt.Errorf("fetch watch page: %w", err)
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		return nil, fmt.Errorf("watch page returned status %d", page.StatusCode)
	}
	return parseWatchPage(videoID, page.Body)
}

func parseWatchPage(videoID string, body []byte) (*WatchPage, error) {
	wp := &WatchPage{VideoID: videoID}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		md := readability.ParseMetadata(doc)
		wp.Title = md.Title
		wp.Description = md.Description
	}

	pr, err := extractPlayerResponse(body)
	if err != nil {
		if wp.Title == "" {
			return nil, err
		}
		return wp, nil
	}
	if s := pr.PlayabilityStatus.Status; s != "" && s != "OK" {
		return nil, fmt.Errorf("video not playable: %s %s", s, pr.PlayabilityStatus.Reason)
	}

	vd := pr.VideoDetails
	if vd.Title != "" {
		wp.Title = vd.Title
	}
	if vd.ShortDescription != "" {
		wp.Description = vd.ShortDescription
	}
	wp.Author = vd.Author
	wp.IsLive = vd.IsLiveContent
	if secs, err := strconv.ParseFloat(vd.LengthSeconds, 64); err == nil && secs > 0 {
		wp.Duration = &secs
	}
	wp.Tracks = pr.Captions.Renderer.CaptionTracks
	return wp, nil
}

// extractPlayerResponse decodes the ytInitialPlayerResponse object embedded in the page script.
func extractPlayerResponse(body []byte) (*playerResponse, error) {
	marker := []byte("ytInitialPlayerResponse")
	i := bytes.Index(body, marker)
	if i < 0 {
		return nil, errNoPlayerResponse
	}
	j := bytes.IndexByte(body[i:], '{')
	if j < 0 {
		return nil, errNoPlayerResponse
	}
	var pr playerResponse
	if err := json.NewDecoder(bytes.NewReader(body[i+j:])).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode player response: %w", err)
	}
	return &pr, nil
}

// pickTrack prefers a manual English track, then auto generated English, then the first track.
func pickTrack(tracks []captionTrack) (captionTrack, bool) {
	if len(tracks) == 0 {
		return captionTrack{}, false
	}
	var asr *captionTrack
	for i := range tracks {
		t := tracks[i]
		if !strings.HasPrefix(t.LanguageCode, "en") {
			continue
		}
		if t.Kind != "asr" {
			return t, true
		}
		if asr == nil {
			asr = &tracks[i]
		}
	}
	if asr != nil {
		return *asr, true
	}
	return tracks[0], true
}
