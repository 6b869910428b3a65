package podcast

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/user/note-enricher/internal/adapter/readability"
	"github.com/user/note-enricher/internal/repository"
	"github.com/user/note-enricher/pkg/utils"
)

// DefaultLookupBaseURL is the iTunes Search API origin.
const DefaultLookupBaseURL = "https://itunes.apple.com"

var appleIDPattern = regexp.MustCompile(`/id(\d+)`)

// JSONGetter performs a GET and decodes the JSON answer. *httpfetch.Client satisfies it.
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error
}

// Episode is the feed item selected for transcription.
type Episode struct {
	Title        string
	Description  string
	ShowTitle    string
	EnclosureURL string
	Published    *time.Time
	Duration     *float64
}

// Resolver turns a podcast platform page into its feed and episode.
type Resolver struct {
	fetcher   repository.PageFetcher
	client    JSONGetter
	lookupURL string
}

// NewResolver creates a Resolver. An empty lookupURL uses DefaultLookupBaseURL.
func NewResolver(fetcher repository.PageFetcher, client JSONGetter, lookupURL string) *Resolver {
	if lookupURL == "" {
		lookupURL = DefaultLookupBaseURL
	}
	return &Resolver{fetcher: fetcher, client: client, lookupURL: strings.TrimRight(lookupURL, "/")}
}

// AppleID returns the numeric show id of an Apple Podcasts URL.
func AppleID(rawURL string) (string, bool) {
	if utils.Hostname(rawURL) != "podcasts.apple.com" {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	m := appleIDPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// AppleEpisodeID returns the ?i= episode id of an Apple Podcasts URL.
func AppleEpisodeID(rawURL string) (int64, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(u.Query().Get("i"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// EpisodeHint identifies the episode a page refers to. Any field may be empty.
type EpisodeHint struct {
	Title        string
	GUID         string
	EnclosureURL string
}

type lookupResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		WrapperType    string `json:"wrapperType"`
		CollectionName string `json:"collectionName"`
		FeedURL        string `json:"feedUrl"`
		TrackID        int64  `json:"trackId"`
		TrackName      string `json:"trackName"`
		EpisodeURL     string `json:"episodeUrl"`
		EpisodeGUID    string `json:"episodeGuid"`
	} `json:"results"`
}

// appleLookup asks iTunes for the feed of a show. With an episode id it also
// lists recent episodes and returns the one whose trackId matches.
func (r *Resolver) appleLookup(ctx context.Context, showID string, episodeID int64) (string, EpisodeHint, error) {
	endpoint := r.lookupURL + "/lookup?entity=podcast&id=" + url.QueryEscape(showID)
	if episodeID > 0 {
		endpoint = r.lookupURL + "/lookup?entity=podcastEpisode&limit=200&id=" + url.QueryEscape(showID)
	}
	var lr lookupResponse
	if err := r.client.GetJSON(ctx, endpoint, nil, &lr); err != nil {
		return "", EpisodeHint{}, fmt.Errorf("itunes lookup: %w", err)
	}

	var (
		feedURL string
		hint    EpisodeHint
	)
	for _, res := range lr.Results {
		if feedURL == "" && res.FeedURL != "" {
			feedURL = res.FeedURL
		}
		if episodeID > 0 && res.TrackID == episodeID && res.WrapperType == "podcastEpisode" {
			hint = EpisodeHint{Title: res.TrackName, GUID: res.EpisodeGUID, EnclosureURL: res.EpisodeURL}
		}
	}
	return feedURL, hint, nil
}

// Resolve finds the feed behind pageURL and picks the episode the page refers to.
func (r *Resolver) Resolve(ctx context.Context, pageURL string) (*Episode, error) {
	var (
		feedURL string
		hint    EpisodeHint
	)

	if showID, ok := AppleID(pageURL); ok {
		episodeID, _ := AppleEpisodeID(pageURL)
		var err error
		if feedURL, hint, err = r.appleLookup(ctx, showID, episodeID); err != nil {
			return nil, err
		}
	}

	// The page title identifies the episode; it also yields the feed link for other hosts.
	page, err := r.fetcher.Fetch(ctx, pageURL)
	if err == nil && page.StatusCode >= 200 && page.StatusCode <= 299 {
		if doc, perr := goquery.NewDocumentFromReader(bytes.NewReader(page.Body)); perr == nil {
			md := readability.ParseMetadata(doc)
			if hint.Title == "" {
				hint.Title = md.Title
			}
			if feedURL == "" && len(md.FeedURLs) > 0 {
				base, _ := url.Parse(page.URL)
				if abs, aerr := utils.ToAbsoluteURL(base, md.FeedURLs[0]); aerr == nil {
					feedURL = abs
				}
			}
		}
	}

	if feedURL == "" {
		if err != nil {
			return nil, fmt.Errorf("no feed found for %s: %w", pageURL, err)
		}
		return nil, fmt.Errorf("no feed found for %s", pageURL)
	}

	feed, err := r.parseFeed(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	ep, ok := SelectEpisode(feed, hint)
	if !ok {
		return nil, fmt.Errorf("feed %s has no audio episodes", feedURL)
	}
	return ep, nil
}

func (r *Resolver) parseFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	page, err := r.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		return nil, fmt.Errorf("fetch feed %s: status %d", feedURL, page.StatusCode)
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// SelectEpisode picks the item the hint points at, otherwise the most recent
// item. Only items with an audio or video enclosure qualify. Matches rank as
// GUID or enclosure URL, then an exact normalized title, then the longest item
// title that appears in the hint title as whole words.
func SelectEpisode(feed *gofeed.Feed, hint EpisodeHint) (*Episode, bool) {
	want := normalizeTitle(hint.Title)
	wantEnclosure := stripQuery(hint.EnclosureURL)

	var (
		byID    *gofeed.Item
		exact   *gofeed.Item
		partial *gofeed.Item
		latest  *gofeed.Item
	)
	for _, item := range feed.Items {
		enc := enclosureURL(item)
		if enc == "" {
			continue
		}
		if latest == nil || newer(item, latest) {
			latest = item
		}
		if byID == nil && ((hint.GUID != "" && item.GUID == hint.GUID) || (wantEnclosure != "" && stripQuery(enc) == wantEnclosure)) {
			byID = item
		}
		title := normalizeTitle(item.Title)
		if want == "" || title == "" {
			continue
		}
		if exact == nil && title == want {
			exact = item
			continue
		}
		if containsWords(want, title) && (partial == nil || len(title) > len(normalizeTitle(partial.Title))) {
			partial = item
		}
	}

	item := latest
	for _, candidate := range []*gofeed.Item{byID, exact, partial} {
		if candidate != nil {
			item = candidate
			break
		}
	}
	if item == nil {
		return nil, false
	}

	ep := &Episode{
		Title:        strings.TrimSpace(item.Title),
		Description:  plainText(item.Description),
		ShowTitle:    strings.TrimSpace(feed.Title),
		EnclosureURL: enclosureURL(item),
		Published:    item.PublishedParsed,
	}
	if item.ITunesExt != nil {
		ep.Duration = parseDuration(item.ITunesExt.Duration)
	}
	return ep, true
}

// containsWords reports whether needle occurs in haystack on word boundaries.
// Both are normalized titles.
func containsWords(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

func stripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

func enclosureURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		t := strings.ToLower(enc.Type)
		if t == "" || strings.HasPrefix(t, "audio/") || strings.HasPrefix(t, "video/") {
			return enc.URL
		}
	}
	return ""
}

func newer(a, b *gofeed.Item) bool {
	if a.PublishedParsed == nil {
		return false
	}
	if b.PublishedParsed == nil {
		return true
	}
	return a.PublishedParsed.After(*b.PublishedParsed)
}

var nonAlnum = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func normalizeTitle(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}

func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return readability.CleanText(doc.Text())
}

// parseDuration accepts seconds, MM:SS or HH:MM:SS.
func parseDuration(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var total float64
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil
		}
		total = total*60 + n
	}
	if total <= 0 {
		return nil
	}
	return &total
}
