package repository

import (
	"context"

	"github.com/user/note-enricher/internal/entity"
)

// FetchedPage is the raw response of a page fetch.
type FetchedPage struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte
}

// PageFetcher fetches a URL over HTTP.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedPage, error)
}

// RescuedPage is content recovered by a rescue fetcher for a blocked page.
type RescuedPage struct {
	Title       string
	Description string
	SiteName    string
	HTML        string // rendered HTML, empty when the provider returns markdown only
	Markdown    string
}

// RescueFetcher recovers pages that the direct fetch could not read.
type RescueFetcher interface {
	// Name identifies the provider in diagnostics.
	Name() string
	// Available reports whether the provider is configured.
	Available() bool
	Rescue(ctx context.Context, url string) (*RescuedPage, error)
}

// MediaDownloader stores remote media in a local file.
type MediaDownloader interface {
	// Download writes the media at url to a temp file and returns its path.
	// The caller removes the file.
	Download(ctx context.Context, url string) (string, error)
}

// Transcriber converts a local audio or video file to text.
type Transcriber interface {
	// Name identifies the provider in diagnostics.
	Name() string
	// Available reports whether the provider is configured.
	Available() bool
	// Transcribe returns the transcript and, when known, the media duration in seconds.
	Transcribe(ctx context.Context, path string) (*entity.Transcript, *float64, error)
}
