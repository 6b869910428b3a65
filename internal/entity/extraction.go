package entity

import "time"

// URLKind is the classification of a URL that selects an extraction cascade.
type URLKind string

const (
	KindYouTubeVideo URLKind = "youtube-video"
	KindPodcastHost  URLKind = "podcast-host"
	KindDirectMedia  URLKind = "direct-media"
	KindGenericPage  URLKind = "generic-page"
)

// MediaType is the kind of media behind a URL.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
	MediaImage MediaType = "image"
)

// ContentFormat selects how the content body is rendered.
type ContentFormat string

const (
	FormatText     ContentFormat = "text"
	FormatMarkdown ContentFormat = "markdown"
)

// TranscriptSegment is a timestamped span of spoken text.
// A nil EndMs means the segment ends where the next one starts.
type TranscriptSegment struct {
	StartMs int64  `json:"startMs"`
	EndMs   *int64 `json:"endMs,omitempty"`
	Text    string `json:"text"`
}

// Transcript is the spoken text of audio or video content.
type Transcript struct {
	Text           string              `json:"text"`
	Source         string              `json:"source"`
	Segments       []TranscriptSegment `json:"segments,omitempty"`
	WordCount      *int                `json:"wordCount,omitempty"`
	CharacterCount *int                `json:"characterCount,omitempty"`
}

// Media describes the media type of the extracted URL.
type Media struct {
	Type            MediaType `json:"type"`
	DurationSeconds *float64  `json:"durationSeconds,omitempty"`
	VideoKind       string    `json:"videoKind,omitempty"`
	IsVideoOnly     *bool     `json:"isVideoOnly,omitempty"`
}

// Diagnostics records which cascade path produced a result.
type Diagnostics struct {
	StrategyUsed       string `json:"strategyUsed"`
	FirecrawlUsed      bool   `json:"firecrawlUsed"`
	TranscriptProvider string `json:"transcriptProvider,omitempty"`
}

// ExtractionResult is the normalized output of one extraction call.
// WordCount and TotalCharacters describe the full text before truncation.
type ExtractionResult struct {
	URL             string      `json:"url"`
	Kind            URLKind     `json:"kind"`
	Title           string      `json:"title,omitempty"`
	Description     string      `json:"description,omitempty"`
	SiteName        string      `json:"siteName,omitempty"`
	Content         string      `json:"content"`
	WordCount       int         `json:"wordCount"`
	TotalCharacters int         `json:"totalCharacters"`
	Truncated       bool        `json:"truncated"`
	Transcript      *Transcript `json:"transcript,omitempty"`
	Media           *Media      `json:"media,omitempty"`
	Diagnostics     Diagnostics `json:"diagnostics"`
	ExtractedAt     time.Time   `json:"extractedAt"`
}

// ExtractionOptions are caller supplied knobs; zero values take defaults.
type ExtractionOptions struct {
	RequestTimeout    time.Duration
	MediaTimeout      time.Duration
	TotalTimeout      time.Duration
	MaxCharacters     int
	Format            ContentFormat
	IncludeTimestamps bool
	EnableYouTube     *bool
	EnablePodcast     *bool
	EnableRescue      *bool
	Strategies        []string
}

// Default values applied by WithDefaults.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMediaTimeout   = 10 * time.Minute
	DefaultTotalTimeout   = 15 * time.Minute
	DefaultMaxCharacters  = 100000
)

// WithDefaults returns a copy with unset fields filled in.
func (o ExtractionOptions) WithDefaults() ExtractionOptions {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MediaTimeout <= 0 {
		o.MediaTimeout = DefaultMediaTimeout
	}
	if o.TotalTimeout <= 0 {
		o.TotalTimeout = DefaultTotalTimeout
	}
	if o.MaxCharacters <= 0 {
		o.MaxCharacters = DefaultMaxCharacters
	}
	if o.Format == "" {
		o.Format = FormatText
	}
	return o
}

// YouTubeEnabled defaults to true.
func (o ExtractionOptions) YouTubeEnabled() bool { return o.EnableYouTube == nil || *o.EnableYouTube }

// PodcastEnabled defaults to true.
func (o ExtractionOptions) PodcastEnabled() bool { return o.EnablePodcast == nil || *o.EnablePodcast }

// RescueEnabled defaults to true; the rescue step still needs a configured provider.
func (o ExtractionOptions) RescueEnabled() bool { return o.EnableRescue == nil || *o.EnableRescue }

// Note is the external note entity the processor reads its URL from.
type Note struct {
	ID        string
	URL       string
	Kind      string
	CreatedAt time.Time
}
