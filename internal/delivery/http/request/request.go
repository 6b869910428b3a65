package request

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/user/note-enricher/internal/entity"
)

// ErrMissingURL is returned when the url query parameter is absent.
var ErrMissingURL = errors.New("url query parameter is required")

// ExtractQuery is the parsed query of the extraction stream endpoint.
type ExtractQuery struct {
	URL     string
	Options entity.ExtractionOptions
}

// ParseExtractQuery reads url, maxChars, format, timestamps, youtube, podcast,
// rescue and strategy from the query string. Absent knobs keep defaults.
func ParseExtractQuery(q url.Values) (ExtractQuery, error) {
	var out ExtractQuery
	out.URL = strings.TrimSpace(q.Get("url"))
	if out.URL == "" {
		return out, ErrMissingURL
	}
	if _, err := url.ParseRequestURI(out.URL); err != nil {
		return out, fmt.Errorf("invalid url: %w", err)
	}

	if v := q.Get("maxChars"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return out, errors.New("maxChars must be a positive integer")
		}
		out.Options.MaxCharacters = n
	}

	switch f := entity.ContentFormat(q.Get("format")); f {
	case "", entity.FormatText, entity.FormatMarkdown:
		out.Options.Format = f
	default:
		return out, fmt.Errorf("unknown format %q", f)
	}

	var err error
	if out.Options.IncludeTimestamps, err = parseBool(q, "timestamps"); err != nil {
		return out, err
	}
	if out.Options.EnableYouTube, err = parseOptionalBool(q, "youtube"); err != nil {
		return out, err
	}
	if out.Options.EnablePodcast, err = parseOptionalBool(q, "podcast"); err != nil {
		return out, err
	}
	if out.Options.EnableRescue, err = parseOptionalBool(q, "rescue"); err != nil {
		return out, err
	}

	for _, v := range q["strategy"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out.Options.Strategies = append(out.Options.Strategies, name)
			}
		}
	}
	return out, nil
}

// ParseForce reads the force flag of the enrich endpoint.
func ParseForce(q url.Values) (bool, error) {
	return parseBool(q, "force")
}

func parseBool(q url.Values, key string) (bool, error) {
	b, err := parseOptionalBool(q, key)
	if err != nil || b == nil {
		return false, err
	}
	return *b, nil
}

func parseOptionalBool(q url.Values, key string) (*bool, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be a boolean", key)
	}
	return &b, nil
}
