package extraction

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/user/note-enricher/internal/entity"
)

// Truncate cuts s to at most max runes. It never splits a rune.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	n := 0
	for i := range s {
		if n == max {
			return strings.TrimRightFunc(s[:i], unicode.IsSpace), true
		}
		n++
	}
	return s, false
}

// CountWords counts whitespace separated words.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// FormatTimestamp renders milliseconds as [mm:ss], or [h:mm:ss] past the hour.
func FormatTimestamp(ms int64) string {
	total := ms / 1000
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("[%d:%02d:%02d]", h, m, s)
	}
	return fmt.Sprintf("[%02d:%02d]", m, s)
}

// RenderTranscript returns the transcript text, or one timestamped line per
// segment when timestamps are requested and segments exist.
func RenderTranscript(t *entity.Transcript, timestamps bool) string {
	if t == nil {
		return ""
	}
	if !timestamps || len(t.Segments) == 0 {
		return strings.TrimSpace(t.Text)
	}
	var b strings.Builder
	for i, seg := range t.Segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(FormatTimestamp(seg.StartMs))
		b.WriteByte(' ')
		b.WriteString(strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// JoinSegments builds the plain transcript text from segments.
func JoinSegments(segments []entity.TranscriptSegment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// FillTranscriptCounts sets WordCount and CharacterCount when the provider left them empty.
func FillTranscriptCounts(t *entity.Transcript) {
	if t == nil {
		return
	}
	if t.WordCount == nil {
		wc := CountWords(t.Text)
		t.WordCount = &wc
	}
	if t.CharacterCount == nil {
		cc := utf8.RuneCountInString(t.Text)
		t.CharacterCount = &cc
	}
}
