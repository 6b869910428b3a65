package extraction

import (
	"context"
	"time"

	"github.com/user/note-enricher/internal/entity"
)

// Request is what a strategy receives for one attempt.
type Request struct {
	URL     string
	Kind    entity.URLKind
	Options entity.ExtractionOptions
	// Partial is the output of the cascade's metadata step, nil when there is none.
	Partial *Outcome
}

// Outcome is the raw output of a successful strategy. The orchestrator
// normalizes it into an ExtractionResult.
type Outcome struct {
	Title       string
	Description string
	SiteName    string

	// Content is plain text. HTML and Markdown are optional richer renderings
	// used when markdown output is requested.
	Content  string
	HTML     string
	Markdown string

	Transcript *entity.Transcript
	Media      *entity.Media

	// Provider names the transcript provider.
	Provider      string
	FirecrawlUsed bool
}

func (o *Outcome) empty() bool {
	if o == nil {
		return true
	}
	if o.Transcript != nil && o.Transcript.Text != "" {
		return false
	}
	return o.Content == "" && o.HTML == "" && o.Markdown == ""
}

func (o *Outcome) hasMetadata() bool {
	return o != nil && (o.Title != "" || o.Description != "" || o.Content != "")
}

// Strategy turns a URL into content or fails. Implementations are stateless
// apart from their configured clients.
type Strategy interface {
	// Name is the stable identifier recorded in diagnostics and progress steps.
	Name() string
	// Applies reports whether the strategy may run for this kind and options.
	// A false answer is reported as a skipped step.
	Applies(kind entity.URLKind, opts entity.ExtractionOptions) bool
	// Attempt runs the strategy. Returning an error wrapping ErrStrategySkipped
	// marks the step as skipped rather than failed.
	Attempt(ctx context.Context, req *Request) (*Outcome, error)
}

// StepTimeouter is implemented by strategies that need a longer per-step
// deadline than Options.RequestTimeout, such as media downloads.
type StepTimeouter interface {
	StepTimeout(opts entity.ExtractionOptions) time.Duration
}

// Cascade is the ordered plan for one URL kind. Metadata, when set, runs first
// and its outcome becomes the fallback result if every step fails.
type Cascade struct {
	Metadata Strategy
	Steps    []Strategy
}

// Names lists the step names in order.
func (c Cascade) Names() []string {
	names := make([]string, 0, len(c.Steps))
	for _, s := range c.Steps {
		names = append(names, s.Name())
	}
	return names
}

// selectSteps applies an override list: only the named steps, in the given order.
func selectSteps(steps []Strategy, override []string) []Strategy {
	if len(override) == 0 {
		return steps
	}
	byName := make(map[string]Strategy, len(steps))
	for _, s := range steps {
		byName[s.Name()] = s
	}
	selected := make([]Strategy, 0, len(override))
	seen := make(map[string]bool, len(override))
	for _, name := range override {
		if s, ok := byName[name]; ok && !seen[name] {
			selected = append(selected, s)
			seen[name] = true
		}
	}
	return selected
}
