package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/pkg/metrics"
	"go.uber.org/zap"
)

// Orchestrator classifies URLs and runs the matching cascade until a step succeeds.
type Orchestrator struct {
	cascades map[entity.URLKind]Cascade
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator. Kinds without a cascade fall back to generic-page.
func NewOrchestrator(cascades map[entity.URLKind]Cascade, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cascades: cascades, logger: logger, now: time.Now}
}

// plan is the resolved list of steps for one extraction.
type plan struct {
	kind     entity.URLKind
	metadata Strategy
	steps    []Strategy
}

func (p plan) total() int {
	n := len(p.steps)
	if p.metadata != nil {
		n++
	}
	return n
}

// Extract runs the cascade for rawURL. Individual step failures are logged and
// reported as progress; only exhaustion of every step returns an error, and that
// error is always an *ExtractionFailedError.
func (o *Orchestrator) Extract(ctx context.Context, rawURL string, opts entity.ExtractionOptions, emitter entity.ProgressEmitter) (*entity.ExtractionResult, error) {
	opts = opts.WithDefaults()
	if emitter == nil {
		emitter = entity.NopEmitter{}
	}
	start := o.now()

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		emitter.OnProgress(entity.ProgressEvent{Step: "extraction:failed", Progress: 100, Message: "invalid url"})
		return nil, &ExtractionFailedError{URL: rawURL, LastErr: ErrInvalidURL}
	}
	rawURL = u.String()

	ctx, cancel := context.WithTimeout(ctx, opts.TotalTimeout)
	defer cancel()

	p := o.plan(rawURL, opts)
	log := o.logger.With(zap.String("url", rawURL), zap.String("kind", string(p.kind)))
	log.Info("starting extraction", zap.Strings("steps", Cascade{Steps: p.steps}.Names()))

	emitter.OnProgress(entity.ProgressEvent{
		Step:     "classify",
		Progress: 0,
		Message:  fmt.Sprintf("Classified as %s", p.kind),
	})

	req := &Request{URL: rawURL, Kind: p.kind, Options: opts}
	total := p.total()
	index := 0

	if p.metadata != nil {
		out, _ := o.runStep(ctx, log, p.metadata, req, index, total, emitter, true)
		if out != nil {
			req.Partial = out
		}
		index++
	}

	var (
		lastErr     error
		salvage     *Outcome
		salvageStep string
	)
	for _, step := range p.steps {
		if ctx.Err() != nil {
			log.Warn("extraction deadline reached, stopping cascade", zap.String("next_step", step.Name()))
			lastErr = ctx.Err()
			break
		}
		out, stepErr := o.runStep(ctx, log, step, req, index, total, emitter, false)
		index++
		if stepErr != nil {
			if !errors.Is(stepErr, ErrStrategySkipped) {
				lastErr = stepErr
			}
			var pe *PartialError
			if salvage == nil && errors.As(stepErr, &pe) && !pe.Outcome.empty() {
				salvage, salvageStep = pe.Outcome, step.Name()
			}
			continue
		}
		res := o.buildResult(rawURL, p.kind, opts, step.Name(), out, req.Partial)
		o.finish(log, emitter, res, start)
		return res, nil
	}

	if salvage != nil {
		log.Info("all content steps failed, returning partial content", zap.String("strategy", salvageStep), zap.NamedError("last_error", lastErr))
		res := o.buildResult(rawURL, p.kind, opts, salvageStep, salvage, req.Partial)
		o.finish(log, emitter, res, start)
		return res, nil
	}

	if req.Partial.hasMetadata() {
		log.Info("all content steps failed, returning metadata", zap.NamedError("last_error", lastErr))
		res := o.buildResult(rawURL, p.kind, opts, p.metadata.Name(), req.Partial, nil)
		o.finish(log, emitter, res, start)
		return res, nil
	}

	if lastErr == nil {
		lastErr = ErrNoStrategy
	}
	metrics.ObserveExtraction(string(p.kind), o.now().Sub(start).Seconds())
	log.Warn("extraction failed", zap.Error(lastErr))
	emitter.OnProgress(entity.ProgressEvent{Step: "extraction:failed", Progress: 100, Message: lastErr.Error()})
	return nil, &ExtractionFailedError{URL: rawURL, LastErr: lastErr}
}

func (o *Orchestrator) plan(rawURL string, opts entity.ExtractionOptions) plan {
	kind := Classify(rawURL, opts)
	c, ok := o.cascades[kind]
	if !ok {
		c = o.cascades[entity.KindGenericPage]
	}
	return plan{kind: kind, metadata: c.Metadata, steps: selectSteps(c.Steps, opts.Strategies)}
}

// runStep executes one strategy with its own deadline and reports start and end.
// A metadata step only needs a title, description or text to count as a success.
func (o *Orchestrator) runStep(ctx context.Context, log *zap.Logger, s Strategy, req *Request, index, total int, emitter entity.ProgressEmitter, metadata bool) (*Outcome, error) {
	name := s.Name()
	startPct, endPct := stepProgress(index, total)

	emitter.OnProgress(entity.ProgressEvent{
		Step:     name + ":start",
		Progress: startPct,
		Message:  fmt.Sprintf("Trying %s (step %d of %d)", name, index+1, total),
	})

	if !s.Applies(req.Kind, req.Options) {
		log.Debug("strategy not applicable", zap.String("strategy", name))
		metrics.ObserveStep(name, "skipped")
		emitter.OnProgress(entity.ProgressEvent{Step: name + ":skipped", Progress: endPct, Message: name + " is not configured"})
		return nil, Skip("not applicable")
	}

	timeout := req.Options.RequestTimeout
	if t, ok := s.(StepTimeouter); ok {
		if d := t.StepTimeout(req.Options); d > 0 {
			timeout = d
		}
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	began := o.now()
	out, err := s.Attempt(stepCtx, req)
	if err == nil {
		if (metadata && !out.hasMetadata()) || (!metadata && out.empty()) {
			err = ErrEmptyContent
		}
	}
	elapsed := o.now().Sub(began)

	switch {
	case err == nil:
		log.Info("strategy succeeded", zap.String("strategy", name), zap.Duration("elapsed", elapsed))
		metrics.ObserveStep(name, "success")
		emitter.OnProgress(entity.ProgressEvent{Step: name + ":done", Progress: endPct, Message: name + " succeeded"})
		return out, nil
	case errors.Is(err, ErrStrategySkipped):
		log.Debug("strategy skipped", zap.String("strategy", name), zap.Error(err))
		metrics.ObserveStep(name, "skipped")
		emitter.OnProgress(entity.ProgressEvent{Step: name + ":skipped", Progress: endPct, Message: err.Error()})
		return nil, err
	default:
		log.Warn("strategy failed", zap.String("strategy", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		metrics.ObserveStep(name, "failure")
		emitter.OnProgress(entity.ProgressEvent{Step: name + ":failed", Progress: endPct, Message: err.Error()})
		return nil, fmt.Errorf("%s: %w", name, err)
	}
}

// stepProgress spreads steps over 0..95, leaving the tail for the final event.
func stepProgress(index, total int) (int, int) {
	if total <= 0 {
		return 0, 95
	}
	return index * 95 / total, (index + 1) * 95 / total
}

func (o *Orchestrator) finish(log *zap.Logger, emitter entity.ProgressEmitter, res *entity.ExtractionResult, start time.Time) {
	metrics.ObserveExtraction(string(res.Kind), o.now().Sub(start).Seconds())
	log.Info("extraction completed",
		zap.String("strategy", res.Diagnostics.StrategyUsed),
		zap.Int("word_count", res.WordCount),
		zap.Bool("truncated", res.Truncated),
	)
	emitter.OnProgress(entity.ProgressEvent{
		Step:     "extraction:done",
		Progress: 100,
		Message:  fmt.Sprintf("Extracted %d words via %s", res.WordCount, res.Diagnostics.StrategyUsed),
	})
}

// buildResult normalizes a winning outcome, filling gaps from the metadata outcome.
func (o *Orchestrator) buildResult(rawURL string, kind entity.URLKind, opts entity.ExtractionOptions, strategy string, out, partial *Outcome) *entity.ExtractionResult {
	if partial == nil {
		partial = &Outcome{}
	}
	res := &entity.ExtractionResult{
		URL:         rawURL,
		Kind:        kind,
		Title:       firstNonEmpty(out.Title, partial.Title),
		Description: firstNonEmpty(out.Description, partial.Description),
		SiteName:    firstNonEmpty(out.SiteName, partial.SiteName),
		ExtractedAt: o.now().UTC(),
		Diagnostics: entity.Diagnostics{
			StrategyUsed:  strategy,
			FirecrawlUsed: out.FirecrawlUsed,
		},
	}

	content := renderContent(out, opts)
	if content == "" && out.Transcript == nil {
		content = strings.TrimSpace(firstNonEmpty(out.Description, out.Title))
	}

	res.TotalCharacters = utf8.RuneCountInString(content)
	res.WordCount = CountWords(content)
	res.Content, res.Truncated = Truncate(content, opts.MaxCharacters)

	media := out.Media
	if media == nil {
		media = partial.Media
	}
	if out.Transcript != nil && out.Transcript.Text != "" {
		transcript := *out.Transcript
		if transcript.Source == "" {
			transcript.Source = strategy
		}
		FillTranscriptCounts(&transcript)
		res.Transcript = &transcript
		res.Diagnostics.TranscriptProvider = firstNonEmpty(out.Provider, transcript.Source)
		if media == nil || (media.Type != entity.MediaAudio && media.Type != entity.MediaVideo) {
			media = defaultMedia(rawURL, kind)
		}
	}
	if media != nil {
		m := *media
		res.Media = &m
	}
	return res
}

func renderContent(out *Outcome, opts entity.ExtractionOptions) string {
	if out.Transcript != nil && out.Transcript.Text != "" {
		return RenderTranscript(out.Transcript, opts.IncludeTimestamps)
	}
	if opts.Format == entity.FormatMarkdown {
		if out.Markdown != "" {
			return strings.TrimSpace(out.Markdown)
		}
		if out.HTML != "" {
			if md, err := RenderMarkdown(out.HTML); err == nil && md != "" {
				return md
			}
		}
	}
	return strings.TrimSpace(out.Content)
}

// defaultMedia guesses the media of a transcribed URL from its kind.
func defaultMedia(rawURL string, kind entity.URLKind) *entity.Media {
	switch kind {
	case entity.KindYouTubeVideo:
		return &entity.Media{Type: entity.MediaVideo}
	case entity.KindDirectMedia:
		if t := MediaTypeOf(rawURL); t != "" {
			return &entity.Media{Type: t}
		}
	}
	return &entity.Media{Type: entity.MediaAudio}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
