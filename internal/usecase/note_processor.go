package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/repository"
	"go.uber.org/zap"
)

// Extractor runs the extraction cascade for a URL.
type Extractor interface {
	Extract(ctx context.Context, rawURL string, opts entity.ExtractionOptions, emitter entity.ProgressEmitter) (*entity.ExtractionResult, error)
}

// NoteSummary is the job result stored on completed records.
type NoteSummary struct {
	NoteID             string         `json:"noteId"`
	URL                string         `json:"url"`
	Kind               entity.URLKind `json:"kind"`
	Title              string         `json:"title,omitempty"`
	WordCount          int            `json:"wordCount"`
	Truncated          bool           `json:"truncated"`
	StrategyUsed       string         `json:"strategyUsed"`
	TranscriptProvider string         `json:"transcriptProvider,omitempty"`
}

// NoteProcessor loads a note, extracts its URL and stores the result.
type NoteProcessor struct {
	notes       repository.NoteRepository
	extractions repository.ExtractionRepository
	extractor   Extractor
	opts        entity.ExtractionOptions
	logger      *zap.Logger
}

// NewNoteProcessor creates a NoteProcessor.
func NewNoteProcessor(notes repository.NoteRepository, extractions repository.ExtractionRepository, extractor Extractor, opts entity.ExtractionOptions, logger *zap.Logger) *NoteProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoteProcessor{notes: notes, extractions: extractions, extractor: extractor, opts: opts, logger: logger}
}

// Process implements Processor.
func (p *NoteProcessor) Process(ctx context.Context, payload entity.NotePayload, emitter entity.ProgressEmitter) (json.RawMessage, error) {
	noteID := strings.TrimSpace(payload.NoteID)
	if noteID == "" {
		return nil, Permanent(fmt.Errorf("%w: noteId is required", ErrInvalidPayload))
	}

	note, err := p.notes.FindByID(ctx, noteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Permanent(fmt.Errorf("%w: %s", ErrNoteNotFound, noteID))
		}
		return nil, Retryable(fmt.Errorf("load note %s: %w", noteID, err))
	}
	if strings.TrimSpace(note.URL) == "" {
		return nil, Permanent(fmt.Errorf("%w: note %s has no url", ErrInvalidPayload, noteID))
	}

	res, err := p.extractor.Extract(ctx, note.URL, p.opts, emitter)
	if err != nil {
		return nil, err
	}

	if err := p.extractions.Save(ctx, noteID, res); err != nil {
		return nil, Retryable(fmt.Errorf("save extraction of note %s: %w", noteID, err))
	}

	p.logger.Info("note enriched",
		zap.String("note_id", noteID),
		zap.String("strategy", res.Diagnostics.StrategyUsed),
		zap.Int("word_count", res.WordCount),
	)

	return json.Marshal(NoteSummary{
		NoteID:             noteID,
		URL:                res.URL,
		Kind:               res.Kind,
		Title:              res.Title,
		WordCount:          res.WordCount,
		Truncated:          res.Truncated,
		StrategyUsed:       res.Diagnostics.StrategyUsed,
		TranscriptProvider: res.Diagnostics.TranscriptProvider,
	})
}
