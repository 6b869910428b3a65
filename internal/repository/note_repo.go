package repository

import (
	"context"

	"github.com/user/note-enricher/internal/entity"
)

// NoteRepository reads the notes a job refers to.
type NoteRepository interface {
	// FindByID returns ErrNotFound when the note does not exist.
	FindByID(ctx context.Context, id string) (*entity.Note, error)
}

// ExtractionRepository stores extraction results for notes.
type ExtractionRepository interface {
	// Save stores the result for a note. An existing result is replaced.
	Save(ctx context.Context, noteID string, res *entity.ExtractionResult) error
	// FindByNoteID returns ErrNotFound when nothing was stored yet.
	FindByNoteID(ctx context.Context, noteID string) (*entity.ExtractionResult, error)
}
