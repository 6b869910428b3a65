package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/repository"
)

// NoteRepoImpl provides a concrete implementation for the NoteRepository interface using PostgreSQL.
type NoteRepoImpl struct {
	db *pgxpool.Pool
}

// NewNoteRepo creates a new instance of NoteRepoImpl.
func NewNoteRepo(db *pgxpool.Pool) *NoteRepoImpl {
	return &NoteRepoImpl{db: db}
}

// FindByID retrieves a note. Missing rows map to repository.ErrNotFound.
func (r *NoteRepoImpl) FindByID(ctx context.Context, id string) (*entity.Note, error) {
	query := `SELECT id, url, kind, created_at FROM notes WHERE id = $1;`

	var n entity.Note
	err := r.db.QueryRow(ctx, query, id).Scan(&n.ID, &n.URL, &n.Kind, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}
