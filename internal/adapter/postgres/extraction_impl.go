package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/repository"
)

// ExtractionRepoImpl provides a concrete implementation for the ExtractionRepository interface using PostgreSQL.
type ExtractionRepoImpl struct {
	db *pgxpool.Pool
}

// NewExtractionRepo creates a new instance of ExtractionRepoImpl.
func NewExtractionRepo(db *pgxpool.Pool) *ExtractionRepoImpl {
	return &ExtractionRepoImpl{db: db}
}

// Save stores or replaces the extraction result of a note.
func (r *ExtractionRepoImpl) Save(ctx context.Context, noteID string, res *entity.ExtractionResult) error {
	transcriptJSON, err := marshalNullable(res.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	mediaJSON, err := marshalNullable(res.Media)
	if err != nil {
		return fmt.Errorf("encode media: %w", err)
	}
	diagnosticsJSON, err := json.Marshal(res.Diagnostics)
	if err != nil {
		return fmt.Errorf("encode diagnostics: %w", err)
	}

	query := `
		INSERT INTO note_extractions (note_id, url, kind, title, description, site_name, content,
			word_count, total_characters, truncated, transcript, media, diagnostics, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (note_id) DO UPDATE SET
			url = EXCLUDED.url,
			kind = EXCLUDED.kind,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			site_name = EXCLUDED.site_name,
			content = EXCLUDED.content,
			word_count = EXCLUDED.word_count,
			total_characters = EXCLUDED.total_characters,
			truncated = EXCLUDED.truncated,
			transcript = EXCLUDED.transcript,
			media = EXCLUDED.media,
			diagnostics = EXCLUDED.diagnostics,
			extracted_at = EXCLUDED.extracted_at,
			updated_at = NOW();
	`

	_, err = r.db.Exec(ctx, query,
		noteID,
		res.URL,
		string(res.Kind),
		res.Title,
		res.Description,
		res.SiteName,
		res.Content,
		res.WordCount,
		res.TotalCharacters,
		res.Truncated,
		transcriptJSON,
		mediaJSON,
		diagnosticsJSON,
		res.ExtractedAt,
	)
	return err
}

// FindByNoteID retrieves the stored extraction for a note.
func (r *ExtractionRepoImpl) FindByNoteID(ctx context.Context, noteID string) (*entity.ExtractionResult, error) {
	query := `
		SELECT url, kind, title, description, site_name, content, word_count, total_characters,
			truncated, transcript, media, diagnostics, extracted_at
		FROM note_extractions
		WHERE note_id = $1;
	`

	var (
		res                                   entity.ExtractionResult
		kind                                  string
		transcriptJSON, mediaJSON, diagnostic []byte
	)
	err := r.db.QueryRow(ctx, query, noteID).Scan(
		&res.URL,
		&kind,
		&res.Title,
		&res.Description,
		&res.SiteName,
		&res.Content,
		&res.WordCount,
		&res.TotalCharacters,
		&res.Truncated,
		&transcriptJSON,
		&mediaJSON,
		&diagnostic,
		&res.ExtractedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	res.Kind = entity.URLKind(kind)

	if len(transcriptJSON) > 0 {
		res.Transcript = &entity.Transcript{}
		if err := json.Unmarshal(transcriptJSON, res.Transcript); err != nil {
			return nil, err
		}
	}
	if len(mediaJSON) > 0 {
		res.Media = &entity.Media{}
		if err := json.Unmarshal(mediaJSON, res.Media); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(diagnostic, &res.Diagnostics); err != nil {
		return nil, err
	}
	return &res, nil
}

// marshalNullable returns nil for a nil pointer so the column stays NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
