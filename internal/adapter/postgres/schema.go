package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables read and written by the note processor.
const Schema = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL DEFAULT 'url',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS note_extractions (
	note_id          TEXT PRIMARY KEY REFERENCES notes(id) ON DELETE CASCADE,
	url              TEXT NOT NULL,
	kind             TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	site_name        TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL DEFAULT '',
	word_count       INTEGER NOT NULL DEFAULT 0,
	total_characters INTEGER NOT NULL DEFAULT 0,
	truncated        BOOLEAN NOT NULL DEFAULT FALSE,
	transcript       JSONB,
	media            JSONB,
	diagnostics      JSONB NOT NULL,
	extracted_at     TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema applies Schema. Statements are idempotent.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, Schema)
	return err
}
