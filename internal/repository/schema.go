package repository

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		api_key TEXT,
		api_key_usages INT,
		api_key_capacity INT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email)`,
	`CREATE TABLE IF NOT EXISTS forms (
		form_id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users (id),
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS form_submissions (
		id BIGSERIAL PRIMARY KEY,
		form_id TEXT NOT NULL,
		origin TEXT,
		parameters JSONB NOT NULL DEFAULT '{}',
		submitted_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_form_submissions_form_id ON form_submissions (form_id)`,
}

// EnsureSchema creates the tables and indexes if they do not exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
