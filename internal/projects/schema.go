package projects

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables the store needs. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name            TEXT NOT NULL,
	email           TEXT NOT NULL UNIQUE,
	hashed_password TEXT NOT NULL,
	roles           TEXT[] NOT NULL DEFAULT '{user}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS projects (
	id                 UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name               TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	created_by_user_id UUID NOT NULL REFERENCES users(id),
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS project_messages (
	project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	position   INT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (project_id, position)
);

CREATE TABLE IF NOT EXISTS project_files (
	project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	file_path  TEXT NOT NULL,
	content    TEXT NOT NULL,
	language   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (project_id, file_path)
);

CREATE TABLE IF NOT EXISTS generations (
	id                 UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	project_id         UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	created_by_user_id UUID NOT NULL REFERENCES users(id),
	prompt             TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	result             JSONB,
	error              TEXT,
	audit_trail        JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS generations_project_status_idx ON generations (project_id, status);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
