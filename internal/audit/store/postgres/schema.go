package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the DDL for the audit tables. Statements are idempotent so the
// schema can be applied on startup and by the integration test harness.
//
// seq is a BIGSERIAL assigned by the database at insert time; it is the
// secondary sort key that keeps pagination deterministic when created_at
// collides.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id              UUID PRIMARY KEY,
	seq             BIGSERIAL,
	tenant_id       UUID NOT NULL,
	actor_id        UUID,
	actor_name      TEXT NOT NULL DEFAULT '',
	action          TEXT NOT NULL,
	resource_type   TEXT NOT NULL DEFAULT '',
	resource_id     TEXT NOT NULL DEFAULT '',
	outcome         TEXT NOT NULL DEFAULT '',
	severity        TEXT NOT NULL DEFAULT '',
	ip_address      TEXT NOT NULL DEFAULT '',
	user_agent      TEXT NOT NULL DEFAULT '',
	request_data    JSONB,
	response_data   JSONB,
	metadata        JSONB,
	correlation_id  TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_tenant_created
	ON audit_events (tenant_id, created_at DESC, seq DESC);

CREATE INDEX IF NOT EXISTS idx_audit_events_actor
	ON audit_events (actor_id) WHERE actor_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_audit_events_created
	ON audit_events (created_at);

CREATE TABLE IF NOT EXISTS audit_exports (
	id                  UUID PRIMARY KEY,
	tenant_id           UUID NOT NULL,
	actor_id            UUID NOT NULL,
	format              TEXT NOT NULL,
	status              TEXT NOT NULL,
	filter              JSONB,
	total_records       BIGINT NOT NULL DEFAULT 0,
	processed_records   BIGINT NOT NULL DEFAULT 0,
	file_path           TEXT NOT NULL DEFAULT '',
	file_size_bytes     BIGINT NOT NULL DEFAULT 0,
	download_token      TEXT NOT NULL DEFAULT '',
	download_expires_at TIMESTAMPTZ,
	download_count      INT NOT NULL DEFAULT 0,
	max_downloads       INT NOT NULL DEFAULT 5,
	error_message       TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	started_at          TIMESTAMPTZ,
	completed_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_audit_exports_actor_created
	ON audit_exports (actor_id, created_at DESC);

CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_exports_token
	ON audit_exports (download_token) WHERE download_token <> '';
`

// EnsureSchema applies the DDL. Safe to call on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}
