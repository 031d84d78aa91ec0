package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS tts_profiles (
    id                     TEXT        PRIMARY KEY,
    name                   TEXT        NOT NULL UNIQUE,
    provider               TEXT        NOT NULL,
    voice_id               TEXT        NOT NULL,
    settings               JSONB       NOT NULL DEFAULT '{}',
    description            TEXT        NOT NULL DEFAULT '',
    tags                   JSONB       NOT NULL DEFAULT '[]',
    use_case               TEXT        NOT NULL DEFAULT '',
    is_active              BOOLEAN     NOT NULL DEFAULT true,
    is_default             BOOLEAN     NOT NULL DEFAULT false,
    created_from_session_id TEXT       NOT NULL DEFAULT '',
    sample_audio_path      TEXT        NOT NULL DEFAULT '',
    sample_text            TEXT        NOT NULL DEFAULT '',
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tts_profiles_single_default
    ON tts_profiles ((is_default))
    WHERE is_default AND is_active;
`

const ddlModuleProfiles = `
CREATE TABLE IF NOT EXISTS tts_module_profiles (
    id         TEXT        PRIMARY KEY,
    module_id  TEXT        NOT NULL,
    profile_id TEXT        NOT NULL REFERENCES tts_profiles (id) ON DELETE CASCADE,
    context    TEXT        NOT NULL DEFAULT '',
    priority   INTEGER     NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (module_id, profile_id, context)
);

CREATE INDEX IF NOT EXISTS idx_tts_module_profiles_module
    ON tts_module_profiles (module_id);
`

const ddlPregenJobs = `
CREATE TABLE IF NOT EXISTS tts_pregen_jobs (
    id                   TEXT        PRIMARY KEY,
    name                 TEXT        NOT NULL,
    job_type             TEXT        NOT NULL,
    status               TEXT        NOT NULL,
    source_type          TEXT        NOT NULL DEFAULT '',
    profile_id           TEXT        REFERENCES tts_profiles (id) ON DELETE SET NULL,
    tts_config           JSONB,
    output_dir           TEXT        NOT NULL DEFAULT '',
    total_items          INTEGER     NOT NULL DEFAULT 0,
    completed_items      INTEGER     NOT NULL DEFAULT 0,
    failed_items         INTEGER     NOT NULL DEFAULT 0,
    current_index        INTEGER     NOT NULL DEFAULT 0,
    current_text         TEXT        NOT NULL DEFAULT '',
    consecutive_failures INTEGER     NOT NULL DEFAULT 0,
    last_error           TEXT        NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at           TIMESTAMPTZ,
    paused_at            TIMESTAMPTZ,
    completed_at         TIMESTAMPTZ,
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    CHECK ((profile_id IS NOT NULL) <> (tts_config IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_tts_pregen_jobs_status
    ON tts_pregen_jobs (status);
`

const ddlPregenJobItems = `
CREATE TABLE IF NOT EXISTS tts_pregen_job_items (
    id                       TEXT        PRIMARY KEY,
    job_id                   TEXT        NOT NULL REFERENCES tts_pregen_jobs (id) ON DELETE CASCADE,
    item_index               INTEGER     NOT NULL,
    text                     TEXT        NOT NULL,
    text_hash                TEXT        NOT NULL,
    source_ref               TEXT        NOT NULL DEFAULT '',
    status                   TEXT        NOT NULL DEFAULT 'pending',
    attempt_count            INTEGER     NOT NULL DEFAULT 0,
    output_file              TEXT        NOT NULL DEFAULT '',
    duration_seconds         DOUBLE PRECISION NOT NULL DEFAULT 0,
    file_size_bytes          BIGINT      NOT NULL DEFAULT 0,
    sample_rate              INTEGER     NOT NULL DEFAULT 0,
    last_error               TEXT        NOT NULL DEFAULT '',
    processing_started_at    TIMESTAMPTZ,
    processing_completed_at  TIMESTAMPTZ,
    UNIQUE (job_id, item_index)
);

CREATE INDEX IF NOT EXISTS idx_tts_pregen_job_items_job_status
    ON tts_pregen_job_items (job_id, status, item_index);
`

const ddlComparisonSessions = `
CREATE TABLE IF NOT EXISTS tts_comparison_sessions (
    id            TEXT        PRIMARY KEY,
    name          TEXT        NOT NULL,
    status        TEXT        NOT NULL,
    samples       JSONB       NOT NULL DEFAULT '[]',
    configurations JSONB      NOT NULL DEFAULT '[]',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const ddlComparisonVariants = `
CREATE TABLE IF NOT EXISTS tts_comparison_variants (
    id               TEXT        PRIMARY KEY,
    session_id       TEXT        NOT NULL REFERENCES tts_comparison_sessions (id) ON DELETE CASCADE,
    sample_index     INTEGER     NOT NULL,
    config_index     INTEGER     NOT NULL,
    tts_config       JSONB       NOT NULL DEFAULT '{}',
    status           TEXT        NOT NULL DEFAULT 'pending',
    output_file      TEXT        NOT NULL DEFAULT '',
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (session_id, sample_index, config_index)
);

CREATE INDEX IF NOT EXISTS idx_tts_comparison_variants_session
    ON tts_comparison_variants (session_id);
`

const ddlComparisonRatings = `
CREATE TABLE IF NOT EXISTS tts_comparison_ratings (
    id         TEXT        PRIMARY KEY,
    variant_id TEXT        NOT NULL UNIQUE REFERENCES tts_comparison_variants (id) ON DELETE CASCADE,
    rating     INTEGER     NOT NULL CHECK (rating BETWEEN 1 AND 5),
    notes      TEXT        NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate creates every table this package owns if it does not already
// exist. Idempotent; safe to call on every process start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlProfiles,
		ddlModuleProfiles,
		ddlPregenJobs,
		ddlPregenJobItems,
		ddlComparisonSessions,
		ddlComparisonVariants,
		ddlComparisonRatings,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
