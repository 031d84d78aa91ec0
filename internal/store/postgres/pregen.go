package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/apresai/voicetutor/internal/cachekey"
	"github.com/apresai/voicetutor/internal/pregen"
	"github.com/apresai/voicetutor/internal/ttsprofile"
	"github.com/apresai/voicetutor/internal/ttsprovider"
)

// Compile-time check: *Store implements pregen.Repo.
var _ pregen.Repo = (*Store)(nil)

// CreateJob inserts the job row and every item row inside a single
// transaction, so a crash mid-insert never leaves a job with a partial
// item set.
func (s *Store) CreateJob(ctx context.Context, job *pregen.Job, items []*pregen.JobItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create job: %w", err)
	}
	defer tx.Rollback(ctx)

	var ttsConfigJSON []byte
	if job.TTSConfig != nil {
		ttsConfigJSON, err = json.Marshal(ttsConfigToRow(*job.TTSConfig))
		if err != nil {
			return fmt.Errorf("postgres: marshal tts config: %w", err)
		}
	}
	var profileID *string
	if job.ProfileID != "" {
		profileID = &job.ProfileID
	}

	const jobQ = `
		INSERT INTO tts_pregen_jobs
		    (id, name, job_type, status, source_type, profile_id, tts_config,
		     output_dir, total_items, completed_items, failed_items,
		     current_index, consecutive_failures, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err = tx.Exec(ctx, jobQ,
		job.ID, job.Name, string(job.Type), string(job.Status), job.SourceType,
		profileID, ttsConfigJSON, job.OutputDir, job.Total, job.Completed,
		job.Failed, job.CurrentIndex, job.ConsecutiveFailures, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert job: %w", err)
	}

	const itemQ = `
		INSERT INTO tts_pregen_job_items
		    (id, job_id, item_index, text, text_hash, source_ref, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	for _, it := range items {
		_, err = tx.Exec(ctx, itemQ, it.ID, it.JobID, it.ItemIndex, it.Text, it.TextHash, it.SourceRef, string(it.Status))
		if err != nil {
			return fmt.Errorf("postgres: insert job item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

const selectJobColumns = `
	id, name, job_type, status, source_type, profile_id, tts_config,
	output_dir, total_items, completed_items, failed_items, current_index,
	current_text, consecutive_failures, last_error, created_at, started_at,
	paused_at, completed_at, updated_at`

func scanJob(row pgx.Row) (*pregen.Job, error) {
	var j pregen.Job
	var jobType, status string
	var profileID *string
	var ttsConfigJSON []byte
	var startedAt, pausedAt, completedAt pgtimeNullable

	err := row.Scan(&j.ID, &j.Name, &jobType, &status, &j.SourceType, &profileID,
		&ttsConfigJSON, &j.OutputDir, &j.Total, &j.Completed, &j.Failed,
		&j.CurrentIndex, &j.CurrentText, &j.ConsecutiveFailures, &j.LastError,
		&j.CreatedAt, &startedAt, &pausedAt, &completedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	j.Type = pregen.JobType(jobType)
	j.Status = pregen.Status(status)
	if profileID != nil {
		j.ProfileID = *profileID
	}
	if len(ttsConfigJSON) > 0 {
		var cfg ttsConfigRow
		if err := json.Unmarshal(ttsConfigJSON, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal tts config: %w", err)
		}
		c := cfg.toTTSConfig()
		j.TTSConfig = &c
	}
	j.StartedAt = startedAt.Time
	j.PausedAt = pausedAt.Time
	j.CompletedAt = completedAt.Time
	return &j, nil
}

// GetJob returns the job with id, or (nil, nil) if absent.
func (s *Store) GetJob(ctx context.Context, id string) (*pregen.Job, error) {
	q := "SELECT " + selectJobColumns + " FROM tts_pregen_jobs WHERE id = $1"
	j, err := scanJob(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns every job ordered newest-first, for admin listing.
func (s *Store) ListJobs(ctx context.Context) ([]*pregen.Job, error) {
	q := "SELECT " + selectJobColumns + " FROM tts_pregen_jobs ORDER BY created_at DESC"
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	defer rows.Close()

	var out []*pregen.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJob persists every mutable column of job, including the full
// status/counter set the execution loop touches per item.
func (s *Store) UpdateJob(ctx context.Context, job *pregen.Job) error {
	var startedAt, pausedAt, completedAt any
	if !job.StartedAt.IsZero() {
		startedAt = job.StartedAt
	}
	if !job.PausedAt.IsZero() {
		pausedAt = job.PausedAt
	}
	if !job.CompletedAt.IsZero() {
		completedAt = job.CompletedAt
	}

	const q = `
		UPDATE tts_pregen_jobs SET
		    status = $2, completed_items = $3, failed_items = $4,
		    current_index = $5, current_text = $6, consecutive_failures = $7,
		    last_error = $8, started_at = $9, paused_at = $10,
		    completed_at = $11, updated_at = $12
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, job.ID, string(job.Status), job.Completed, job.Failed,
		job.CurrentIndex, job.CurrentText, job.ConsecutiveFailures, job.LastError,
		startedAt, pausedAt, completedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update job: %w", err)
	}
	return nil
}

// DeleteJob removes the job row; items cascade via FK.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tts_pregen_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete job: %w", err)
	}
	return nil
}

// PendingItems returns up to limit pending items ordered by
// item_index.
func (s *Store) PendingItems(ctx context.Context, jobID string, limit int) ([]*pregen.JobItem, error) {
	const q = `
		SELECT id, job_id, item_index, text, text_hash, source_ref, status,
		       attempt_count, output_file, duration_seconds, file_size_bytes,
		       sample_rate, last_error, processing_started_at, processing_completed_at
		FROM   tts_pregen_job_items
		WHERE  job_id = $1 AND status = 'pending'
		ORDER BY item_index
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending items: %w", err)
	}
	defer rows.Close()

	var out []*pregen.JobItem
	for rows.Next() {
		it, err := scanJobItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanJobItem(row pgx.Row) (*pregen.JobItem, error) {
	var it pregen.JobItem
	var status string
	var startedAt, completedAt pgtimeNullable

	err := row.Scan(&it.ID, &it.JobID, &it.ItemIndex, &it.Text, &it.TextHash,
		&it.SourceRef, &status, &it.AttemptCount, &it.OutputFile,
		&it.DurationSeconds, &it.FileSizeBytes, &it.SampleRate, &it.LastError,
		&startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	it.Status = pregen.ItemStatus(status)
	it.ProcessingStartedAt = startedAt.Time
	it.ProcessingCompletedAt = completedAt.Time
	return &it, nil
}

// UpdateItem persists item's full mutable state after a processing
// attempt.
func (s *Store) UpdateItem(ctx context.Context, item *pregen.JobItem) error {
	var startedAt, completedAt any
	if !item.ProcessingStartedAt.IsZero() {
		startedAt = item.ProcessingStartedAt
	}
	if !item.ProcessingCompletedAt.IsZero() {
		completedAt = item.ProcessingCompletedAt
	}

	const q = `
		UPDATE tts_pregen_job_items SET
		    status = $2, attempt_count = $3, output_file = $4,
		    duration_seconds = $5, file_size_bytes = $6, sample_rate = $7,
		    last_error = $8, processing_started_at = $9, processing_completed_at = $10
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, item.ID, string(item.Status), item.AttemptCount,
		item.OutputFile, item.DurationSeconds, item.FileSizeBytes, item.SampleRate,
		item.LastError, startedAt, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: update item: %w", err)
	}
	return nil
}

// FailedToPending resets every failed item on jobID back to pending and
// returns the number of rows changed.
func (s *Store) FailedToPending(ctx context.Context, jobID string) (int, error) {
	const q = `
		UPDATE tts_pregen_job_items
		SET    status = 'pending', last_error = ''
		WHERE  job_id = $1 AND status = 'failed'`
	tag, err := s.pool.Exec(ctx, q, jobID)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to pending: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type ttsConfigRow struct {
	Provider   string    `json:"provider"`
	VoiceID    string    `json:"voice_id"`
	Speed      float64   `json:"speed"`
	Chatterbox *cbConfig `json:"chatterbox,omitempty"`
}

type cbConfig struct {
	Exaggeration float64 `json:"exaggeration"`
	CfgWeight    float64 `json:"cfg_weight"`
	Language     string  `json:"language"`
}

func ttsConfigToRow(cfg ttsprofile.TTSConfig) ttsConfigRow {
	row := ttsConfigRow{Provider: string(cfg.Provider), VoiceID: cfg.VoiceID, Speed: cfg.Speed}
	if cfg.Chatterbox != nil {
		row.Chatterbox = &cbConfig{
			Exaggeration: cfg.Chatterbox.Exaggeration,
			CfgWeight:    cfg.Chatterbox.CfgWeight,
			Language:     cfg.Chatterbox.Language,
		}
	}
	return row
}

func (r ttsConfigRow) toTTSConfig() ttsprofile.TTSConfig {
	cfg := ttsprofile.TTSConfig{Provider: cachekey.Provider(r.Provider), VoiceID: r.VoiceID, Speed: r.Speed}
	if r.Chatterbox != nil {
		cfg.Chatterbox = &ttsprovider.ChatterboxConfig{
			Exaggeration: r.Chatterbox.Exaggeration,
			CfgWeight:    r.Chatterbox.CfgWeight,
			Language:     r.Chatterbox.Language,
		}
	}
	return cfg
}
