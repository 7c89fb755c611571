// Package store persists jobs in SQLite. It is the authoritative side of
// duplicate detection: the identity unique index backstops the admission
// race that the cache-first check cannot close.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jobgate/jobgate/errors"
	"github.com/jobgate/jobgate/job"
)

// ErrNotFound is returned by Update when no row matches the job id.
// Read paths signal absence with a nil job instead.
var ErrNotFound = errors.New("job not found")

// Store handles persistence of jobs.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, name, description, frequency, cron_expression,
	start_date, end_date, last_run_at, next_run_at,
	status, enabled, data, fingerprint, forced,
	retry_count, max_retries, created_at, updated_at`

// Insert persists a new job and assigns its id. A unique-constraint failure
// on the identity index propagates wrapped so callers can classify it with
// db.IsUniqueViolation.
func (s *Store) Insert(ctx context.Context, j *job.Job) error {
	query := `
		INSERT INTO jobs (
			name, description, frequency, cron_expression,
			start_date, end_date, last_run_at, next_run_at,
			status, enabled, data, fingerprint, forced,
			retry_count, max_retries, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		j.Name,
		j.Description,
		string(j.Frequency),
		j.CronExpression,
		j.StartDate.UTC().Format(time.RFC3339Nano),
		nullableTime(j.EndDate),
		nullableTime(j.LastRunAt),
		nullableTime(j.NextRunAt),
		string(j.Status),
		j.Enabled,
		nullableString(string(j.Data)),
		j.Fingerprint,
		j.Forced,
		j.RetryCount,
		j.MaxRetries,
		j.CreatedAt.UTC().Format(time.RFC3339Nano),
		j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert job")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to read inserted job id")
	}
	j.ID = id

	return nil
}

// Update persists all mutable fields of an existing job. Returns
// ErrNotFound when the id has no row.
func (s *Store) Update(ctx context.Context, j *job.Job) error {
	query := `
		UPDATE jobs
		SET name = ?,
		    description = ?,
		    frequency = ?,
		    cron_expression = ?,
		    start_date = ?,
		    end_date = ?,
		    last_run_at = ?,
		    next_run_at = ?,
		    status = ?,
		    enabled = ?,
		    data = ?,
		    retry_count = ?,
		    max_retries = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		j.Name,
		j.Description,
		string(j.Frequency),
		j.CronExpression,
		j.StartDate.UTC().Format(time.RFC3339Nano),
		nullableTime(j.EndDate),
		nullableTime(j.LastRunAt),
		nullableTime(j.NextRunAt),
		string(j.Status),
		j.Enabled,
		nullableString(string(j.Data)),
		j.RetryCount,
		j.MaxRetries,
		j.UpdatedAt.UTC().Format(time.RFC3339Nano),
		j.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(ErrNotFound, "job %d", j.ID)
	}

	return nil
}

// Delete removes a job. Returns whether a row existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}

	return rows > 0, nil
}

// FindByID retrieves a job by id. Absence is nil, not an error.
func (s *Store) FindByID(ctx context.Context, id int64) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	j, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find job %d", id)
	}

	return j, nil
}

// FindByFingerprint looks up a job by its full duplicate-detection identity.
// cronExpression compares exactly; jobs without an expression store '' so
// "no cron" only ever matches "no cron". Force-created rows are excluded,
// mirroring the partial identity index. Absence is nil, not an error.
func (s *Store) FindByFingerprint(ctx context.Context, name string, frequency job.Frequency, cronExpression, fingerprint string) (*job.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE name = ?
		  AND frequency = ?
		  AND cron_expression = ?
		  AND fingerprint = ?
		  AND forced = 0
		LIMIT 1`

	j, err := scanJob(s.db.QueryRowContext(ctx, query, name, string(frequency), cronExpression, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find job by fingerprint")
	}

	return j, nil
}

// ListByStatusEnabled returns all jobs with the given status and enabled
// flag, oldest first for deterministic startup reconciliation.
func (s *Store) ListByStatusEnabled(ctx context.Context, status job.Status, enabled bool) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = ? AND enabled = ?
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, string(status), enabled)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs by status")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// List returns jobs newest first, bounded by limit.
func (s *Store) List(ctx context.Context, limit int) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}
