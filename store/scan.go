package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jobgate/jobgate/errors"
	"github.com/jobgate/jobgate/job"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob reads one row in jobColumns order into a Job. Timestamps are
// stored as RFC3339 strings; a parse failure indicates data corruption or a
// schema mismatch and is returned as an error.
func scanJob(row rowScanner) (*job.Job, error) {
	var j job.Job
	var frequency, status string
	var startDate, createdAt, updatedAt string
	var endDate, lastRunAt, nextRunAt, data sql.NullString

	err := row.Scan(
		&j.ID,
		&j.Name,
		&j.Description,
		&frequency,
		&j.CronExpression,
		&startDate,
		&endDate,
		&lastRunAt,
		&nextRunAt,
		&status,
		&j.Enabled,
		&data,
		&j.Fingerprint,
		&j.Forced,
		&j.RetryCount,
		&j.MaxRetries,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Frequency = job.ParseFrequency(frequency)
	j.Status = job.ParseStatus(status)

	if j.StartDate, err = parseTimestamp(startDate); err != nil {
		return nil, errors.Wrapf(err, "failed to parse start_date for job %d", j.ID)
	}
	if j.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %d", j.ID)
	}
	if j.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %d", j.ID)
	}

	if j.EndDate, err = parseNullableTimestamp(endDate); err != nil {
		return nil, errors.Wrapf(err, "failed to parse end_date for job %d", j.ID)
	}
	if j.LastRunAt, err = parseNullableTimestamp(lastRunAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse last_run_at for job %d", j.ID)
	}
	if j.NextRunAt, err = parseNullableTimestamp(nextRunAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse next_run_at for job %d", j.ID)
	}

	if data.Valid {
		j.Data = json.RawMessage(data.String)
	}

	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}

	return jobs, nil
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullableTimestamp(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
