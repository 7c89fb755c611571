package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jobgate/jobgate/cache"
	"github.com/jobgate/jobgate/db"
	"github.com/jobgate/jobgate/errors"
	"github.com/jobgate/jobgate/job"
	"github.com/jobgate/jobgate/queue"
	"github.com/jobgate/jobgate/store"
)

const (
	jobCacheTTL  = time.Hour
	listCacheTTL = time.Minute
)

// Fields is a caller-supplied job definition.
type Fields struct {
	Name           string
	Description    string
	Frequency      job.Frequency
	CronExpression string
	StartDate      time.Time
	EndDate        *time.Time
	Enabled        *bool // nil means enabled
	Data           map[string]interface{}
	MaxRetries     *int // nil means job.DefaultMaxRetries
}

// UpdateFields is a partial job update; nil fields are left unchanged.
// The fingerprint is never recomputed: it records what was admitted, not
// what the job has become.
type UpdateFields struct {
	Name           *string
	Description    *string
	Frequency      *job.Frequency
	CronExpression *string
	StartDate      *time.Time
	EndDate        *time.Time
	ClearEndDate   bool
	Status         *string
	Enabled        *bool
	Data           map[string]interface{}
	MaxRetries     *int
}

// Service is the admission coordinator. All job mutations flow through it
// so that store rows, queue entries, and cache contents stay consistent.
type Service struct {
	store   JobStore
	cache   cache.Cache
	queue   queue.WorkQueue
	checker *Checker
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewService wires the coordinator over its three ports and a duplicate
// checker.
func NewService(st JobStore, c cache.Cache, q queue.WorkQueue, checker *Checker, logger *zap.SugaredLogger) *Service {
	return &Service{
		store:   st,
		cache:   c,
		queue:   q,
		checker: checker,
		logger:  logger,
		now:     time.Now,
	}
}

// Create validates, fingerprints, and admits a new job, then schedules it
// when enabled. A matching existing job yields *DuplicateJobError unless
// forceCreate is set; forced jobs opt out of duplicate suppression
// entirely, both at check time and at the identity index.
func (s *Service) Create(ctx context.Context, f Fields, forceCreate bool) (*job.Job, error) {
	maxRetries := job.DefaultMaxRetries
	if f.MaxRetries != nil {
		maxRetries = *f.MaxRetries
	}
	if err := job.ValidateDefinition(f.Name, f.Frequency, f.CronExpression, f.StartDate, f.EndDate, maxRetries); err != nil {
		return nil, err
	}

	var fp string
	if forceCreate {
		fp = job.Fingerprint(f.Name, f.Frequency, f.CronExpression, f.Data)
		s.logger.Infow("Duplicate check bypassed by force create",
			"name", f.Name,
			"fingerprint", fp)
	} else {
		existing, checkedFP := s.checker.Check(ctx, f.Name, f.Frequency, f.CronExpression, f.Data)
		if existing != nil {
			return nil, &DuplicateJobError{ID: existing.ID, Name: existing.Name, CreatedAt: existing.CreatedAt}
		}
		fp = checkedFP
	}

	var data json.RawMessage
	if f.Data != nil {
		raw, err := json.Marshal(f.Data)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode job data")
		}
		data = raw
	}

	enabled := true
	if f.Enabled != nil {
		enabled = *f.Enabled
	}

	now := s.now()
	j := &job.Job{
		Name:           f.Name,
		Description:    f.Description,
		Frequency:      f.Frequency,
		CronExpression: f.CronExpression,
		StartDate:      f.StartDate,
		EndDate:        f.EndDate,
		Status:         job.StatusPending,
		Enabled:        enabled,
		Data:           data,
		Fingerprint:    fp,
		Forced:         forceCreate,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	next := job.NextRun(j, now)
	j.NextRunAt = &next

	if err := s.store.Insert(ctx, j); err != nil {
		if db.IsUniqueViolation(err) {
			// The read-side check raced another creator; the index is the
			// arbiter and this caller lost.
			return nil, s.lateDuplicate(ctx, f, fp)
		}
		return nil, err
	}

	if !forceCreate {
		s.seedDuplicateCache(ctx, j)
	}
	s.invalidateLists(ctx)

	if j.Enabled {
		if err := s.submit(ctx, j); err != nil {
			// The row is persisted; startup reconciliation will reschedule it.
			return nil, errors.Wrapf(err, "job %d admitted but scheduling failed", j.ID)
		}
	}

	s.logger.Infow("Job admitted",
		"job_id", j.ID,
		"name", j.Name,
		"frequency", j.Frequency,
		"forced", forceCreate)
	return j, nil
}

// Get returns a job by id, serving from cache when possible. Absence is
// nil, not an error.
func (s *Service) Get(ctx context.Context, id int64) (*job.Job, error) {
	key := cache.JobKey(id)
	if raw, err := s.cache.Get(ctx, key); err == nil && raw != nil {
		var j job.Job
		if json.Unmarshal(raw, &j) == nil {
			return &j, nil
		}
	}

	j, err := s.store.FindByID(ctx, id)
	if err != nil || j == nil {
		return nil, err
	}

	if raw, err := json.Marshal(j); err == nil {
		if err := s.cache.Set(ctx, key, raw, jobCacheTTL); err != nil {
			s.logger.Warnw("Failed to cache job", "job_id", id, "error", err)
		}
	}
	return j, nil
}

// List returns recent jobs, newest first, bounded by limit. Results are
// cached briefly per limit; every mutation drops the list views.
func (s *Service) List(ctx context.Context, limit int) ([]*job.Job, error) {
	key := fmt.Sprintf("%s:%d", cache.ListPrefix, limit)
	if raw, err := s.cache.Get(ctx, key); err == nil && raw != nil {
		var jobs []*job.Job
		if json.Unmarshal(raw, &jobs) == nil {
			return jobs, nil
		}
	}

	jobs, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(jobs); err == nil {
		if err := s.cache.Set(ctx, key, raw, listCacheTTL); err != nil {
			s.logger.Warnw("Failed to cache job list", "error", err)
		}
	}
	return jobs, nil
}

// Update applies a partial update, recomputes the next run when a
// scheduling field changed, and replays the queue and cache side effects.
// Returns nil when no job has the id.
func (s *Service) Update(ctx context.Context, id int64, f UpdateFields) (*job.Job, error) {
	j, err := s.store.FindByID(ctx, id)
	if err != nil || j == nil {
		return nil, err
	}

	before := *j
	if f.Name != nil {
		j.Name = *f.Name
	}
	if f.Description != nil {
		j.Description = *f.Description
	}
	if f.Frequency != nil {
		j.Frequency = *f.Frequency
	}
	if f.CronExpression != nil {
		j.CronExpression = *f.CronExpression
	}
	if f.StartDate != nil {
		j.StartDate = *f.StartDate
	}
	if f.ClearEndDate {
		j.EndDate = nil
	} else if f.EndDate != nil {
		j.EndDate = f.EndDate
	}
	if f.Status != nil {
		j.Status = job.ParseStatus(*f.Status)
	}
	if f.Enabled != nil {
		j.Enabled = *f.Enabled
	}
	if f.MaxRetries != nil {
		j.MaxRetries = *f.MaxRetries
	}
	if f.Data != nil {
		raw, err := json.Marshal(f.Data)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode job data")
		}
		j.Data = raw
	}

	if err := job.ValidateDefinition(j.Name, j.Frequency, j.CronExpression, j.StartDate, j.EndDate, j.MaxRetries); err != nil {
		return nil, err
	}

	now := s.now()
	if !j.SchedulingFieldsEqual(&before) {
		next := job.NextRun(j, now)
		j.NextRunAt = &next
	}
	j.UpdatedAt = now

	if err := s.store.Update(ctx, j); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Direct edits get the same side effects as the automatic transitions:
	// drop any live schedule and resubmit only runnable jobs.
	if err := s.queue.Remove(ctx, id); err != nil {
		return nil, err
	}
	if j.Enabled && j.Status == job.StatusPending {
		if err := s.submit(ctx, j); err != nil {
			return nil, err
		}
	}
	s.invalidateJob(ctx, j)

	s.logger.Infow("Job updated", "job_id", id)
	return j, nil
}

// Delete removes a job, its queue entry, and its cache entries. Returns
// whether a job existed.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	j, err := s.store.FindByID(ctx, id)
	if err != nil || j == nil {
		return false, err
	}

	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	if err := s.queue.Remove(ctx, id); err != nil {
		s.logger.Warnw("Failed to remove deleted job from the work queue",
			"job_id", id,
			"error", err)
	}
	s.invalidateJob(ctx, j)

	s.logger.Infow("Job deleted", "job_id", id, "name", j.Name)
	return true, nil
}

// Enable marks a job runnable and resubmits it when it is PENDING.
// Returns nil when no job has the id.
func (s *Service) Enable(ctx context.Context, id int64) (*job.Job, error) {
	return s.setEnabled(ctx, id, true)
}

// Disable removes a job from the work queue without touching its lifecycle
// state. Returns nil when no job has the id.
func (s *Service) Disable(ctx context.Context, id int64) (*job.Job, error) {
	return s.setEnabled(ctx, id, false)
}

func (s *Service) setEnabled(ctx context.Context, id int64, enabled bool) (*job.Job, error) {
	j, err := s.store.FindByID(ctx, id)
	if err != nil || j == nil {
		return nil, err
	}
	if j.Enabled == enabled {
		return j, nil
	}

	j.Enabled = enabled
	j.UpdatedAt = s.now()
	if err := s.store.Update(ctx, j); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if enabled {
		if j.Status == job.StatusPending {
			if err := s.submit(ctx, j); err != nil {
				return nil, err
			}
		}
	} else {
		// A disabled job must never be on the queue.
		if err := s.queue.Remove(ctx, id); err != nil {
			return nil, err
		}
	}
	s.invalidateJob(ctx, j)

	s.logger.Infow("Job enabled flag changed", "job_id", id, "enabled", enabled)
	return j, nil
}

// Initialize reloads every enabled PENDING job and submits it to the work
// queue. Called once at startup; any failure aborts so the process never
// runs with a partial schedule.
func (s *Service) Initialize(ctx context.Context) error {
	jobs, err := s.store.ListByStatusEnabled(ctx, job.StatusPending, true)
	if err != nil {
		return errors.Wrap(err, "failed to load pending jobs")
	}

	for _, j := range jobs {
		if err := s.submit(ctx, j); err != nil {
			return errors.Wrapf(err, "startup scheduling aborted at job %d", j.ID)
		}
	}

	s.logger.Infow("Job schedules reconciled", "count", len(jobs))
	return nil
}

// RecordRunStart transitions a dispatched job to RUNNING and stamps
// LastRunAt. Dispatches for jobs that were deleted or disabled in the
// meantime are dropped. Returns nil when the job no longer exists.
func (s *Service) RecordRunStart(ctx context.Context, id int64) (*job.Job, error) {
	j, err := s.store.FindByID(ctx, id)
	if err != nil || j == nil {
		return nil, err
	}
	if !j.Enabled {
		s.logger.Debugw("Dropping dispatch for disabled job", "job_id", id)
		return nil, nil
	}

	now := s.now()
	if err := j.MarkRunning(now); err != nil {
		return nil, err
	}
	// LastRunAt changed, so the next occurrence moves too.
	next := job.NextRun(j, now)
	j.NextRunAt = &next

	if err := s.store.Update(ctx, j); err != nil {
		return nil, err
	}
	s.invalidateJob(ctx, j)
	return j, nil
}

// RecordRunResult finalizes a run. Successful recurring jobs (and failed
// jobs with retry budget left) return to PENDING and are rescheduled at
// their next occurrence; everything else settles in its terminal state and
// leaves the queue.
func (s *Service) RecordRunResult(ctx context.Context, id int64, runErr error) (*job.Job, error) {
	j, err := s.store.FindByID(ctx, id)
	if err != nil || j == nil {
		return nil, err
	}

	now := s.now()
	var reschedule bool
	if runErr == nil {
		if err := j.MarkCompleted(now); err != nil {
			return nil, err
		}
		reschedule = j.Frequency != job.FrequencyOnce
	} else {
		if err := j.MarkFailed(now); err != nil {
			return nil, err
		}
		reschedule = j.IncrementRetry()
		s.logger.Warnw("Job run failed",
			"job_id", id,
			"retry_count", j.RetryCount,
			"max_retries", j.MaxRetries,
			"will_retry", reschedule,
			"error", runErr)
	}

	reschedule = reschedule && j.Enabled
	if reschedule {
		j.Status = job.StatusPending
		next := job.NextRun(j, now)
		j.NextRunAt = &next
	}

	if err := s.store.Update(ctx, j); err != nil {
		return nil, err
	}

	if reschedule {
		// CUSTOM jobs keep their live cron entry; everything else gets a
		// fresh one-shot.
		if j.Frequency != job.FrequencyCustom {
			if err := s.submit(ctx, j); err != nil {
				return nil, err
			}
		}
	} else if err := s.queue.Remove(ctx, id); err != nil {
		return nil, err
	}
	s.invalidateJob(ctx, j)
	return j, nil
}

// submit places j on the work queue: CUSTOM jobs as a cron entry, all
// other frequencies as a one-shot at the next occurrence.
func (s *Service) submit(ctx context.Context, j *job.Job) error {
	d := queue.Descriptor{JobID: j.ID, Name: j.Name, Payload: j.Data}

	var sched queue.Schedule
	if j.Frequency == job.FrequencyCustom {
		sched = queue.Schedule{CronExpression: j.CronExpression}
	} else {
		runAt := job.NextRun(j, s.now())
		if j.NextRunAt != nil {
			runAt = *j.NextRunAt
		}
		sched = queue.Schedule{RunAt: runAt}
	}

	if err := s.queue.Submit(ctx, d, sched); err != nil {
		return errors.Wrapf(err, "failed to submit job %d to the work queue", j.ID)
	}
	return nil
}

// lateDuplicate builds the duplicate rejection for an insert that lost the
// race at the identity index.
func (s *Service) lateDuplicate(ctx context.Context, f Fields, fp string) error {
	existing, err := s.store.FindByFingerprint(ctx, f.Name, f.Frequency, f.CronExpression, fp)
	if err != nil || existing == nil {
		s.logger.Warnw("Insert lost the admission race but the winning row could not be read",
			"name", f.Name,
			"fingerprint", fp,
			"error", err)
		return &DuplicateJobError{Name: f.Name}
	}
	return &DuplicateJobError{ID: existing.ID, Name: existing.Name, CreatedAt: existing.CreatedAt}
}

// seedDuplicateCache stores the freshly admitted job under its fingerprint
// so repeat submissions short-circuit without touching the store.
func (s *Service) seedDuplicateCache(ctx context.Context, j *job.Job) {
	raw, err := json.Marshal(j)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.DuplicateKey(j.Fingerprint), raw, s.checker.cfg.CacheTTL); err != nil {
		s.logger.Warnw("Failed to seed duplicate cache",
			"job_id", j.ID,
			"fingerprint", j.Fingerprint,
			"error", err)
	}
}

// invalidateJob drops every cache entry that covers j: its snapshot, its
// duplicate entry, and the list views. Snapshot and duplicate keys are
// deleted exactly; a prefix delete on "job:1" would also take out
// "job:10". Best effort; the cache is advisory.
func (s *Service) invalidateJob(ctx context.Context, j *job.Job) {
	for _, key := range []string{cache.JobKey(j.ID), cache.DuplicateKey(j.Fingerprint)} {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warnw("Cache invalidation failed",
				"job_id", j.ID,
				"key", key,
				"error", err)
		}
	}
	s.invalidateLists(ctx)
}

func (s *Service) invalidateLists(ctx context.Context) {
	if err := s.cache.DeleteByPrefix(ctx, cache.ListPrefix); err != nil {
		s.logger.Warnw("List cache invalidation failed", "error", err)
	}
}
