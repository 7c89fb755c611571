package admission

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobgate/jobgate/cache"
	itesting "github.com/jobgate/jobgate/internal/testing"
	"github.com/jobgate/jobgate/job"
	"github.com/jobgate/jobgate/queue"
	"github.com/jobgate/jobgate/store"
)

// fakeQueue records submissions and removals without firing anything.
type fakeQueue struct {
	mu        sync.Mutex
	submitted map[int64]queue.Schedule
	removed   []int64
	submitErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{submitted: make(map[int64]queue.Schedule)}
}

func (q *fakeQueue) Submit(_ context.Context, d queue.Descriptor, s queue.Schedule) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.submitErr != nil {
		return q.submitErr
	}
	q.submitted[d.JobID] = s
	return nil
}

func (q *fakeQueue) Remove(_ context.Context, jobID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = append(q.removed, jobID)
	delete(q.submitted, jobID)
	return nil
}

func (q *fakeQueue) contains(jobID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.submitted[jobID]
	return ok
}

func (q *fakeQueue) schedule(jobID int64) queue.Schedule {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted[jobID]
}

func (q *fakeQueue) removedCount(jobID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, id := range q.removed {
		if id == jobID {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T) (*Service, *store.Store, *fakeQueue, *cache.Memory) {
	t.Helper()

	st := store.NewStore(itesting.CreateTestDB(t))
	mem := cache.NewMemory()
	fq := newFakeQueue()
	logger := zap.NewNop().Sugar()
	checker := NewChecker(st, mem, testCheckerConfig(), logger)
	return NewService(st, mem, fq, checker, logger), st, fq, mem
}

func reportFields() Fields {
	return Fields{
		Name:        "nightly-report",
		Description: "aggregate yesterday's sales",
		Frequency:   job.FrequencyDaily,
		StartDate:   time.Now().Add(time.Hour),
		Data:        map[string]interface{}{"report": "sales", "region": "emea"},
	}
}

func TestCreateAdmitsAndSchedules(t *testing.T) {
	svc, _, fq, _ := newTestService(t)

	j, err := svc.Create(context.Background(), reportFields(), false)
	require.NoError(t, err)

	assert.NotZero(t, j.ID)
	assert.Equal(t, job.StatusPending, j.Status)
	assert.True(t, j.Enabled)
	assert.Regexp(t, hexDigest, j.Fingerprint)
	require.NotNil(t, j.NextRunAt)
	assert.True(t, fq.contains(j.ID))
}

func TestCreateEquivalentJobRejected(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	_, err = svc.Create(ctx, reportFields(), false)
	require.Error(t, err)
	require.True(t, IsDuplicate(err))

	var dup *DuplicateJobError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ID)
	assert.Equal(t, first.Name, dup.Name)

	jobs, err := st.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "the rejected submission must not persist a row")
}

func TestCreateKeyOrderDoesNotDefeatDetection(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	reordered := reportFields()
	reordered.Data = map[string]interface{}{"region": "emea", "report": "sales"}
	_, err = svc.Create(ctx, reordered, false)
	assert.True(t, IsDuplicate(err))
}

func TestForceCreateAdmitsEquivalentJob(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	forced, err := svc.Create(ctx, reportFields(), true)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, forced.ID)
	assert.True(t, forced.Forced)

	// A later unforced submission still collides with the original row,
	// not the forced copy.
	_, err = svc.Create(ctx, reportFields(), false)
	require.Error(t, err)
	var dup *DuplicateJobError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ID)
}

func TestCreateIdentityIndexBackstopsRace(t *testing.T) {
	st := store.NewStore(itesting.CreateTestDB(t))
	fq := newFakeQueue()
	logger := zap.NewNop().Sugar()

	// A checker that never sees the existing row simulates losing the
	// check-then-insert race.
	blind := NewChecker(storeFunc(func(context.Context, string, job.Frequency, string, string) (*job.Job, error) {
		return nil, nil
	}), cache.NewMemory(), testCheckerConfig(), logger)
	svc := NewService(st, cache.NewMemory(), fq, blind, logger)

	ctx := context.Background()
	first, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	_, err = svc.Create(ctx, reportFields(), false)
	require.Error(t, err)

	var dup *DuplicateJobError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ID, "the index violation must surface as a duplicate of the winning row")
}

func TestCreateInvalidDefinitionRejected(t *testing.T) {
	svc, st, fq, _ := newTestService(t)
	ctx := context.Background()

	f := reportFields()
	f.CronExpression = "0 3 * * *" // not CUSTOM
	_, err := svc.Create(ctx, f, false)
	require.Error(t, err)
	assert.False(t, IsDuplicate(err))

	jobs, err := st.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Empty(t, fq.submitted)
}

func TestCreateDisabledJobIsNotScheduled(t *testing.T) {
	svc, _, fq, _ := newTestService(t)

	f := reportFields()
	disabled := false
	f.Enabled = &disabled

	j, err := svc.Create(context.Background(), f, false)
	require.NoError(t, err)
	assert.False(t, j.Enabled)
	assert.False(t, fq.contains(j.ID))
}

func TestCreateCustomFrequencySubmitsCron(t *testing.T) {
	svc, _, fq, _ := newTestService(t)

	f := reportFields()
	f.Frequency = job.FrequencyCustom
	f.CronExpression = "0 3 * * *"

	j, err := svc.Create(context.Background(), f, false)
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", fq.schedule(j.ID).CronExpression)
}

func TestDisableRemovesFromQueueAndEnableResubmits(t *testing.T) {
	svc, _, fq, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)
	require.True(t, fq.contains(j.ID))

	disabled, err := svc.Disable(ctx, j.ID)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.Equal(t, job.StatusPending, disabled.Status, "disabling must not touch lifecycle state")
	assert.False(t, fq.contains(j.ID))

	enabled, err := svc.Enable(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	assert.True(t, fq.contains(j.ID))
}

func TestEnableNonPendingJobIsNotScheduled(t *testing.T) {
	svc, _, fq, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	_, err = svc.Disable(ctx, j.ID)
	require.NoError(t, err)

	status := string(job.StatusCompleted)
	_, err = svc.Update(ctx, j.ID, UpdateFields{Status: &status})
	require.NoError(t, err)

	updated, err := svc.Enable(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, updated.Enabled)
	assert.False(t, fq.contains(j.ID), "only PENDING jobs go back on the queue")
}

func TestEnableAbsentJobReturnsNil(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	j, err := svc.Enable(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestUpdateSchedulingChangeRecomputesNextRun(t *testing.T) {
	svc, _, fq, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	newStart := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	updated, err := svc.Update(ctx, j.ID, UpdateFields{StartDate: &newStart})
	require.NoError(t, err)

	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.Equal(newStart))
	assert.True(t, fq.schedule(j.ID).RunAt.Equal(newStart))
	assert.Equal(t, 1, fq.removedCount(j.ID), "the stale queue entry must be dropped before resubmission")
}

func TestUpdateNonSchedulingChangeKeepsNextRun(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)
	origNext := *j.NextRunAt

	desc := "new description"
	updated, err := svc.Update(ctx, j.ID, UpdateFields{Description: &desc})
	require.NoError(t, err)

	assert.Equal(t, desc, updated.Description)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.Equal(origNext))
}

func TestUpdateKeepsFingerprint(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	name := "renamed-report"
	updated, err := svc.Update(ctx, j.ID, UpdateFields{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, j.Fingerprint, updated.Fingerprint)
}

func TestUpdateAbsentJobReturnsNil(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	name := "ghost"
	j, err := svc.Update(context.Background(), 9999, UpdateFields{Name: &name})
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestDeleteCascades(t *testing.T) {
	svc, st, fq, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	row, err := st.FindByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.False(t, fq.contains(j.ID))

	// With the row and its caches gone the same definition is admissible
	// again.
	again, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)
	assert.NotEqual(t, j.ID, again.ID)
}

func TestDeleteAbsentJobReturnsFalse(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	deleted, err := svc.Delete(context.Background(), 9999)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestGetServesFromCacheAfterFirstRead(t *testing.T) {
	svc, _, _, mem := newTestService(t)
	ctx := context.Background()

	j, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	got, err := svc.Get(ctx, j.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, j.ID, got.ID)

	raw, err := mem.Get(ctx, cache.JobKey(j.ID))
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestInitializeResubmitsEnabledPendingJobs(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	pending, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	other := reportFields()
	other.Name = "weekly-digest"
	other.Frequency = job.FrequencyWeekly
	skipped, err := svc.Create(ctx, other, false)
	require.NoError(t, err)
	_, err = svc.Disable(ctx, skipped.ID)
	require.NoError(t, err)

	// Fresh queue, as after a restart.
	fq := newFakeQueue()
	logger := zap.NewNop().Sugar()
	restarted := NewService(st, cache.NewMemory(), fq, NewChecker(st, cache.NewMemory(), testCheckerConfig(), logger), logger)

	require.NoError(t, restarted.Initialize(ctx))
	assert.True(t, fq.contains(pending.ID))
	assert.False(t, fq.contains(skipped.ID))
}

func TestInitializeAbortsOnQueueFailure(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	fq := newFakeQueue()
	fq.submitErr = assert.AnError
	logger := zap.NewNop().Sugar()
	restarted := NewService(st, cache.NewMemory(), fq, NewChecker(st, cache.NewMemory(), testCheckerConfig(), logger), logger)

	assert.Error(t, restarted.Initialize(ctx))
}

func TestRunLifecycleOnceJob(t *testing.T) {
	svc, _, fq, _ := newTestService(t)
	ctx := context.Background()

	f := reportFields()
	f.Frequency = job.FrequencyOnce
	j, err := svc.Create(ctx, f, false)
	require.NoError(t, err)

	running, err := svc.RecordRunStart(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, running.Status)
	require.NotNil(t, running.LastRunAt)

	done, err := svc.RecordRunResult(ctx, j.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, done.Status)
	assert.False(t, fq.contains(j.ID))
}

func TestRunLifecycleRecurringJobReschedules(t *testing.T) {
	svc, _, fq, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)

	_, err = svc.RecordRunStart(ctx, j.ID)
	require.NoError(t, err)

	done, err := svc.RecordRunResult(ctx, j.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, done.Status, "a recurring job returns to PENDING")
	require.NotNil(t, done.NextRunAt)
	assert.True(t, fq.contains(j.ID))
}

func TestRunFailureConsumesRetryBudget(t *testing.T) {
	svc, _, fq, _ := newTestService(t)
	ctx := context.Background()

	f := reportFields()
	one := 1
	f.MaxRetries = &one
	j, err := svc.Create(ctx, f, false)
	require.NoError(t, err)

	_, err = svc.RecordRunStart(ctx, j.ID)
	require.NoError(t, err)
	failed, err := svc.RecordRunResult(ctx, j.ID, assert.AnError)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.True(t, fq.contains(j.ID))

	_, err = svc.RecordRunStart(ctx, j.ID)
	require.NoError(t, err)
	exhausted, err := svc.RecordRunResult(ctx, j.ID, assert.AnError)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, exhausted.Status, "an exhausted retry budget is terminal")
	assert.False(t, fq.contains(j.ID))
}

// newMockedService builds a service whose store sits on a sqlmock
// connection, for forcing write failures the sqlite fixture cannot produce.
func newMockedService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	st := store.NewStore(mockDB)
	mem := cache.NewMemory()
	logger := zap.NewNop().Sugar()
	svc := NewService(st, mem, newFakeQueue(), NewChecker(st, mem, testCheckerConfig(), logger), logger)
	return svc, mock
}

func mockJobRows() *sqlmock.Rows {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return sqlmock.NewRows([]string{
		"id", "name", "description", "frequency", "cron_expression",
		"start_date", "end_date", "last_run_at", "next_run_at",
		"status", "enabled", "data", "fingerprint", "forced",
		"retry_count", "max_retries", "created_at", "updated_at",
	}).AddRow(
		int64(7), "nightly-report", "", "DAILY", "",
		now, nil, nil, nil,
		"PENDING", true, nil, "feedface", false,
		0, 3, now, now,
	)
}

// Only the duplicate-check read fails open; a failed write must surface.
func TestCreateInsertFailurePropagates(t *testing.T) {
	svc, mock := newMockedService(t)

	// Duplicate check misses, then the insert dies for a non-constraint
	// reason.
	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO jobs").WillReturnError(assert.AnError)

	j, err := svc.Create(context.Background(), reportFields(), false)
	require.Error(t, err)
	assert.Nil(t, j)
	assert.False(t, IsDuplicate(err), "a transient insert failure is not a duplicate rejection")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWriteFailurePropagates(t *testing.T) {
	svc, mock := newMockedService(t)

	mock.ExpectQuery("SELECT").WillReturnRows(mockJobRows())
	mock.ExpectExec("UPDATE jobs").WillReturnError(assert.AnError)

	desc := "changed"
	j, err := svc.Update(context.Background(), 7, UpdateFields{Description: &desc})
	require.Error(t, err)
	assert.Nil(t, j)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteWriteFailurePropagates(t *testing.T) {
	svc, mock := newMockedService(t)

	mock.ExpectQuery("SELECT").WillReturnRows(mockJobRows())
	mock.ExpectExec("DELETE FROM jobs").WillReturnError(assert.AnError)

	deleted, err := svc.Delete(context.Background(), 7)
	require.Error(t, err)
	assert.False(t, deleted)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunStartDropsDisabledJob(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	j, err := svc.Create(ctx, reportFields(), false)
	require.NoError(t, err)
	_, err = svc.Disable(ctx, j.ID)
	require.NoError(t, err)

	started, err := svc.RecordRunStart(ctx, j.ID)
	require.NoError(t, err)
	assert.Nil(t, started)
}
