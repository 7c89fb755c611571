package queue

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jobgate/jobgate/errors"
)

// DispatchFunc receives a descriptor when its schedule fires. The worker
// runtime registers one at construction.
type DispatchFunc func(ctx context.Context, d Descriptor)

// Scheduler is the in-process WorkQueue implementation. Cron schedules run
// on a shared cron runner; one-shot schedules use a timer each. Submitting
// a job id that is already scheduled replaces the earlier entry.
type Scheduler struct {
	cron     *cron.Cron
	dispatch DispatchFunc
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	entries map[int64]*entry
}

type entry struct {
	cronID cron.EntryID
	timer  *time.Timer
}

var _ WorkQueue = (*Scheduler)(nil)

// NewScheduler creates a scheduler that invokes dispatch whenever a
// submitted descriptor comes due. A nil dispatch drops descriptors after
// logging, which keeps tests and dry runs simple.
func NewScheduler(dispatch DispatchFunc, logger *zap.SugaredLogger) *Scheduler {
	c := cron.New()
	c.Start()

	if dispatch == nil {
		dispatch = func(ctx context.Context, d Descriptor) {
			logger.Debugw("Descriptor fired with no dispatch registered", "job_id", d.JobID)
		}
	}

	return &Scheduler{
		cron:     c,
		dispatch: dispatch,
		logger:   logger,
		entries:  make(map[int64]*entry),
	}
}

// Submit schedules d according to s, replacing any existing entry for the
// same job id.
func (sc *Scheduler) Submit(_ context.Context, d Descriptor, s Schedule) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.removeLocked(d.JobID)

	if s.IsCron() {
		cronID, err := sc.cron.AddFunc(s.CronExpression, func() {
			sc.fire(d)
		})
		if err != nil {
			return errors.Wrapf(err, "failed to schedule cron pattern %q for job %d", s.CronExpression, d.JobID)
		}
		sc.entries[d.JobID] = &entry{cronID: cronID}
		sc.logger.Debugw("Submitted cron schedule",
			"job_id", d.JobID,
			"cron", s.CronExpression)
		return nil
	}

	delay := time.Until(s.RunAt)
	if delay < 0 {
		delay = 0
	}
	en := &entry{}
	en.timer = time.AfterFunc(delay, func() {
		sc.fire(d)

		sc.mu.Lock()
		// One-shot entries clear themselves unless already replaced.
		if sc.entries[d.JobID] == en {
			delete(sc.entries, d.JobID)
		}
		sc.mu.Unlock()
	})
	sc.entries[d.JobID] = en

	sc.logger.Debugw("Submitted one-shot schedule",
		"job_id", d.JobID,
		"run_at", s.RunAt,
		"delay", delay)
	return nil
}

// Remove cancels the schedule for jobID. Unknown ids are a no-op.
func (sc *Scheduler) Remove(_ context.Context, jobID int64) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.removeLocked(jobID)
	return nil
}

// removeLocked requires sc.mu to be held.
func (sc *Scheduler) removeLocked(jobID int64) {
	e, ok := sc.entries[jobID]
	if !ok {
		return
	}

	if e.timer != nil {
		e.timer.Stop()
	} else {
		sc.cron.Remove(e.cronID)
	}
	delete(sc.entries, jobID)
}

// Contains reports whether jobID currently has a live schedule.
func (sc *Scheduler) Contains(jobID int64) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, ok := sc.entries[jobID]
	return ok
}

// Stop halts the cron runner and cancels all one-shot timers. Pending
// dispatches that already fired are allowed to finish.
func (sc *Scheduler) Stop() {
	ctx := sc.cron.Stop()

	sc.mu.Lock()
	for id, e := range sc.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(sc.entries, id)
	}
	sc.mu.Unlock()

	<-ctx.Done()
	sc.logger.Infow("Work queue scheduler stopped")
}

func (sc *Scheduler) fire(d Descriptor) {
	sc.logger.Infow("Dispatching job descriptor",
		"job_id", d.JobID,
		"name", d.Name)
	sc.dispatch(context.Background(), d)
}
