// Package admission coordinates job intake and lifecycle: content
// fingerprinting, cache-first duplicate detection with a retried store
// fallback, and the queue and cache side effects of every mutation.
//
// The coordinator owns the ordering guarantees; the store, cache, and work
// queue behind it are ports so tests and deployments can swap
// implementations.
package admission

import (
	"context"

	"github.com/jobgate/jobgate/job"
)

// JobStore is the persistence surface the coordinator consumes.
// *store.Store satisfies it.
type JobStore interface {
	Insert(ctx context.Context, j *job.Job) error
	Update(ctx context.Context, j *job.Job) error
	Delete(ctx context.Context, id int64) (bool, error)
	FindByID(ctx context.Context, id int64) (*job.Job, error)
	FindByFingerprint(ctx context.Context, name string, frequency job.Frequency, cronExpression, fingerprint string) (*job.Job, error)
	ListByStatusEnabled(ctx context.Context, status job.Status, enabled bool) ([]*job.Job, error)
	List(ctx context.Context, limit int) ([]*job.Job, error)
}

// DuplicateStore is the narrow read surface the duplicate checker needs.
type DuplicateStore interface {
	FindByFingerprint(ctx context.Context, name string, frequency job.Frequency, cronExpression, fingerprint string) (*job.Job, error)
}
