// Package cache provides the advisory key/value cache used to keep the
// duplicate-check fast path off the database. The cache is never
// authoritative: every entry can expire or vanish without affecting
// correctness, only latency.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Key prefixes. Duplicate entries are keyed by content fingerprint; job and
// list entries are invalidated on every write to the job they cover.
const (
	DuplicatePrefix = "duplicate:"
	JobPrefix       = "job:"
	ListPrefix      = "jobs:list"
)

// DuplicateKey returns the cache key for a fingerprint's job snapshot.
func DuplicateKey(fingerprint string) string {
	return DuplicatePrefix + fingerprint
}

// JobKey returns the cache key prefix for a single job's entries.
func JobKey(id int64) string {
	return fmt.Sprintf("%s%d", JobPrefix, id)
}

// Cache is the port consumed by the admission layer. Implementations must
// tolerate being unreachable; callers treat every error as a miss.
type Cache interface {
	// Get returns the value for key, or nil when absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes exactly key. Absent keys are a no-op.
	Delete(ctx context.Context, key string) error
	// DeleteByPrefix removes every key with the given prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error
}
