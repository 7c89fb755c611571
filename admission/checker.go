package admission

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jobgate/jobgate/cache"
	"github.com/jobgate/jobgate/job"
	"github.com/jobgate/jobgate/retry"
)

// CheckerConfig tunes the store-side duplicate lookup and the advisory
// cache in front of it.
type CheckerConfig struct {
	Attempts       int           // Store lookup attempts, including the first.
	AttemptTimeout time.Duration // Per-attempt deadline.
	BackoffInitial time.Duration // First retry delay; doubles each attempt.
	BackoffMax     time.Duration // Backoff ceiling.
	CacheTTL       time.Duration // Lifetime of cached duplicate snapshots.
}

// DefaultCheckerConfig returns the production defaults.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		Attempts:       3,
		AttemptTimeout: 5 * time.Second,
		BackoffInitial: 100 * time.Millisecond,
		BackoffMax:     2 * time.Second,
		CacheTTL:       24 * time.Hour,
	}
}

// Checker answers "does an equivalent job already exist?". It is advisory
// by construction: a cache error degrades to a store lookup, and a store
// lookup that exhausts its retries degrades to admitting the job. The
// identity index catches the duplicates that fail-open lets through.
type Checker struct {
	store  DuplicateStore
	cache  cache.Cache
	cfg    CheckerConfig
	logger *zap.SugaredLogger
}

// NewChecker creates a duplicate checker over the given store and cache.
func NewChecker(store DuplicateStore, c cache.Cache, cfg CheckerConfig, logger *zap.SugaredLogger) *Checker {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Checker{store: store, cache: c, cfg: cfg, logger: logger}
}

// Check computes the content fingerprint for a definition and returns the
// existing equivalent job, or nil when the definition is admissible. The
// fingerprint is returned either way so the caller persists exactly the
// value that was checked. Check never fails; degraded paths are logged.
func (c *Checker) Check(ctx context.Context, name string, frequency job.Frequency, cronExpression string, data map[string]interface{}) (*job.Job, string) {
	fp := job.Fingerprint(name, frequency, cronExpression, data)

	if cached := c.fromCache(ctx, fp); cached != nil {
		c.logger.Debugw("Duplicate check served from cache",
			"name", name,
			"fingerprint", fp,
			"existing_job_id", cached.ID)
		return cached, fp
	}

	var found *job.Job
	start := time.Now()
	err := retry.Do(ctx, retry.Config{
		Attempts:       c.cfg.Attempts,
		AttemptTimeout: c.cfg.AttemptTimeout,
		Backoff:        retry.NewExponential(c.cfg.BackoffInitial, c.cfg.BackoffMax),
	}, func(ctx context.Context) error {
		j, err := c.store.FindByFingerprint(ctx, name, frequency, cronExpression, fp)
		if err != nil {
			return err
		}
		found = j
		return nil
	})
	if err != nil {
		// Fail open: an unreachable store must not block admission.
		c.logger.Errorw("Duplicate check exhausted retries, admitting without verification",
			"name", name,
			"fingerprint", fp,
			"attempts", c.cfg.Attempts,
			"elapsed", time.Since(start),
			"error", err)
		return nil, fp
	}

	if found != nil {
		c.cacheMatch(ctx, fp, found)
	}
	return found, fp
}

// fromCache returns the cached snapshot for fp, or nil. Cache errors and
// corrupt entries are both treated as a miss; the store remains the
// authority.
func (c *Checker) fromCache(ctx context.Context, fp string) *job.Job {
	raw, err := c.cache.Get(ctx, cache.DuplicateKey(fp))
	if err != nil {
		c.logger.Warnw("Duplicate cache read failed, falling back to store",
			"fingerprint", fp,
			"error", err)
		return nil
	}
	if raw == nil {
		return nil
	}

	var j job.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		c.logger.Warnw("Corrupt duplicate cache entry, falling back to store",
			"fingerprint", fp,
			"error", err)
		return nil
	}
	return &j
}

func (c *Checker) cacheMatch(ctx context.Context, fp string, j *job.Job) {
	raw, err := json.Marshal(j)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cache.DuplicateKey(fp), raw, c.cfg.CacheTTL); err != nil {
		c.logger.Warnw("Failed to cache duplicate match",
			"fingerprint", fp,
			"error", err)
	}
}
