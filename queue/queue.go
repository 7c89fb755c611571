// Package queue defines the work-queue port the admission layer submits
// job descriptors to, and an in-process implementation backed by
// robfig/cron for recurring schedules and one-shot timers for delays.
//
// The queue owns WHEN a descriptor fires and hands it to a dispatch
// callback; it never executes job payloads itself.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Descriptor is the opaque hand-off unit given to the worker runtime.
type Descriptor struct {
	JobID   int64           `json:"job_id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Schedule describes when a descriptor should fire: either a cron pattern
// (recurring, takes precedence when set) or a one-shot instant.
type Schedule struct {
	CronExpression string
	RunAt          time.Time
}

// IsCron reports whether the schedule is cron-driven.
func (s Schedule) IsCron() bool {
	return s.CronExpression != ""
}

// WorkQueue is the port consumed by the admission layer. Submit replaces
// any prior submission for the same job id; Remove is a no-op for unknown
// ids.
type WorkQueue interface {
	Submit(ctx context.Context, d Descriptor, s Schedule) error
	Remove(ctx context.Context, jobID int64) error
}
