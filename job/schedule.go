package job

import (
	"time"

	"github.com/jobgate/jobgate/logger"
)

// NextRun computes when a job should next execute, relative to now.
//
// Rules, in order: a job whose end date has passed degenerates to its own
// start date (exhausted, never an error); a future start date wins; ONCE
// runs at the start date; DAILY/WEEKLY/MONTHLY step forward from the last
// run (or the start date when never run); CUSTOM timing is owned by the
// work-queue runtime's cron support, so the start date stands in here.
func NextRun(j *Job, now time.Time) time.Time {
	if j.EndDate != nil && j.EndDate.Before(now) {
		return j.StartDate
	}

	if j.StartDate.After(now) {
		return j.StartDate
	}

	base := j.StartDate
	if j.LastRunAt != nil {
		base = *j.LastRunAt
	}

	switch j.Frequency {
	case FrequencyOnce:
		return j.StartDate
	case FrequencyDaily:
		return base.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return base.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return addMonthClamped(base)
	case FrequencyCustom:
		// The cron expression governs recurrence; the queue port schedules it.
		return j.StartDate
	default:
		// Validated input never reaches this branch.
		logger.Warnw("Unrecognized frequency in next-run calculation, treating as ONCE",
			"job_id", j.ID,
			"frequency", j.Frequency)
		return j.StartDate
	}
}

// addMonthClamped advances t by one calendar month, preserving the day of
// month and clamping to the last day when the target month is shorter
// (Jan 31 -> Feb 28/29). time.AddDate would normalize overflow into the
// following month instead.
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	firstOfNext := time.Date(year, month+1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())

	lastDay := daysIn(firstOfNext.Year(), firstOfNext.Month())
	if day > lastDay {
		day = lastDay
	}

	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
