package job

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jobgate/jobgate/errors"
)

// MaxNameLength bounds the job name column.
const MaxNameLength = 255

// ValidateDefinition enforces the data-model invariants on a job definition
// before it reaches admission: name present and bounded, cron expression
// present iff the frequency is CUSTOM (and parseable), end date strictly
// after start date, retry budget within range.
func ValidateDefinition(name string, frequency Frequency, cronExpression string, startDate time.Time, endDate *time.Time, maxRetries int) error {
	if name == "" {
		return errors.New("job name is required")
	}
	if len(name) > MaxNameLength {
		return errors.Newf("job name exceeds %d characters", MaxNameLength)
	}
	if !validFrequencies[frequency] {
		return errors.Newf("unknown frequency: %s", frequency)
	}

	if frequency == FrequencyCustom {
		if cronExpression == "" {
			return errors.New("cron expression is required for CUSTOM frequency")
		}
		if _, err := cron.ParseStandard(cronExpression); err != nil {
			return errors.Wrapf(err, "invalid cron expression %q", cronExpression)
		}
	} else if cronExpression != "" {
		return errors.Newf("cron expression is only allowed for CUSTOM frequency, got %s", frequency)
	}

	if startDate.IsZero() {
		return errors.New("start date is required")
	}
	if endDate != nil && !endDate.After(startDate) {
		return errors.New("end date must be strictly after start date")
	}

	if maxRetries < 0 || maxRetries > MaxRetriesLimit {
		return errors.Newf("max retries must be between 0 and %d", MaxRetriesLimit)
	}

	return nil
}
