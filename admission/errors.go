package admission

import (
	"fmt"
	"time"

	"github.com/jobgate/jobgate/errors"
)

// DuplicateJobError rejects admission because an equivalent job already
// exists. It carries enough of the existing row for callers to render a
// conflict response without a second lookup. The ID is zero when the
// winning row of an insert race could not be read back.
type DuplicateJobError struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

func (e *DuplicateJobError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("duplicate job: an equivalent job named %q already exists", e.Name)
	}
	return fmt.Sprintf("duplicate job: %q already exists as job %d (created %s)",
		e.Name, e.ID, e.CreatedAt.Format(time.RFC3339))
}

// IsDuplicate reports whether err is a duplicate-admission rejection.
func IsDuplicate(err error) bool {
	var dup *DuplicateJobError
	return errors.As(err, &dup)
}
