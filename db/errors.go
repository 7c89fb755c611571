package db

import (
	"github.com/mattn/go-sqlite3"

	"github.com/jobgate/jobgate/errors"
)

// IsUniqueViolation reports whether err is a SQLite unique-constraint
// failure, possibly wrapped. The jobs table enforces uniqueness over
// (name, frequency, cron_expression, fingerprint); a violation on insert
// means a concurrent creator won the admission race.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
