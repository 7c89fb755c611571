// Package errors provides error handling for jobgate.
//
// It re-exports the subset of github.com/cockroachdb/errors the codebase
// uses, giving every error a stack trace and structured detail strings
// without each package importing the upstream module directly.
//
// Usage:
//
//	if err := store.Insert(ctx, j); err != nil {
//	    return errors.Wrap(err, "failed to persist job")
//	}
//
//	// Attach diagnostic context readable via GetAllDetails:
//	err = errors.WithDetail(err, fmt.Sprintf("Fingerprint: %s", fp))
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Error creation and wrapping.
var (
	New   = crdb.New
	Newf  = crdb.Newf
	Wrap  = crdb.Wrap
	Wrapf = crdb.Wrapf
)

// Structured detail and hints.
var (
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
	WithHint    = crdb.WithHint
)

// Error inspection.
var (
	Is            = crdb.Is
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	GetAllDetails = crdb.GetAllDetails
)
