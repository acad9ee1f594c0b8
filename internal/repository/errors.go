// Package repository defines the MySQL persistence of sessions, payment
// records and participant identities, plus error types that are reused
// across the repositories.  These sentinel values allow higher layers
// such as services and handlers to distinguish between failure scenarios.
// For example, ErrConflict signals that a conditional update lost to a
// concurrent writer, while ErrSignatureReused indicates that a transaction
// signature is already bound to another payment record.
package repository

import (
	"errors"
	"strings"
)

// ErrForbidden is returned when the caller attempts to read a resource
// they do not participate in.  Handlers should translate this into an
// HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a conditional update affected no row
// because the record was no longer in the expected state.  Services
// translate it into the lifecycle error of the losing operation.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when an insert collides with an existing
// primary key, such as a reused session id.
var ErrDuplicate = errors.New("duplicate record")

// ErrSignatureReused is returned when a transaction signature is already
// recorded on a different payment record.
var ErrSignatureReused = errors.New("transaction signature already used")

// isDuplicateKey reports whether err is a MySQL duplicate entry (1062).
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "1062")
}
