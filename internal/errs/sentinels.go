// Package errs contains sentinel errors shared by the store, service and
// connection layers so callers can classify failures with errors.Is.
package errs

import "errors"

var (
	// ErrInvalidToken indicates a missing, malformed or unverifiable credential.
	ErrInvalidToken = errors.New("invalid token")

	// ErrValidation indicates an inbound frame or request that fails validation.
	ErrValidation = errors.New("validation failed")

	// ErrAttachment indicates an attachment payload could not be decoded or written.
	ErrAttachment = errors.New("attachment failed")

	// ErrStore indicates the persistence layer rejected or failed a write.
	ErrStore = errors.New("store failed")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")
)
