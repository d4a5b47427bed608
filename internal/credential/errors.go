package credential

import "errors"

// Domain errors for credential operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound is returned when no credential has the requested ID.
	ErrNotFound = errors.New("credential: not found")

	// ErrNotOwned is returned when the credential exists but belongs to
	// another user. Callers should answer it exactly like ErrNotFound.
	ErrNotOwned = errors.New("credential: not owned by user")

	// ErrGlobalWriterMissing is returned when no credential carries
	// GLOBAL_DEVICE_DATA_WRITE.
	ErrGlobalWriterMissing = errors.New("credential: no global write credential")

	// ErrInvalidRole is returned for an unknown role or an empty role set.
	ErrInvalidRole = errors.New("credential: invalid role")

	// ErrInvalidUserID is returned when the user ID cannot be embedded in a username.
	ErrInvalidUserID = errors.New("credential: invalid user id")
)
