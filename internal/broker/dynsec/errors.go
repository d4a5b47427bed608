package dynsec

import "errors"

var (
	// ErrDuplicateCorrelation is returned when a correlation ID is already pending.
	ErrDuplicateCorrelation = errors.New("dynsec: correlation id already pending")

	// ErrEmptyBatch is returned when SendCommands is called without commands.
	ErrEmptyBatch = errors.New("dynsec: empty command batch")

	// ErrMalformedResponse is returned when a response batch cannot be decoded.
	ErrMalformedResponse = errors.New("dynsec: malformed response")
)

// Error strings the plugin uses for absent objects.
const (
	errClientNotFound = "Client not found"
	errRoleNotFound   = "Role not found"
)
