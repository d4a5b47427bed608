package broker

import (
	"errors"
	"fmt"
	"net/http"
)

// Errors shared by the broker backends.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransport is returned when a control message could not be published
	// or an HTTP exchange failed before a response was received.
	ErrTransport = errors.New("broker: transport failure")

	// ErrTimeout is returned when the broker did not answer a whole batch
	// within the response deadline.
	ErrTimeout = errors.New("broker: response timeout")

	// ErrNotFound matches backend errors for an absent principal or rule
	// set. AdminPort implementations translate it into empty results; it
	// never reaches reconciliation.
	ErrNotFound = errors.New("broker: not found")
)

// RemoteAPIError is a non-2xx answer from a REST management API.
type RemoteAPIError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
	Body    string
}

func (e *RemoteAPIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker: %s %s: status %d: %s: %s", e.Method, e.Path, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("broker: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Is makes errors.Is(err, ErrNotFound) true for 404 answers and for
// bodies carrying the NOT_FOUND code.
func (e *RemoteAPIError) Is(target error) bool {
	return target == ErrNotFound && (e.Status == http.StatusNotFound || e.Code == "NOT_FOUND")
}

// CommandError is an error reported by the broker for one control command.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("broker: command %s failed: %s", e.Command, e.Message)
}
