package emqx

import "errors"

var (
	// ErrInvalidConfig is returned by New when the management URL is unusable.
	ErrInvalidConfig = errors.New("emqx: invalid configuration")

	// ErrEmptyToken is returned when login succeeds without a token.
	ErrEmptyToken = errors.New("emqx: login returned no token")
)
