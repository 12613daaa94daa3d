package params

import "errors"

var (
	// ErrTooEarly is returned when an update is executed before its deadline.
	ErrTooEarly = errors.New("parameter update timelock has not elapsed")
	// ErrNothingPending is returned when no update is scheduled.
	ErrNothingPending = errors.New("no pending parameter update")
	// ErrUnknownParameter is returned for parameter names the hub does not govern.
	ErrUnknownParameter = errors.New("unknown parameter")
)
