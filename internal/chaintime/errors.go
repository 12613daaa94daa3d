package chaintime

import "errors"

var (
	// ErrTimeOverflow is returned when deadline arithmetic would exceed the
	// maximum representable protocol time.
	ErrTimeOverflow = errors.New("protocol time overflow")
)
