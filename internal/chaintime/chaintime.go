package chaintime

import (
	"time"

	"github.com/eigerco/cloudberry/internal/safemath"
)

var now = time.Now

// Time is a protocol timestamp: whole seconds since the Unix epoch.
// Every deadline the hub stores (parameter update times, unbonding release
// times, commitment reveal times, request validity windows) is a Time checked
// against the caller-supplied current Time on a later call. Nothing in the
// protocol sleeps or schedules; waiting is always a stored deadline.
type Time uint64

// Period is a span of protocol time in seconds. Governed durations (update
// delay, unbonding period, commitment wait) are Periods.
type Period uint64

// Now returns the current protocol time.
func Now() Time {
	return FromTime(now())
}

// FromTime converts a standard time.Time to protocol time, truncating to
// whole seconds. Times before the Unix epoch clamp to zero.
func FromTime(t time.Time) Time {
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return Time(unix)
}

// FromSeconds creates a Time from seconds since the Unix epoch.
func FromSeconds(seconds uint64) Time {
	return Time(seconds)
}

// ToTime converts a protocol Time to a standard time.Time in UTC.
func (t Time) ToTime() time.Time {
	return time.Unix(int64(t), 0).UTC()
}

// Before reports whether t is before u.
func (t Time) Before(u Time) bool {
	return t < u
}

// After reports whether t is after u.
func (t Time) After(u Time) bool {
	return t > u
}

// Equal reports whether t and u are the same instant.
func (t Time) Equal(u Time) bool {
	return t == u
}

// Add returns t+p, failing with ErrTimeOverflow if the sum is not
// representable. Deadline arithmetic must never wrap: a wrapped deadline
// would sit in the past and open a timelock early.
func (t Time) Add(p Period) (Time, error) {
	sum, ok := safemath.Add64(uint64(t), uint64(p))
	if !ok {
		return 0, ErrTimeOverflow
	}
	return Time(sum), nil
}

// Sub returns the duration t-u as a time.Duration. If u is after t the
// result is zero.
func (t Time) Sub(u Time) time.Duration {
	if u > t {
		return 0
	}
	return time.Duration(t-u) * time.Second
}

// String renders the time as RFC 3339 UTC.
func (t Time) String() string {
	return t.ToTime().Format(time.RFC3339)
}

// PeriodFromDuration converts a time.Duration to a Period, truncating to
// whole seconds. Negative durations clamp to zero.
func PeriodFromDuration(d time.Duration) Period {
	if d < 0 {
		return 0
	}
	return Period(d / time.Second)
}
