// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock reads the wall clock in UTC at microsecond resolution, the
// precision Postgres keeps for TIMESTAMPTZ. Timestamps written to the state
// store and score log therefore read back unchanged.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time without its monotonic reading.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
