// Package system provides the wall clock used for run timestamps.
package system

import "time"

// Clock implements board.Clock. Run history and progress events are stamped
// in UTC; only post times are interpreted in the board's timezone.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
