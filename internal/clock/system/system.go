// Package system provides the wall clock used by the frontier service.
package system

import "time"

// Clock satisfies the Clock interfaces declared by the queue, filter, and
// frontier packages. Times are UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since t.
func (c Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
