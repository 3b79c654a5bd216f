// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

var _ tracker.Clock = Clock{}

// Clock implements tracker.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC so date windows never depend on the
// host time zone.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
