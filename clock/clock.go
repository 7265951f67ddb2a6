// Package clock provides the monotonic+wall clock source used throughout
// the daemon (component C1). It exists so that tests can advance time
// deterministically instead of sleeping.
package clock

import "github.com/benbjohnson/clock"

// Source is the time source every component that needs "now" depends on.
// It is a thin re-export of clock.Clock so call sites only ever import
// this package rather than benbjohnson/clock directly.
type Source = clock.Clock

// Mock is a manually-advanced Source, used in tests.
type Mock = clock.Mock

// New returns the real, wall-clock backed Source.
func New() Source {
	return clock.New()
}

// NewMock returns a Source whose Now() starts at the Unix epoch and only
// advances when Add or Set is called.
func NewMock() *Mock {
	return clock.NewMock()
}
