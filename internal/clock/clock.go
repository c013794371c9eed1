// Package clock provides crawler.Clock implementations.
package clock

import "time"

// System reads the wall clock in UTC.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a plain function to crawler.Clock.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}

// Fixed returns a clock that always reports t.
func Fixed(t time.Time) Func {
	return func() time.Time { return t }
}
