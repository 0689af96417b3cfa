package engine

import "time"

// Clock schedules delayed work. Retries and deferred watermark seeding go
// through it so tests can drive time by hand (see testutil.FakeClock).
type Clock interface {
	Now() time.Time
	// AfterFunc runs f in its own goroutine after d. The returned function
	// stops the timer and reports whether it was still pending.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
