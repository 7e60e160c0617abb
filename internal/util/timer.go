package util

import "time"

// Clock supplies the current time. Runs inject one so that timestamps are
// reproducible.
type Clock func() time.Time

// SystemClock returns the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Timer measures elapsed durations for logging and round-trip tracking.
type Timer struct {
	start time.Time
}

// StartTimer creates a new timer starting at current time.
func StartTimer() Timer {
	return Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t Timer) Elapsed() time.Duration {
	if t.start.IsZero() {
		return 0
	}
	return time.Since(t.start)
}

// ElapsedMs returns the elapsed milliseconds since start.
func (t Timer) ElapsedMs() int64 {
	return t.Elapsed().Milliseconds()
}
