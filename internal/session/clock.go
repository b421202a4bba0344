package session

import "time"

// Remaining returns how many whole seconds of the answer window are left for
// a question that started at start and runs for durationSeconds.
//
// It is a pure function of wall-clock time, so any number of independently
// polling clients converge on the same value without coordination. Elapsed
// time is floored to whole seconds, matching what clients display.
func Remaining(start time.Time, durationSeconds int, now time.Time) int {
	elapsed := int(now.Sub(start) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	remaining := durationSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
