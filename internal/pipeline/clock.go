package pipeline

import "github.com/jonboulle/clockwork"

// clock is the package time source for discovery pacing. Tests swap in a
// fake via SetClock so paced loops run instantly.
var clock clockwork.Clock = clockwork.NewRealClock()

// SetClock swaps the time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
