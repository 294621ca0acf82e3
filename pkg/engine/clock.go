package engine

import "time"

// eventClock issues strictly increasing timestamps for a run's audit events.
// Wall clocks can repeat at nanosecond granularity; the clock nudges a repeat
// forward so the event trail stays totally ordered by timestamp alone. Only
// the claiming executor appends events, so a per-execution clock suffices.
type eventClock struct {
	last time.Time
}

func newEventClock() *eventClock {
	return &eventClock{}
}

func (c *eventClock) Next() time.Time {
	now := time.Now().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}

	c.last = now

	return now
}
