// Package clock provides the single monotonic clock domain shared by the
// capture coordinator and the GPIO edge watcher. Timestamps taken from two
// different Clock values must never be compared.
package clock

import (
	"sync/atomic"
	"time"
)

// Ticks is a raw reading of a Clock. Only differences between two readings
// of the same Clock are meaningful.
type Ticks int64

// Sub returns t-u in ticks.
func (t Ticks) Sub(u Ticks) Ticks {
	return t - u
}

// Clock is a monotonic, non-decreasing time source.
type Clock interface {
	Now() Ticks
	TicksPerSecond() int64
}

// Duration converts a tick difference read from c into a time.Duration.
func Duration(c Clock, d Ticks) time.Duration {
	tps := c.TicksPerSecond()
	if tps == int64(time.Second) {
		return time.Duration(d)
	}
	return time.Duration(float64(d) * float64(time.Second) / float64(tps))
}

// FromDuration converts d into ticks of c.
func FromDuration(c Clock, d time.Duration) Ticks {
	tps := c.TicksPerSecond()
	if tps == int64(time.Second) {
		return Ticks(d)
	}
	return Ticks(float64(d) * float64(tps) / float64(time.Second))
}

// Monotonic counts nanoseconds since it was created using the runtime's
// monotonic clock reading, so wall clock steps (NTP, manual changes) do not
// affect it.
type Monotonic struct {
	epoch time.Time
}

// NewMonotonic returns a clock whose epoch is now.
func NewMonotonic() *Monotonic {
	return &Monotonic{epoch: time.Now()}
}

// Now returns nanoseconds elapsed since the clock was created.
func (m *Monotonic) Now() Ticks {
	return Ticks(time.Since(m.epoch))
}

// TicksPerSecond is always 1e9.
func (m *Monotonic) TicksPerSecond() int64 {
	return int64(time.Second)
}

// Manual is a clock that only moves when told to. It is safe for concurrent
// use and is meant for tests and simulations.
type Manual struct {
	ticks atomic.Int64
	tps   int64
}

// NewManual returns a Manual clock at zero with the given resolution.
// A non-positive tps defaults to nanoseconds.
func NewManual(tps int64) *Manual {
	if tps <= 0 {
		tps = int64(time.Second)
	}
	return &Manual{tps: tps}
}

func (m *Manual) Now() Ticks { return Ticks(m.ticks.Load()) }

func (m *Manual) TicksPerSecond() int64 { return m.tps }

// Set moves the clock to t. Moving backwards is ignored.
func (m *Manual) Set(t Ticks) {
	for {
		cur := m.ticks.Load()
		if int64(t) <= cur {
			return
		}
		if m.ticks.CompareAndSwap(cur, int64(t)) {
			return
		}
	}
}

// Advance moves the clock forward by d ticks and returns the new reading.
func (m *Manual) Advance(d Ticks) Ticks {
	if d < 0 {
		return m.Now()
	}
	return Ticks(m.ticks.Add(int64(d)))
}
