package testutil

import (
	"sync"
	"time"

	"github.com/roach88/varpol/internal/ir"
)

// ClockEpoch is the instant a fresh DeterministicClock reports as Current.
var ClockEpoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock hands out strictly increasing authenticated-write
// timestamps, one second apart.
//
// The clock can be reset for test reuse, so the same scenario produces
// identical timestamps on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock positioned at ClockEpoch.
//
// The first call to Next() returns ClockEpoch plus one second.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next advances the clock and returns the new timestamp.
func (c *DeterministicClock) Next() ir.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.at(c.seq)
}

// Current returns the current timestamp without advancing.
func (c *DeterministicClock) Current() ir.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at(c.seq)
}

// Now adapts the clock to func() time.Time consumers.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClockEpoch.Add(time.Duration(c.seq) * time.Second)
}

// Reset rewinds the clock to ClockEpoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

func (c *DeterministicClock) at(seq int64) ir.Timestamp {
	return ir.TimestampFromTime(ClockEpoch.Add(time.Duration(seq) * time.Second))
}
