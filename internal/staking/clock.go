package staking

import (
	"sync"
	"time"
)

// Clock supplies the current time in whole seconds. Successive calls must
// never go backwards.
type Clock interface {
	Now() uint64
}

// SystemClock reads wall time plus a fixed offset and clamps the result so
// it never decreases, even if the host clock is stepped back.
type SystemClock struct {
	offset time.Duration

	mu   sync.Mutex
	last uint64
}

// NewSystemClock returns a clock shifted by offset.
func NewSystemClock(offset time.Duration) *SystemClock {
	return &SystemClock{offset: offset}
}

// Now implements Clock.
func (c *SystemClock) Now() uint64 {
	t := time.Now().Add(c.offset).Unix()
	if t < 0 {
		t = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if uint64(t) > c.last {
		c.last = uint64(t)
	}
	return c.last
}

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

// NewManualClock returns a clock reading start.
func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements Clock.
func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by seconds.
func (c *ManualClock) Advance(seconds uint64) {
	c.mu.Lock()
	c.now += seconds
	c.mu.Unlock()
}

// Set moves the clock to t. Earlier values are ignored.
func (c *ManualClock) Set(t uint64) {
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	c.mu.Unlock()
}
