// SPDX-License-Identifier: MPL-2.0

// Package clock abstracts wall-clock reads so step timings in build reports
// are deterministic under test.
package clock

import (
	"sync"
	"time"
)

type (
	// Clock reads the current time. Production code uses Real; tests use Fake.
	Clock interface {
		// Now returns the current time.
		Now() time.Time
		// Since returns the time elapsed since t.
		Since(t time.Time) time.Duration
	}

	// Real implements Clock using the system time.
	Real struct{}

	// Fake implements Clock with manually controlled time. When Tick is
	// non-zero every Now call advances the clock by Tick after reading it,
	// which gives each measured span a predictable non-zero duration.
	Fake struct {
		mu      sync.Mutex
		current time.Time
		tick    time.Duration
	}
)

// Now returns the current system time.
func (Real) Now() time.Time { return time.Now() }

// Since returns the time elapsed since t.
func (Real) Since(t time.Time) time.Duration { return time.Since(t) }

// NewFake creates a Fake clock at initial advancing by tick on every Now.
// A zero initial time defaults to a fixed reference instant.
func NewFake(initial time.Time, tick time.Duration) *Fake {
	if initial.IsZero() {
		initial = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Fake{current: initial, tick: tick}
}

// Now returns the fake time, then advances it by the configured tick.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.tick)
	return now
}

// Since returns the fake time elapsed since t without advancing the clock.
func (c *Fake) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

// Advance moves the fake time forward by d.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}
