// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"context"
	"time"
)

// Clock abstracts time for the engine. Production code injects Real();
// tests inject Fake() and advance time explicitly.
//
// Bounded waits use NewTimer rather than an After-style channel so the
// timer can be stopped on the success path: a stopped fake timer no
// longer counts as pending, and a stopped real timer is released
// immediately.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTimer returns a Timer that delivers the fire time on C once d
	// has elapsed. If d <= 0 the timer fires immediately.
	NewTimer(d time.Duration) *Timer

	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed. The returned Timer's C
	// is nil.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a one-shot scheduled event.
type Timer struct {
	// C receives the fire time. Nil for AfterFunc timers.
	C <-chan time.Time

	stop func() bool
}

// Stop cancels the timer. Returns false if it already fired or was
// already stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers periodic ticks on C (capacity 1, ticks dropped when
// the reader falls behind).
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Sleep blocks for d on the given clock, returning early with the
// context's error if ctx is cancelled first. The timer is stopped on
// both paths.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := c.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
