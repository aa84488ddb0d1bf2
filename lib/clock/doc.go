// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Every partyline component that sleeps, schedules a refresh, sweeps a
// cache, or bounds a wait takes a Clock in its config (nil means
// Real()). Tests use Fake() and drive time with Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go component.Run(ctx)
//	fake.WaitForTimers(1)      // the goroutine has registered its timer
//	fake.Advance(time.Minute)  // fire it deterministically
//
// WaitForTimers removes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
