// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeTimerFiresOnAdvance(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.NewTimer(3 * time.Second)

	clock.Advance(2 * time.Second)
	select {
	case <-timer.C:
		t.Fatal("timer fired early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case fired := <-timer.C:
		if !fired.Equal(epoch.Add(3 * time.Second)) {
			t.Fatalf("fire time = %v", fired)
		}
	default:
		t.Fatal("timer did not fire")
	}
	if clock.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d after fire", clock.PendingCount())
	}
}

func TestFakeTimerStopReleases(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.NewTimer(time.Minute)
	if clock.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", clock.PendingCount())
	}
	if !timer.Stop() {
		t.Fatal("Stop on active timer returned false")
	}
	if clock.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d after Stop", clock.PendingCount())
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	clock.Advance(time.Hour)
	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeAfterFuncOrder(t *testing.T) {
	clock := Fake(epoch)
	var order []int
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	clock.AfterFunc(time.Second, func() { order = append(order, 1) })
	clock.Advance(5 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("callbacks fired in order %v", order)
	}
}

func TestFakeTicker(t *testing.T) {
	clock := Fake(epoch)
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
}

func TestSleepHonorsContext(t *testing.T) {
	clock := Fake(epoch)
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() { result <- Sleep(ctx, clock, time.Hour) }()
	clock.WaitForTimers(1)
	cancel()

	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep = %v, want context.Canceled", err)
	}
	if clock.PendingCount() != 0 {
		t.Fatalf("timer not released after cancellation: %d pending", clock.PendingCount())
	}
}

func TestSleepCompletes(t *testing.T) {
	clock := Fake(epoch)
	var done atomic.Bool
	result := make(chan error, 1)
	go func() {
		err := Sleep(context.Background(), clock, time.Second)
		done.Store(true)
		result <- err
	}()
	clock.WaitForTimers(1)
	if done.Load() {
		t.Fatal("Sleep returned before Advance")
	}
	clock.Advance(time.Second)
	if err := <-result; err != nil {
		t.Fatalf("Sleep = %v", err)
	}
}
