// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/partyline/lib/testutil"
)

func TestZeroValueIsOpen(t *testing.T) {
	var gate Gate
	if gate.IsClosed() {
		t.Fatal("zero gate is closed")
	}
	if err := gate.Wait(context.Background(), nil); err != nil {
		t.Fatalf("Wait on open gate: %v", err)
	}
}

func TestReleaseWakesAllWaiters(t *testing.T) {
	var gate Gate
	release, ok := gate.TryClose()
	if !ok {
		t.Fatal("TryClose on open gate failed")
	}
	if _, ok := gate.TryClose(); ok {
		t.Fatal("second TryClose succeeded while held")
	}

	const waiters = 8
	var started sync.WaitGroup
	done := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		started.Add(1)
		go func() {
			started.Done()
			done <- gate.Wait(context.Background(), nil)
		}()
	}
	started.Wait()
	release()
	release()

	for i := 0; i < waiters; i++ {
		if err := testutil.RequireReceive(t, done, 5*time.Second, "waiter %d", i); err != nil {
			t.Fatalf("waiter %d: %v", i, err)
		}
	}
	if gate.IsClosed() {
		t.Fatal("gate still closed after release")
	}
}

func TestWaitDeadline(t *testing.T) {
	var gate Gate
	release, _ := gate.TryClose()
	defer release()

	deadline := make(chan time.Time, 1)
	deadline <- time.Time{}
	if err := gate.Wait(context.Background(), deadline); !errors.Is(err, ErrExpired) {
		t.Fatalf("Wait = %v, want ErrExpired", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gate.Wait(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
}

func TestCloseSerializesOwners(t *testing.T) {
	var gate Gate
	first, err := gate.Close(context.Background(), nil)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	acquired := make(chan func(), 1)
	go func() {
		second, err := gate.Close(context.Background(), nil)
		if err != nil {
			t.Errorf("second Close: %v", err)
			return
		}
		acquired <- second
	}()

	select {
	case <-acquired:
		t.Fatal("second owner acquired a held gate")
	case <-time.After(20 * time.Millisecond): //nolint:realclock negative check
	}
	first()
	second := testutil.RequireReceive(t, acquired, 5*time.Second, "second owner")
	if !gate.IsClosed() {
		t.Fatal("gate open while second owner holds it")
	}
	second()
}
