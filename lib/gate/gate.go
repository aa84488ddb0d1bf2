// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gate provides an advisory wait-gate: an owner closes the gate
// for the duration of a multi-step mutation, and observers wait for it
// to reopen before reading the mutated state.
//
// A Gate is not a mutex. Observers never hold it; they only wait for
// it to be open. Closing is exclusive (one owner at a time), and every
// waiter is woken at once when the owner releases, on success and
// failure alike. The owner must not Wait on its own gate.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrExpired is returned by Wait and Close when the caller's deadline
// channel fires before the gate opens.
var ErrExpired = errors.New("gate: wait expired")

// Gate is an advisory open/closed gate. The zero value is open.
type Gate struct {
	mu sync.Mutex
	// held is non-nil while the gate is closed and is closed (the
	// channel) on release, waking every waiter.
	held chan struct{}
}

// TryClose closes the gate if it is open. The returned release func
// reopens it; calling release more than once is harmless.
func (g *Gate) TryClose() (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held != nil {
		return nil, false
	}
	held := make(chan struct{})
	g.held = held
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			if g.held == held {
				g.held = nil
			}
			g.mu.Unlock()
			close(held)
		})
	}, true
}

// Close waits for the gate to open and closes it. deadline may be nil
// for a wait bounded only by ctx.
func (g *Gate) Close(ctx context.Context, deadline <-chan time.Time) (release func(), err error) {
	for {
		if release, ok := g.TryClose(); ok {
			return release, nil
		}
		if err := g.Wait(ctx, deadline); err != nil {
			return nil, err
		}
	}
}

// Wait blocks until the gate is open. deadline may be nil.
func (g *Gate) Wait(ctx context.Context, deadline <-chan time.Time) error {
	for {
		g.mu.Lock()
		held := g.held
		g.mu.Unlock()
		if held == nil {
			return nil
		}
		select {
		case <-held:
		case <-deadline:
			return ErrExpired
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IsClosed reports whether an owner currently holds the gate.
func (g *Gate) IsClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held != nil
}
