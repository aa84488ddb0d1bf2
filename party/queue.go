// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package party

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/partyline/meta"
	"github.com/bureau-foundation/partyline/platform"
)

// maxConflictRetries bounds consecutive stale-revision redispatches of
// one batch. A conflict that outlives it means another writer is
// patching in a tight loop; the batch fails with ErrConflict.
const maxConflictRetries = 10

// ErrQueueClosed is returned for patches still queued when the queue
// is closed (the party was left).
var ErrQueueClosed = errors.New("party: patch queue closed")

// ErrConflict is returned when a batch keeps losing revision races.
// It does not match platform.ErrStaleRevision.
var ErrConflict = errors.New("party: revision conflict persisted")

// SubmitFunc sends one patch for entity at revision. Implementations
// return the transport error unchanged so the queue can classify it.
type SubmitFunc[E any] func(ctx context.Context, entity E, revision int64, patch *meta.Patch) error

// QueueConfig configures a PatchQueue.
type QueueConfig[E any] struct {
	// Entity is passed back to Submit.
	Entity E

	// Meta is the entity's replica. The queue applies patches to it on
	// enqueue and owns its revision.
	Meta *meta.Meta

	// Submit performs the network call.
	Submit SubmitFunc[E]

	// Name labels log lines ("party abc", "member xyz").
	Name string

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// PatchQueue serializes meta patches for one entity against the
// server's revision counter. One goroutine owns the in-flight request
// and the coalesced pending batch; callers interact only through
// Enqueue.
//
// Every enqueued patch is applied to the local meta immediately. At
// most one request is in flight; patches arriving meanwhile merge into
// a single pending batch (latest write per key wins) that is sent when
// the in-flight request settles. A stale-revision rejection adopts the
// server's revision and resends the rejected batch merged under the
// pending one, so no accepted write is lost and callers never see the
// stale error.
type PatchQueue[E any] struct {
	entity E
	meta   *meta.Meta
	submit SubmitFunc[E]
	name   string
	logger *slog.Logger

	inbox chan enqueueRequest
	ctx   context.Context
	stop  context.CancelFunc
	done  chan struct{}

	// busy is set while a batch is in flight or pending.
	busy atomic.Bool

	closeOnce sync.Once
}

type enqueueRequest struct {
	build  func(*meta.Meta) (*meta.Patch, error)
	result chan error
}

// batch is a merged patch and every caller waiting on it.
type batch struct {
	patch   *meta.Patch
	waiters []chan error
}

func (b *batch) absorb(patch *meta.Patch, waiter chan error) {
	b.patch.Merge(patch)
	b.waiters = append(b.waiters, waiter)
}

func (b *batch) finish(err error) {
	for _, waiter := range b.waiters {
		waiter <- err
	}
}

type dispatchResult struct {
	revision int64
	err      error
}

// NewPatchQueue starts the queue's goroutine. Close stops it.
func NewPatchQueue[E any](config QueueConfig[E]) *PatchQueue[E] {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	queue := &PatchQueue[E]{
		entity: config.Entity,
		meta:   config.Meta,
		submit: config.Submit,
		name:   config.Name,
		logger: logger,
		inbox:  make(chan enqueueRequest),
		ctx:    ctx,
		stop:   stop,
		done:   make(chan struct{}),
	}
	go queue.run()
	return queue
}

// Enqueue applies patch locally and waits until the server has
// accepted it (possibly merged with other patches). Cancelling ctx
// abandons the wait; the patch stays queued and is still sent.
func (q *PatchQueue[E]) Enqueue(ctx context.Context, patch *meta.Patch) error {
	if patch.Empty() {
		return nil
	}
	patch = patch.Clone()
	return q.EnqueueFunc(ctx, func(*meta.Meta) (*meta.Patch, error) { return patch, nil })
}

// EnqueueFunc is Enqueue for read-modify-write patches: build runs on
// the queue goroutine against the current replica, so two concurrent
// edits of one object value cannot lose each other's fields. An error
// from build is returned without queueing anything.
func (q *PatchQueue[E]) EnqueueFunc(ctx context.Context, build func(current *meta.Meta) (*meta.Patch, error)) error {
	request := enqueueRequest{build: build, result: make(chan error, 1)}
	select {
	case q.inbox <- request:
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-request.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close fails every queued patch with ErrQueueClosed, cancels the
// in-flight request and waits for the goroutine to exit.
func (q *PatchQueue[E]) Close() {
	q.closeOnce.Do(q.stop)
	<-q.done
}

// Busy reports whether local writes are waiting for the server.
func (q *PatchQueue[E]) Busy() bool { return q.busy.Load() }

// Meta returns the entity's replica.
func (q *PatchQueue[E]) Meta() *meta.Meta { return q.meta }

// queueLoop is the state owned by the queue goroutine.
type queueLoop[E any] struct {
	*PatchQueue[E]

	// results is buffered so an in-flight submit finishing after Close
	// never blocks its goroutine.
	results   chan dispatchResult
	inFlight  *batch
	pending   *batch
	conflicts int
}

func (q *PatchQueue[E]) run() {
	defer close(q.done)
	loop := &queueLoop[E]{PatchQueue: q, results: make(chan dispatchResult, 1)}

	for {
		select {
		case <-q.ctx.Done():
			if loop.inFlight != nil {
				loop.inFlight.finish(ErrQueueClosed)
			}
			if loop.pending != nil {
				loop.pending.finish(ErrQueueClosed)
			}
			return

		case request := <-q.inbox:
			patch, err := request.build(q.meta)
			if err != nil || patch.Empty() {
				request.result <- err
				continue
			}
			q.busy.Store(true)
			q.meta.Apply(patch)
			switch {
			case loop.inFlight == nil:
				loop.inFlight = &batch{patch: meta.NewPatch()}
				loop.inFlight.absorb(patch, request.result)
				loop.dispatch()
			case loop.pending == nil:
				loop.pending = &batch{patch: meta.NewPatch()}
				loop.pending.absorb(patch, request.result)
			default:
				loop.pending.absorb(patch, request.result)
			}

		case result := <-loop.results:
			if q.ctx.Err() != nil {
				// Close raced the result; the Done case fails the waiters.
				continue
			}
			loop.settle(result)
			q.busy.Store(loop.inFlight != nil)
		}
	}
}

// dispatch sends the in-flight batch at the current revision.
func (l *queueLoop[E]) dispatch() {
	revision := l.meta.Revision()
	patch := l.inFlight.patch.Clone()
	go func() {
		l.results <- dispatchResult{revision: revision, err: l.submit(l.ctx, l.entity, revision, patch)}
	}()
}

// advance promotes the pending batch to in flight.
func (l *queueLoop[E]) advance() {
	l.inFlight, l.pending = l.pending, nil
	l.conflicts = 0
	if l.inFlight != nil {
		l.dispatch()
	}
}

// settle handles one dispatch outcome.
func (l *queueLoop[E]) settle(result dispatchResult) {
	err := result.err
	if err == nil {
		l.meta.RaiseRevision(result.revision + 1)
		l.inFlight.finish(nil)
		l.advance()
		return
	}

	switch platform.KindOf(err) {
	case platform.KindStaleRevision:
		l.conflicts++
		if l.conflicts > maxConflictRetries {
			l.logger.Error("giving up on patch after repeated revision conflicts",
				"entity", l.name,
				"attempts", l.conflicts,
				"revision", result.revision,
			)
			l.inFlight.finish(fmt.Errorf("%w: %s after %d attempts", ErrConflict, l.name, l.conflicts))
			l.advance()
			return
		}

		var apiErr *platform.APIError
		authoritative, ok := int64(0), false
		if errors.As(err, &apiErr) {
			authoritative, ok = apiErr.StaleRevision()
		}
		if ok {
			l.meta.SetRevision(authoritative)
		} else {
			l.meta.RaiseRevision(result.revision + 1)
		}
		l.logger.Info("patch rejected as stale, resending at server revision",
			"entity", l.name,
			"sent_revision", result.revision,
			"server_revision", l.meta.Revision(),
			"attempt", l.conflicts,
		)

		// The rejected batch goes first; anything queued since is newer
		// and wins per key.
		if l.pending != nil {
			l.inFlight.patch.Merge(l.pending.patch)
			l.inFlight.waiters = append(l.inFlight.waiters, l.pending.waiters...)
			l.pending = nil
		}
		l.dispatch()

	case platform.KindPermissionDenied:
		l.logger.Warn("patch forbidden, clearing queue",
			"entity", l.name,
			"error", err,
		)
		l.inFlight.finish(fmt.Errorf("party: patching %s: %w", l.name, err))
		if l.pending != nil {
			l.pending.finish(fmt.Errorf("party: queued patch for %s dropped: %w", l.name, err))
		}
		l.inFlight, l.pending = nil, nil
		l.conflicts = 0

	default:
		l.inFlight.finish(fmt.Errorf("party: patching %s: %w", l.name, err))
		l.advance()
	}
}
