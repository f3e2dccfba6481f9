//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package submit hands a human response, delivered on its own request, to the
// tool execution waiting for it.
package submit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds a wait when no timeout is configured.
const DefaultTimeout = 5 * time.Minute

// Ack statuses.
const (
	StatusAccepted        = "accepted"
	StatusNoPendingWaiter = "no_pending_waiter"
)

// ErrTimeout is matched by a wait that was not resolved in time.
var ErrTimeout = errors.New("submit: wait timed out")

// TimeoutError reports which slot timed out.
type TimeoutError struct {
	RunID   string
	ToolID  string
	Timeout time.Duration
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("submit: no response for run %s tool %s within %s", e.RunID, e.ToolID, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Ack is the answer to a Submit call.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the default wait timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

type key struct {
	runID  string
	toolID string
}

// slot is resolved at most once.
type slot struct {
	done    chan struct{}
	payload any
}

// Coordinator is a rendezvous point keyed by (runID, toolID). It is safe for
// concurrent use.
type Coordinator struct {
	timeout time.Duration

	mu    sync.Mutex
	slots map[key]*slot
}

// New creates a Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout: DefaultTimeout,
		slots:   make(map[key]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the default wait timeout.
func (c *Coordinator) Timeout() time.Duration { return c.timeout }

// Await registers the pending slot for (runID, toolID), or returns the one
// already registered. Register before announcing the wait to the client so
// a fast Submit cannot be lost.
func (c *Coordinator) Await(runID, toolID string) *Future {
	k := key{runID: runID, toolID: toolID}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[k]
	if !ok {
		s = &slot{done: make(chan struct{})}
		c.slots[k] = s
	}
	return &Future{c: c, key: k, slot: s}
}

// Submit resolves the slot for (runID, toolID) with payload.
func (c *Coordinator) Submit(runID, toolID string, payload any) Ack {
	k := key{runID: runID, toolID: toolID}
	c.mu.Lock()
	s, ok := c.slots[k]
	if ok {
		delete(c.slots, k)
		s.payload = payload
		close(s.done)
	}
	c.mu.Unlock()
	if !ok {
		return Ack{
			Status: StatusNoPendingWaiter,
			Detail: fmt.Sprintf("no pending waiter for run %s tool %s", runID, toolID),
		}
	}
	return Ack{Accepted: true, Status: StatusAccepted}
}

// Pending returns the number of unresolved slots.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// release drops the slot if it is still the registered one.
func (c *Coordinator) release(k key, s *slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots[k] == s {
		delete(c.slots, k)
	}
}

// Future is the pending result of an Await.
type Future struct {
	c    *Coordinator
	key  key
	slot *slot
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.slot.done }

// Wait blocks until the slot is resolved, timeout elapses or ctx is done. A
// non-positive timeout uses the coordinator default. On timeout the slot is
// released and a *TimeoutError is returned.
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = f.c.timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.slot.done:
		return f.slot.payload, nil
	case <-timer.C:
		f.c.release(f.key, f.slot)
		return nil, &TimeoutError{RunID: f.key.runID, ToolID: f.key.toolID, Timeout: timeout}
	case <-ctx.Done():
		f.c.release(f.key, f.slot)
		return nil, ctx.Err()
	}
}

// Cancel releases the slot without resolving it.
func (f *Future) Cancel() {
	f.c.release(f.key, f.slot)
}
