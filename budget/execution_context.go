//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package budget

import (
	"sync/atomic"
	"time"
)

// ExecutionContext tracks elapsed time and call counts of one run against a
// Budget. The guards are side-effecting: a successful increment consumes
// budget, a rejected one does not.
type ExecutionContext struct {
	budget     Budget
	startTime  time.Time
	now        func() time.Time
	modelCalls atomic.Int64
	toolCalls  atomic.Int64
}

// ContextOption configures an ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) ContextOption {
	return func(c *ExecutionContext) {
		if now != nil {
			c.now = now
		}
	}
}

// NewExecutionContext starts the run clock for b.
func NewExecutionContext(b Budget, opts ...ContextOption) *ExecutionContext {
	c := &ExecutionContext{budget: b, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.startTime = c.now()
	return c
}

// Budget returns the limits this context enforces.
func (c *ExecutionContext) Budget() Budget { return c.budget }

// StartTime returns when the run started.
func (c *ExecutionContext) StartTime() time.Time { return c.startTime }

// Elapsed returns the time since the run started.
func (c *ExecutionContext) Elapsed() time.Duration {
	return c.now().Sub(c.startTime)
}

// Remaining returns the time left before the run timeout; never negative.
func (c *ExecutionContext) Remaining() time.Duration {
	left := c.budget.RunTimeout() - c.Elapsed()
	if left < 0 {
		return 0
	}
	return left
}

// CheckBudget fails once elapsed time exceeds the run timeout.
func (c *ExecutionContext) CheckBudget() error {
	if c.Elapsed() > c.budget.RunTimeout() {
		return &ExceededError{Limit: LimitRunTimeout, Value: c.budget.RunTimeoutMs()}
	}
	return nil
}

// IncrementModelCalls counts one model call, rejecting it if it would exceed
// model.maxCalls.
func (c *ExecutionContext) IncrementModelCalls() error {
	limit := int64(c.budget.Model().MaxCalls)
	if !incrementWithin(&c.modelCalls, 1, limit) {
		return &ExceededError{Limit: LimitModelMaxCalls, Value: limit}
	}
	return nil
}

// IncrementToolCalls counts n tool calls, rejecting all of them if the total
// would exceed tool.maxCalls.
func (c *ExecutionContext) IncrementToolCalls(n int) error {
	if n <= 0 {
		return nil
	}
	limit := int64(c.budget.Tool().MaxCalls)
	if !incrementWithin(&c.toolCalls, int64(n), limit) {
		return &ExceededError{Limit: LimitToolMaxCalls, Value: limit}
	}
	return nil
}

// ModelCallCount returns the number of accepted model calls.
func (c *ExecutionContext) ModelCallCount() int { return int(c.modelCalls.Load()) }

// ToolCallCount returns the number of accepted tool calls.
func (c *ExecutionContext) ToolCallCount() int { return int(c.toolCalls.Load()) }

func incrementWithin(counter *atomic.Int64, delta, limit int64) bool {
	for {
		cur := counter.Load()
		next := cur + delta
		if next > limit {
			return false
		}
		if counter.CompareAndSwap(cur, next) {
			return true
		}
	}
}
