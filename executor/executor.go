//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package executor runs the tool calls planned by a model step. Calls run one
// after another in plan order; backend calls are retried and bounded by the
// tool budget, frontend calls wait for a human response.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/metric"

	"trpc.group/trpc-go/trpc-agent-gateway/budget"
	"trpc.group/trpc-go/trpc-agent-gateway/event"
	itelemetry "trpc.group/trpc-go/trpc-agent-gateway/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-gateway/stream"
	"trpc.group/trpc-go/trpc-agent-gateway/submit"
	imetric "trpc.group/trpc-go/trpc-agent-gateway/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-gateway/tool"
)

// FrontendSubmitTimeoutCode tags the result of a frontend call nobody answered.
const FrontendSubmitTimeoutCode = "FRONTEND_SUBMIT_TIMEOUT"

// DefaultPoolSize is the default number of concurrent backend attempts.
const DefaultPoolSize = 64

// PlannedToolCall is one tool invocation requested by the model.
type PlannedToolCall struct {
	CallID    string
	ToolName  string
	Arguments map[string]any
	// Announced is true when the call's arguments were already streamed to
	// the client. Otherwise the engine announces them first.
	Announced bool
}

// Classifier maps a tool name to where it executes.
type Classifier func(name string) tool.Kind

// DeltaSink receives intermediate deltas as soon as they are produced and
// returns the events they materialized.
type DeltaSink func(ctx context.Context, d stream.Delta) ([]*event.Event, error)

// Request is one batch of tool calls.
type Request struct {
	RunID  string
	ChatID string
	Calls  []PlannedToolCall
	// Tools holds the tools enabled for the run, keyed by name.
	Tools map[string]tool.Tool
	Exec  *budget.ExecutionContext
	// Classify defaults to tool.KindOf on the resolved tool.
	Classify Classifier
	// OnDelta, when set, receives start/args/end and submit requests while
	// the batch runs. Results always stay in Batch.Deltas.
	OnDelta DeltaSink
}

// CallResult summarizes one executed call.
type CallResult struct {
	CallID   string
	ToolName string
	Kind     tool.Kind
	// Arguments is the JSON encoded arguments.
	Arguments string
	// Result is the JSON text returned to the model and the client.
	Result   string
	OK       bool
	Attempts int
}

// Batch is the outcome of Execute.
type Batch struct {
	// Deltas are the deltas not yet delivered through OnDelta, in order.
	Deltas []stream.Delta
	// Events are the events OnDelta materialized.
	Events  []*event.Event
	Results []CallResult
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	poolSize      int
	submitTimeout time.Duration
	callbacks     *tool.Callbacks
}

// WithPoolSize sets the worker pool size for backend attempts.
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithSubmitTimeout sets how long a frontend call waits for its response.
// Zero uses the coordinator timeout.
func WithSubmitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.submitTimeout = d
	}
}

// WithToolCallbacks sets callbacks run around every backend attempt.
func WithToolCallbacks(cb *tool.Callbacks) Option {
	return func(o *options) {
		o.callbacks = cb
	}
}

// Engine executes tool call batches. It is safe for concurrent use by
// multiple runs.
type Engine struct {
	pool          *ants.Pool
	coordinator   *submit.Coordinator
	submitTimeout time.Duration
	callbacks     *tool.Callbacks

	attempts       metric.Int64Counter
	failures       metric.Int64Counter
	timeouts       metric.Int64Counter
	submitTimeouts metric.Int64Counter
}

// New creates an Engine resolving frontend calls through coordinator.
func New(coordinator *submit.Coordinator, opts ...Option) (*Engine, error) {
	if coordinator == nil {
		return nil, errors.New("executor: nil submit coordinator")
	}
	o := options{poolSize: DefaultPoolSize}
	for _, opt := range opts {
		opt(&o)
	}
	// Abandoned attempts keep their worker until they return, so a full pool
	// must fail fast instead of blocking the run.
	pool, err := ants.NewPool(o.poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("executor: create pool: %w", err)
	}
	return &Engine{
		pool:           pool,
		coordinator:    coordinator,
		submitTimeout:  o.submitTimeout,
		callbacks:      o.callbacks,
		attempts:       imetric.Int64Counter(itelemetry.MetricToolAttempts, "Backend tool attempts."),
		failures:       imetric.Int64Counter(itelemetry.MetricToolFailures, "Tool calls that ended with ok=false."),
		timeouts:       imetric.Int64Counter(itelemetry.MetricToolTimeouts, "Backend tool attempts that hit their deadline."),
		submitTimeouts: imetric.Int64Counter(itelemetry.MetricSubmitTimeouts, "Frontend calls without a response in time."),
	}, nil
}

// Close releases the worker pool.
func (e *Engine) Close() {
	e.pool.Release()
}

// Execute runs req.Calls in order. Tool failures become ok=false results and
// never abort the batch. A budget error, a cancelled ctx or a failing OnDelta
// aborts it; the batch built so far is returned with the error.
func (e *Engine) Execute(ctx context.Context, req *Request) (*Batch, error) {
	if req == nil || req.Exec == nil {
		return nil, errors.New("executor: request needs an execution context")
	}
	b := &Batch{}
	for _, call := range req.Calls {
		if err := req.Exec.CheckBudget(); err != nil {
			return b, err
		}
		if err := req.Exec.IncrementToolCalls(1); err != nil {
			return b, err
		}
		if err := e.executeCall(ctx, req, call, b); err != nil {
			return b, err
		}
	}
	return b, nil
}

// intermediate routes d through OnDelta when set, else keeps it in the batch.
func (e *Engine) intermediate(ctx context.Context, req *Request, b *Batch, d stream.Delta) error {
	if req.OnDelta == nil {
		b.Deltas = append(b.Deltas, d)
		return nil
	}
	evs, err := req.OnDelta(ctx, d)
	if err != nil {
		return err
	}
	b.Events = append(b.Events, evs...)
	return nil
}

func (e *Engine) classify(req *Request, name string) tool.Kind {
	if req.Classify != nil {
		return req.Classify(name)
	}
	if t, ok := req.Tools[name]; ok {
		return tool.KindOf(t)
	}
	return tool.KindBackend
}
