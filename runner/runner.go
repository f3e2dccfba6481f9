//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package runner drives runs: it feeds model deltas and tool batches through
// an assembler and streams the resulting wire events.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-agent-gateway/assembler"
	"trpc.group/trpc-go/trpc-agent-gateway/budget"
	"trpc.group/trpc-go/trpc-agent-gateway/event"
	"trpc.group/trpc-go/trpc-agent-gateway/executor"
	"trpc.group/trpc-go/trpc-agent-gateway/internal/idgen"
	itelemetry "trpc.group/trpc-go/trpc-agent-gateway/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-gateway/log"
	"trpc.group/trpc-go/trpc-agent-gateway/model"
	"trpc.group/trpc-go/trpc-agent-gateway/request"
	"trpc.group/trpc-go/trpc-agent-gateway/submit"
	imetric "trpc.group/trpc-go/trpc-agent-gateway/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-gateway/telemetry/trace"
)

const defaultBufferSize = 256

var (
	// ErrRunInProgress is returned when a query reuses the id of an active run.
	ErrRunInProgress = errors.New("runner: run already in progress")
	// ErrUnknownAgent is returned when a query names an agent that is not registered.
	ErrUnknownAgent = errors.New("runner: unknown agent")
)

// Option configures a Runner.
type Option func(*options)

type options struct {
	agents          []*Agent
	defaultAgent    string
	executorOptions []executor.Option
	flush           bool
	modelCallbacks  *model.Callbacks
	bufferSize      int
	now             func() time.Time
}

// WithAgent registers an agent. The first registered agent is the default.
func WithAgent(a *Agent) Option {
	return func(o *options) {
		o.agents = append(o.agents, a)
	}
}

// WithDefaultAgent selects the agent used when a query has no agentKey.
func WithDefaultAgent(key string) Option {
	return func(o *options) {
		o.defaultAgent = key
	}
}

// WithExecutorOptions configures the tool execution engine.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *options) {
		o.executorOptions = append(o.executorOptions, opts...)
	}
}

// WithFlushIntermediate controls whether tool start/args/end events reach the
// client while a batch runs. It is on by default.
func WithFlushIntermediate(flush bool) Option {
	return func(o *options) {
		o.flush = flush
	}
}

// WithModelCallbacks sets callbacks run around every model step.
func WithModelCallbacks(cb *model.Callbacks) Option {
	return func(o *options) {
		o.modelCallbacks = cb
	}
}

// WithBufferSize sets the buffer of the event channel returned by Run.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.bufferSize = n
		}
	}
}

// WithClock sets the clock used for event timestamps and budgets.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Runner drives runs for a set of agents. It is safe for concurrent use.
type Runner struct {
	agents         map[string]*Agent
	defaultAgent   string
	engine         *executor.Engine
	coordinator    *submit.Coordinator
	flush          bool
	modelCallbacks *model.Callbacks
	bufferSize     int
	now            func() time.Time

	greeter   *assembler.SyncGreeter
	active    *activeRuns
	runErrors metric.Int64Counter
}

// New creates a Runner resolving frontend tool calls through coordinator.
func New(coordinator *submit.Coordinator, opts ...Option) (*Runner, error) {
	o := options{flush: true, bufferSize: defaultBufferSize, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.agents) == 0 {
		return nil, errors.New("runner: no agent registered")
	}
	agents := make(map[string]*Agent, len(o.agents))
	for _, a := range o.agents {
		if a == nil {
			return nil, errors.New("runner: nil agent")
		}
		if err := a.validate(); err != nil {
			return nil, err
		}
		if _, dup := agents[a.Key]; dup {
			return nil, fmt.Errorf("runner: duplicate agent %s", a.Key)
		}
		agents[a.Key] = a
	}
	if o.defaultAgent == "" {
		o.defaultAgent = o.agents[0].Key
	}
	if _, ok := agents[o.defaultAgent]; !ok {
		return nil, fmt.Errorf("%w: default agent %s", ErrUnknownAgent, o.defaultAgent)
	}
	greeter, err := assembler.NewSyncGreeter(assembler.DefaultGreetedChats)
	if err != nil {
		return nil, err
	}
	engine, err := executor.New(coordinator, o.executorOptions...)
	if err != nil {
		return nil, err
	}
	return &Runner{
		agents:         agents,
		defaultAgent:   o.defaultAgent,
		engine:         engine,
		coordinator:    coordinator,
		flush:          o.flush,
		modelCallbacks: o.modelCallbacks,
		bufferSize:     o.bufferSize,
		now:            o.now,
		greeter:        greeter,
		active:         newActiveRuns(),
		runErrors:      imetric.Int64Counter(itelemetry.MetricRunErrors, "Runs that ended with run.error."),
	}, nil
}

// Close releases the tool execution engine.
func (r *Runner) Close() {
	r.engine.Close()
}

// IsActive reports whether runID is being driven.
func (r *Runner) IsActive(runID string) bool {
	_, ok := r.active.chatOf(runID)
	return ok
}

// ActiveRuns returns the ids of the runs being driven, sorted.
func (r *Runner) ActiveRuns() []string {
	return r.active.ids()
}

// Run validates q and starts the run in the background. The returned channel
// carries every wire event of the run and is closed once the run ended with
// run.complete or run.error, or ctx was cancelled.
//
// Invalid queries, unknown agents and reused run ids fail synchronously
// without any event.
func (r *Runner) Run(ctx context.Context, q *request.Query) (<-chan *event.Event, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", request.ErrInvalidRequest)
	}
	if err := request.Prepare(q); err != nil {
		return nil, err
	}
	agentKey := q.AgentKey
	if agentKey == "" {
		agentKey = r.defaultAgent
	}
	agent, ok := r.agents[agentKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentKey)
	}
	if q.RunID == "" {
		q.RunID = idgen.New(idgen.PrefixRun)
	}
	if !r.active.acquire(q.RunID, q.ChatID) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, q.RunID)
	}

	asm := assembler.New(assembler.WithGreeter(r.greeter), assembler.WithClock(r.now))
	bootstrap, err := asm.Begin(q)
	if err != nil {
		r.active.release(q.RunID)
		return nil, err
	}
	x := &execution{
		runner: r,
		agent:  agent,
		query:  q,
		asm:    asm,
		exec:   budget.NewExecutionContext(agent.budget(), budget.WithClock(r.now)),
		out:    make(chan *event.Event, r.bufferSize),
	}
	go func() {
		defer close(x.out)
		defer r.active.release(q.RunID)
		r.drive(ctx, x, bootstrap)
	}()
	return x.out, nil
}

func (r *Runner) drive(ctx context.Context, x *execution, bootstrap []*event.Event) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameRun)
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyRunID, x.asm.RunID()),
		attribute.String(itelemetry.KeyChatID, x.asm.ChatID()),
		attribute.String(itelemetry.KeyAgentKey, x.agent.Key),
	)
	if err := x.emit(ctx, bootstrap); err != nil {
		return
	}
	err := x.loop(ctx)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		log.Infof("runner: run %s abandoned: %v", x.asm.RunID(), ctx.Err())
		return
	}
	r.fail(ctx, span, x, err)
}

// fail ends the run with run.error. Protocol violations are programming
// errors of a delta source and logged as such.
func (r *Runner) fail(ctx context.Context, span oteltrace.Span, x *execution, err error) {
	if errors.Is(err, assembler.ErrProtocol) {
		log.Errorf("runner: run %s: %v", x.asm.RunID(), err)
	} else {
		log.Warnf("runner: run %s failed: %v", x.asm.RunID(), err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	reason := "error"
	if ex, ok := budget.AsExceededError(err); ok {
		reason = ex.Limit
	}
	r.runErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	if err := x.emit(ctx, x.asm.Fail(err)); err != nil {
		log.Warnf("runner: run %s: run.error not delivered: %v", x.asm.RunID(), err)
	}
}

// Submit delivers the response of a frontend tool call to the waiting run.
// The returned events echo the submit as request.submit.
func (r *Runner) Submit(s *request.Submit) (submit.Ack, []*event.Event, error) {
	if s == nil {
		return submit.Ack{}, nil, fmt.Errorf("%w: nil submit", request.ErrInvalidRequest)
	}
	echo, err := assembler.New(assembler.WithClock(r.now)).Begin(s)
	if err != nil {
		return submit.Ack{}, nil, err
	}
	if chatID, ok := r.active.chatOf(s.RunID); ok && chatID != s.ChatID {
		return submit.Ack{
			Status: submit.StatusNoPendingWaiter,
			Detail: fmt.Sprintf("run %s does not belong to chat %s", s.RunID, s.ChatID),
		}, echo, nil
	}
	return r.coordinator.Submit(s.RunID, s.ToolID, s.Payload), echo, nil
}

// Upload records a file announced for a chat and returns its request.upload
// event. Uploads start no run.
func (r *Runner) Upload(u *request.Upload) ([]*event.Event, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: nil upload", request.ErrInvalidRequest)
	}
	return assembler.New(assembler.WithClock(r.now)).Begin(u)
}
