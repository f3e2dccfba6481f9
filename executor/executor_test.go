//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-gateway/assembler"
	"trpc.group/trpc-go/trpc-agent-gateway/budget"
	"trpc.group/trpc-go/trpc-agent-gateway/event"
	"trpc.group/trpc-go/trpc-agent-gateway/request"
	"trpc.group/trpc-go/trpc-agent-gateway/stream"
	"trpc.group/trpc-go/trpc-agent-gateway/submit"
	"trpc.group/trpc-go/trpc-agent-gateway/tool"
	"trpc.group/trpc-go/trpc-agent-gateway/tool/function"
)

// fakeTool fails a configured number of times before succeeding.
type fakeTool struct {
	name     string
	failures int32
	delay    time.Duration
	err      error
	calls    atomic.Int32
}

func (f *fakeTool) Declaration() *tool.Declaration { return &tool.Declaration{Name: f.name} }

func (f *fakeTool) Call(ctx context.Context, args []byte) (any, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if n <= f.failures {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("transient failure")
	}
	return map[string]any{"attempt": n, "args": json.RawMessage(args)}, nil
}

func newEngine(t *testing.T, coord *submit.Coordinator, opts ...Option) *Engine {
	t.Helper()
	if coord == nil {
		coord = submit.New()
	}
	e, err := New(coord, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func execCtx(scope budget.Scope) *budget.ExecutionContext {
	return budget.NewExecutionContext(budget.New(budget.Spec{Tool: scope}))
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestExecute_RetriesUntilSuccess(t *testing.T) {
	ft := &fakeTool{name: "flaky", failures: 2}
	e := newEngine(t, nil)
	b, err := e.Execute(context.Background(), &Request{
		RunID: "run_1", ChatID: "c1",
		Calls: []PlannedToolCall{{CallID: "t1", ToolName: "flaky", Arguments: map[string]any{"q": "x"}}},
		Tools: map[string]tool.Tool{"flaky": ft},
		Exec:  execCtx(budget.Scope{MaxCalls: 5, TimeoutMs: 1000, RetryCount: 2}),
	})
	require.NoError(t, err)
	require.Len(t, b.Results, 1)
	res := b.Results[0]
	assert.Equal(t, int32(3), ft.calls.Load())
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, res.OK)
	assert.JSONEq(t, `{"attempt":3,"args":{"q":"x"}}`, res.Result)
	assert.Equal(t, tool.KindBackend, res.Kind)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	ft := &fakeTool{name: "down", failures: 100, err: errors.New("connection refused")}
	e := newEngine(t, nil)
	b, err := e.Execute(context.Background(), &Request{
		RunID: "run_1", ChatID: "c1",
		Calls: []PlannedToolCall{{CallID: "t1", ToolName: "down"}},
		Tools: map[string]tool.Tool{"down": ft},
		Exec:  execCtx(budget.Scope{MaxCalls: 5, TimeoutMs: 1000, RetryCount: 1}),
	})
	require.NoError(t, err, "tool failures never abort the batch")
	assert.Equal(t, int32(2), ft.calls.Load())
	assert.False(t, b.Results[0].OK)
	assert.Equal(t, map[string]any{"ok": false, "error": "connection refused"}, decode(t, b.Results[0].Result))
}

func TestExecute_BackendTimeout(t *testing.T) {
	ft := &fakeTool{name: "slow", delay: 200 * time.Millisecond}
	e := newEngine(t, nil)
	start := time.Now()
	b, err := e.Execute(context.Background(), &Request{
		RunID: "run_1", ChatID: "c1",
		Calls: []PlannedToolCall{{CallID: "t1", ToolName: "slow"}},
		Tools: map[string]tool.Tool{"slow": ft},
		Exec:  execCtx(budget.Scope{MaxCalls: 5, TimeoutMs: 30, RetryCount: 1}),
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "timed out attempts are abandoned")
	assert.Equal(t, 2, b.Results[0].Attempts)
	assert.Equal(t, map[string]any{"ok": false, "error": "Backend tool timeout"}, decode(t, b.Results[0].Result))
}

func TestExecute_ArgumentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	sum := function.NewFunctionTool(
		func(_ context.Context, in struct {
			A int `json:"a"`
		}) (int, error) {
			calls.Add(1)
			return in.A, nil
		},
		function.WithName("sum"),
	)
	e := newEngine(t, nil)
	b, err := e.Execute(context.Background(), &Request{
		RunID: "run_1", ChatID: "c1",
		Calls: []PlannedToolCall{{CallID: "t1", ToolName: "sum", Arguments: map[string]any{"a": "nan"}}},
		Tools: map[string]tool.Tool{"sum": sum},
		Exec:  execCtx(budget.Scope{MaxCalls: 5, TimeoutMs: 1000, RetryCount: 3}),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 1, b.Results[0].Attempts)
	out := decode(t, b.Results[0].Result)
	assert.Equal(t, false, out["ok"])
	assert.Contains(t, out["error"], "invalid arguments")
}

func TestExecute_UnknownTool(t *testing.T) {
	e := newEngine(t, nil)
	b, err := e.Execute(context.Background(), &Request{
		RunID: "run_1", ChatID: "c1",
		Calls: []PlannedToolCall{{CallID: "t1", ToolName: "ghost"}},
		Exec:  execCtx(budget.Scope{}),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, b.Results[0].Attempts)
	assert.JSONEq(t, `{"ok":false,"error":"tool not found: ghost"}`, b.Results[0].Result)
}

func TestExecute_FrontendTimeout(t *testing.T) {
	e := newEngine(t, nil, WithSubmitTimeout(60*time.Millisecond))
	start := time.Now()
	b, err := e.Execute(context.Background(), &Request{
		RunID: "run_1", ChatID: "c1",
		Calls: []PlannedToolCall{{CallID: "t1", ToolName: "confirm"}},
		Tools: map[string]tool.Tool{"confirm": tool.NewFrontendTool("confirm", "", nil)},
		Exec:  execCtx(budget.Scope{}),
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	out := decode(t, b.Results[0].Result)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, FrontendSubmitTimeoutCode, out["code"])
	assert.Contains(t, out["error"], "Frontend tool submit timeout")
	assert.Equal(t, tool.KindFrontend, b.Results[0].Kind)
}

func TestExecute_FrontendSubmitted(t *testing.T) {
	coord := submit.New()
	e := newEngine(t, coord, WithSubmitTimeout(2*time.Second))

	var sawRequest bool
	onDelta := func(_ context.Context, d stream.Delta) ([]*event.Event, error) {
		if d.RequestSubmit != nil {
			sawRequest = true
			// The waiter is registered before the client is told.
			go func() {
				ack := coord.Submit("run_1", d.RequestSubmit.ToolID, map[string]any{"approved": true})
				assert.True(t, ack.Accepted)
			}()
		}
		return nil, nil
	}
	b, err := e.Execute(context.Background(), &Request{
		RunID: "run_1", ChatID: "c1",
		Calls:    []PlannedToolCall{{CallID: "t1", ToolName: "confirm", Arguments: map[string]any{"q": "ok?"}}},
		Classify: func(string) tool.Kind { return tool.KindFrontend },
		Exec:     execCtx(budget.Scope{}),
		OnDelta:  onDelta,
	})
	require.NoError(t, err)
	assert.True(t, sawRequest)
	assert.True(t, b.Results[0].OK)
	assert.JSONEq(t, `{"approved":true}`, b.Results[0].Result)
	require.Len(t, b.Deltas, 1, "only the result is left for the caller")
	assert.Equal(t, "t1", b.Deltas[0].ToolResults[0].ID)
	assert.Equal(t, 0, coord.Pending())
}

func TestExecute_BudgetAbortsBatch(t *testing.T) {
	ft := &fakeTool{name: "ok"}
	e := newEngine(t, nil)
	b, err := e.Execute(context.Background(), &Request{
		RunID: "run_1", ChatID: "c1",
		Calls: []PlannedToolCall{{CallID: "t1", ToolName: "ok"}, {CallID: "t2", ToolName: "ok"}},
		Tools: map[string]tool.Tool{"ok": ft},
		Exec:  execCtx(budget.Scope{MaxCalls: 1, TimeoutMs: 1000}),
	})
	require.ErrorIs(t, err, budget.ErrBudgetExceeded)
	assert.Contains(t, err.Error(), "tool.maxCalls=1")
	require.Len(t, b.Results, 1)
	assert.Equal(t, int32(1), ft.calls.Load())
}

func TestExecute_CallbacksShortCircuit(t *testing.T) {
	ft := &fakeTool{name: "search"}
	cbs := tool.NewCallbacks().RegisterBeforeTool(func(_ context.Context, inv *tool.Invocation) (any, error) {
		assert.Equal(t, "run_1", inv.RunID)
		assert.Equal(t, 1, inv.Attempt)
		return "cached", nil
	})
	e := newEngine(t, nil, WithToolCallbacks(cbs))
	b, err := e.Execute(context.Background(), &Request{
		RunID: "run_1", ChatID: "c1",
		Calls: []PlannedToolCall{{CallID: "t1", ToolName: "search"}},
		Tools: map[string]tool.Tool{"search": ft},
		Exec:  execCtx(budget.Scope{}),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), ft.calls.Load())
	assert.Equal(t, `"cached"`, b.Results[0].Result)
}

func TestExecute_PanicIsAFailure(t *testing.T) {
	panicky := function.NewMapTool(func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	}, function.WithName("panicky"))
	e := newEngine(t, nil)
	b, err := e.Execute(context.Background(), &Request{
		RunID: "run_1", ChatID: "c1",
		Calls: []PlannedToolCall{{CallID: "t1", ToolName: "panicky"}},
		Tools: map[string]tool.Tool{"panicky": panicky},
		Exec:  execCtx(budget.Scope{RetryCount: 0}),
	})
	require.NoError(t, err)
	assert.Contains(t, b.Results[0].Result, "kaboom")
}

// Deltas from a batch without flushing feed the assembler cleanly, with each
// call closed before the next one starts.
func TestExecute_DeltasAreOrderedForAssembler(t *testing.T) {
	a := assembler.New()
	_, err := a.Begin(&request.Query{ChatID: "c1", Message: "hi", RunID: "run_1"})
	require.NoError(t, err)

	e := newEngine(t, nil, WithSubmitTimeout(10*time.Millisecond))
	b, err := e.Execute(context.Background(), &Request{
		RunID: "run_1", ChatID: "c1",
		Calls: []PlannedToolCall{
			{CallID: "t1", ToolName: "ok"},
			{CallID: "t2", ToolName: "confirm"},
			{CallID: "t3", ToolName: "ghost"},
		},
		Tools: map[string]tool.Tool{"ok": &fakeTool{name: "ok"}, "confirm": tool.NewFrontendTool("confirm", "", nil)},
		Exec:  execCtx(budget.Scope{}),
	})
	require.NoError(t, err)

	var types []string
	for _, d := range b.Deltas {
		inputs, err := d.Inputs()
		require.NoError(t, err)
		for _, in := range inputs {
			evs, err := a.Consume(in)
			require.NoError(t, err)
			for _, ev := range evs {
				types = append(types, ev.Type+":"+ev.String("toolId"))
			}
		}
	}
	assert.Equal(t, []string{
		"tool.start:t1", "tool.args:t1", "tool.end:t1", "tool.result:t1",
		"tool.start:t2", "tool.args:t2", "tool.end:t2", "request.submit:t2", "tool.result:t2",
		"tool.start:t3", "tool.args:t3", "tool.end:t3", "tool.result:t3",
	}, types)
}

func TestNew_NilCoordinator(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
