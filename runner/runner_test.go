//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-gateway/budget"
	"trpc.group/trpc-go/trpc-agent-gateway/event"
	"trpc.group/trpc-go/trpc-agent-gateway/executor"
	"trpc.group/trpc-go/trpc-agent-gateway/model"
	"trpc.group/trpc-go/trpc-agent-gateway/request"
	"trpc.group/trpc-go/trpc-agent-gateway/stream"
	"trpc.group/trpc-go/trpc-agent-gateway/submit"
	"trpc.group/trpc-go/trpc-agent-gateway/tool"
	"trpc.group/trpc-go/trpc-agent-gateway/tool/function"
)

// scriptModel replays one scripted response list per step. A step may
// instead fail, or block until its context ends.
type scriptModel struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []*model.Request
}

type scriptStep struct {
	responses []*model.Response
	err       error
	block     bool
}

func (m *scriptModel) Info() model.Info { return model.Info{Name: "script"} }

func (m *scriptModel) GenerateContent(ctx context.Context, req *model.Request) (<-chan *model.Response, error) {
	m.mu.Lock()
	idx := len(m.requests)
	cp := *req
	cp.Messages = append([]model.Message(nil), req.Messages...)
	m.requests = append(m.requests, &cp)
	m.mu.Unlock()
	if idx >= len(m.steps) {
		return nil, errors.New("script exhausted")
	}
	st := m.steps[idx]
	if st.err != nil {
		return nil, st.err
	}
	ch := make(chan *model.Response, len(st.responses))
	if st.block {
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}
	for _, rsp := range st.responses {
		ch <- rsp
	}
	close(ch)
	return ch, nil
}

func (m *scriptModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func textStep(parts ...string) scriptStep {
	var st scriptStep
	for _, p := range parts {
		st.responses = append(st.responses, &model.Response{Delta: stream.Delta{Content: p}})
	}
	st.responses = append(st.responses, &model.Response{Done: true, FinishReason: model.FinishReasonStop})
	return st
}

func toolStep(calls ...model.ToolCall) scriptStep {
	return scriptStep{responses: []*model.Response{{
		Done: true, FinishReason: model.FinishReasonToolCalls, ToolCalls: calls,
	}}}
}

func newTestRunner(t *testing.T, m model.Model, tools *tool.Registry, b budget.Budget, opts ...Option) (*Runner, *submit.Coordinator) {
	t.Helper()
	coord := submit.New()
	opts = append([]Option{WithAgent(&Agent{Key: "assistant", Model: m, Tools: tools, Budget: b, Instruction: "be helpful"})}, opts...)
	r, err := New(coord, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, coord
}

func drain(t *testing.T, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var out []*event.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("run did not finish, got %d events", len(out))
		}
	}
}

func types(evs []*event.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func assertWellFormed(t *testing.T, evs []*event.Event) {
	t.Helper()
	require.NotEmpty(t, evs)
	for i, ev := range evs {
		assert.Equal(t, int64(i+1), ev.Seq)
		if i < len(evs)-1 {
			assert.False(t, event.IsTerminal(ev.Type), "terminal event %s before the end", ev.Type)
		}
	}
	assert.True(t, event.IsTerminal(evs[len(evs)-1].Type))
}

func addTool() tool.Tool {
	type args struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	return function.NewFunctionTool(func(_ context.Context, in args) (map[string]int, error) {
		return map[string]int{"sum": in.A + in.B}, nil
	}, function.WithName("add"), function.WithDescription("Add two numbers"))
}

func TestRun_ContentOnly(t *testing.T) {
	m := &scriptModel{steps: []scriptStep{textStep("Hel", "lo")}}
	r, _ := newTestRunner(t, m, nil, budget.Default())

	ch, err := r.Run(context.Background(), &request.Query{ChatID: "c1", Message: "hi"})
	require.NoError(t, err)
	evs := drain(t, ch)
	assertWellFormed(t, evs)
	assert.Equal(t, []string{
		event.TypeRequestQuery, event.TypeChatStart, event.TypeRunStart,
		event.TypeContentStart, event.TypeContentDelta, event.TypeContentDelta, event.TypeContentEnd,
		event.TypeRunComplete,
	}, types(evs))
	assert.Equal(t, "stop", evs[len(evs)-1].String("finishReason"))

	require.Len(t, m.requests, 1)
	msgs := m.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, model.NewUserMessage("hi"), msgs[1])
}

func TestRun_BackendToolLoop(t *testing.T) {
	idx := 0
	m := &scriptModel{steps: []scriptStep{
		{responses: []*model.Response{
			{Delta: stream.Delta{ToolCalls: []stream.ToolCall{{ID: "call_1", Name: "add"}}}},
			{Delta: stream.Delta{ToolCalls: []stream.ToolCall{{ID: "call_1", Arguments: `{"a":1,`, ChunkIndex: &idx}}}},
			{Delta: stream.Delta{ToolCalls: []stream.ToolCall{{ID: "call_1", Arguments: `"b":2}`}}}},
			{Done: true, FinishReason: model.FinishReasonToolCalls, ToolCalls: []model.ToolCall{
				{ID: "call_1", Name: "add", Arguments: `{"a":1,"b":2}`},
			}},
		}},
		textStep("3"),
	}}
	tools, err := tool.NewRegistry(addTool())
	require.NoError(t, err)
	r, _ := newTestRunner(t, m, tools, budget.Default())

	ch, err := r.Run(context.Background(), &request.Query{ChatID: "c1", Message: "1+2?"})
	require.NoError(t, err)
	evs := drain(t, ch)
	assertWellFormed(t, evs)
	assert.Equal(t, []string{
		event.TypeRequestQuery, event.TypeChatStart, event.TypeRunStart,
		event.TypeToolStart, event.TypeToolArgs, event.TypeToolArgs,
		event.TypeToolEnd, event.TypeToolResult,
		event.TypeContentStart, event.TypeContentDelta, event.TypeContentEnd,
		event.TypeRunComplete,
	}, types(evs))
	assert.Equal(t, "backend", evs[3].String("toolType"))
	assert.Equal(t, `{"sum":3}`, evs[7].String("result"))

	require.Len(t, m.requests, 2)
	second := m.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, model.NewToolMessage("call_1", "add", `{"sum":3}`), last)
	assert.Equal(t, model.RoleAssistant, second[len(second)-2].Role)
	require.Len(t, m.requests[0].Tools, 1)
	assert.Equal(t, "add", m.requests[0].Tools[0].Name)
}

func TestRun_FrontendToolSubmit(t *testing.T) {
	m := &scriptModel{steps: []scriptStep{
		toolStep(model.ToolCall{ID: "call_9", Name: "confirm", Arguments: `{"question":"ship it?"}`}),
		textStep("shipped"),
	}}
	tools, err := tool.NewRegistry(tool.NewFrontendTool("confirm", "Ask the user", nil))
	require.NoError(t, err)
	r, _ := newTestRunner(t, m, tools, budget.Default(),
		WithExecutorOptions(executor.WithSubmitTimeout(5*time.Second)))

	ch, err := r.Run(context.Background(), &request.Query{ChatID: "c1", RunID: "run_fe", Message: "deploy"})
	require.NoError(t, err)
	assert.True(t, r.IsActive("run_fe"))
	assert.Equal(t, []string{"run_fe"}, r.ActiveRuns())

	var evs []*event.Event
	for ev := range ch {
		evs = append(evs, ev)
		if ev.Type == event.TypeRequestSubmit {
			ack, echo, err := r.Submit(&request.Submit{
				ChatID: "c1", RunID: "run_fe", ToolID: ev.String("toolId"),
				Payload: map[string]any{"approved": true},
			})
			require.NoError(t, err)
			assert.True(t, ack.Accepted)
			assert.Equal(t, submit.StatusAccepted, ack.Status)
			require.Len(t, echo, 1)
			assert.Equal(t, event.TypeRequestSubmit, echo[0].Type)
		}
	}
	assertWellFormed(t, evs)
	assert.Equal(t, []string{
		event.TypeRequestQuery, event.TypeChatStart, event.TypeRunStart,
		event.TypeToolStart, event.TypeToolArgs, event.TypeToolEnd, event.TypeRequestSubmit, event.TypeToolResult,
		event.TypeContentStart, event.TypeContentDelta, event.TypeContentEnd,
		event.TypeRunComplete,
	}, types(evs))
	assert.Equal(t, "frontend", evs[3].String("toolType"))
	assert.Equal(t, `{"approved":true}`, evs[7].String("result"))
	assert.False(t, r.IsActive("run_fe"))
}

func TestRun_ModelBudgetExceeded(t *testing.T) {
	call := model.ToolCall{ID: "", Name: "add", Arguments: `{"a":1,"b":1}`}
	m := &scriptModel{steps: []scriptStep{toolStep(call), toolStep(call)}}
	tools, err := tool.NewRegistry(addTool())
	require.NoError(t, err)
	b := budget.New(budget.Spec{Model: budget.Scope{MaxCalls: 1}})
	r, _ := newTestRunner(t, m, tools, b)

	ch, err := r.Run(context.Background(), &request.Query{ChatID: "c1", Message: "loop"})
	require.NoError(t, err)
	evs := drain(t, ch)
	assertWellFormed(t, evs)
	last := evs[len(evs)-1]
	require.Equal(t, event.TypeRunError, last.Type)
	errPayload, ok := last.Get("error")
	require.True(t, ok)
	raw, err := last.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "model.maxCalls=1")
	assert.NotNil(t, errPayload)
	assert.Equal(t, 1, m.calls())
}

func TestRun_ModelRetriedBeforeFirstDelta(t *testing.T) {
	m := &scriptModel{steps: []scriptStep{{err: errors.New("connection reset")}, textStep("ok")}}
	b := budget.New(budget.Spec{Model: budget.Scope{RetryCount: 1}})
	r, _ := newTestRunner(t, m, nil, b)

	ch, err := r.Run(context.Background(), &request.Query{ChatID: "c1", Message: "hi"})
	require.NoError(t, err)
	evs := drain(t, ch)
	assertWellFormed(t, evs)
	assert.Equal(t, event.TypeRunComplete, evs[len(evs)-1].Type)
	assert.Equal(t, 2, m.calls())
}

func TestRun_ModelErrorAfterDeltaIsNotRetried(t *testing.T) {
	m := &scriptModel{steps: []scriptStep{
		{responses: []*model.Response{
			{Delta: stream.Delta{Content: "partial"}},
			{Done: true, Error: &model.ResponseError{Type: model.ErrorTypeStreamError, Message: "eof"}},
		}},
		textStep("never"),
	}}
	b := budget.New(budget.Spec{Model: budget.Scope{RetryCount: 3}})
	r, _ := newTestRunner(t, m, nil, b)

	ch, err := r.Run(context.Background(), &request.Query{ChatID: "c1", Message: "hi"})
	require.NoError(t, err)
	evs := drain(t, ch)
	assertWellFormed(t, evs)
	assert.Equal(t, []string{
		event.TypeRequestQuery, event.TypeChatStart, event.TypeRunStart,
		event.TypeContentStart, event.TypeContentDelta, event.TypeContentEnd,
		event.TypeRunError,
	}, types(evs))
	assert.Equal(t, 1, m.calls())
}

func TestRun_ModelTimeout(t *testing.T) {
	m := &scriptModel{steps: []scriptStep{{block: true}}}
	b := budget.New(budget.Spec{Model: budget.Scope{TimeoutMs: 50}})
	r, _ := newTestRunner(t, m, nil, b)

	start := time.Now()
	ch, err := r.Run(context.Background(), &request.Query{ChatID: "c1", Message: "hi"})
	require.NoError(t, err)
	evs := drain(t, ch)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assertWellFormed(t, evs)
	raw, err := evs[len(evs)-1].MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "timed out")
}

func TestRun_ProtocolViolationEndsRun(t *testing.T) {
	m := &scriptModel{steps: []scriptStep{{responses: []*model.Response{
		{Delta: stream.Delta{TaskComplete: &stream.TaskComplete{TaskID: "ghost"}}},
		{Done: true},
	}}}}
	r, _ := newTestRunner(t, m, nil, budget.Default())

	ch, err := r.Run(context.Background(), &request.Query{ChatID: "c1", Message: "hi"})
	require.NoError(t, err)
	evs := drain(t, ch)
	assertWellFormed(t, evs)
	assert.Equal(t, event.TypeRunError, evs[len(evs)-1].Type)
}

func TestRun_SynchronousRejections(t *testing.T) {
	m := &scriptModel{steps: []scriptStep{{block: true}}}
	r, _ := newTestRunner(t, m, nil, budget.Default())

	_, err := r.Run(context.Background(), &request.Query{ChatID: "c1"})
	assert.ErrorIs(t, err, request.ErrInvalidRequest)

	_, err = r.Run(context.Background(), &request.Query{ChatID: "c1", Message: "hi", AgentKey: "nobody"})
	assert.ErrorIs(t, err, ErrUnknownAgent)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Run(ctx, &request.Query{ChatID: "c1", RunID: "run_dup", Message: "hi"})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), &request.Query{ChatID: "c1", RunID: "run_dup", Message: "again"})
	assert.ErrorIs(t, err, ErrRunInProgress)

	cancel()
	for range ch {
	}
	assert.False(t, r.IsActive("run_dup"))
}

func TestRun_ChatStartOncePerChat(t *testing.T) {
	m := &scriptModel{steps: []scriptStep{textStep("a"), textStep("b")}}
	r, _ := newTestRunner(t, m, nil, budget.Default())

	first := drain(t, mustRun(t, r, &request.Query{ChatID: "c1", Message: "one"}))
	second := drain(t, mustRun(t, r, &request.Query{ChatID: "c1", Message: "two"}))
	assert.Contains(t, types(first), event.TypeChatStart)
	assert.NotContains(t, types(second), event.TypeChatStart)
	assertWellFormed(t, second)
}

func TestSubmit(t *testing.T) {
	m := &scriptModel{}
	r, _ := newTestRunner(t, m, nil, budget.Default())

	ack, echo, err := r.Submit(&request.Submit{ChatID: "c1", RunID: "run_x", ToolID: "t1", Payload: "yes"})
	require.NoError(t, err)
	assert.False(t, ack.Accepted)
	assert.Equal(t, submit.StatusNoPendingWaiter, ack.Status)
	require.Len(t, echo, 1)
	assert.Equal(t, "run_x", echo[0].String("runId"))

	_, _, err = r.Submit(&request.Submit{ChatID: "c1", RunID: "run_x"})
	assert.ErrorIs(t, err, request.ErrInvalidRequest)
}

func TestNew_Validation(t *testing.T) {
	coord := submit.New()
	_, err := New(coord)
	assert.Error(t, err)
	_, err = New(coord, WithAgent(&Agent{Key: "a"}))
	assert.Error(t, err)
	m := &scriptModel{}
	_, err = New(coord, WithAgent(&Agent{Key: "a", Model: m}), WithAgent(&Agent{Key: "a", Model: m}))
	assert.Error(t, err)
	_, err = New(coord, WithAgent(&Agent{Key: "a", Model: m}), WithDefaultAgent("b"))
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func mustRun(t *testing.T, r *Runner, q *request.Query) <-chan *event.Event {
	t.Helper()
	ch, err := r.Run(context.Background(), q)
	require.NoError(t, err)
	return ch
}

func TestUpload(t *testing.T) {
	r, _ := newTestRunner(t, &scriptModel{}, nil, budget.Default())
	evs, err := r.Upload(&request.Upload{ChatID: "c1", UploadType: "file", Name: "a.pdf", SizeBytes: 10})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, event.TypeRequestUpload, evs[0].Type)

	_, err = r.Upload(&request.Upload{ChatID: "c1"})
	assert.ErrorIs(t, err, request.ErrInvalidRequest)
}
