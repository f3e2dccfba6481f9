//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package assembler

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-gateway/event"
	"trpc.group/trpc-go/trpc-agent-gateway/request"
	"trpc.group/trpc-go/trpc-agent-gateway/stream"
)

var fixedNow = time.UnixMilli(1700000000000)

func newTestAssembler() *Assembler {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func types(evs []*event.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func begin(t *testing.T, a *Assembler, q *request.Query) []*event.Event {
	t.Helper()
	evs, err := a.Begin(q)
	require.NoError(t, err)
	return evs
}

func consume(t *testing.T, a *Assembler, in stream.Input) []*event.Event {
	t.Helper()
	evs, err := a.Consume(in)
	require.NoError(t, err)
	return evs
}

func TestConsume_ReasoningThenContentThenComplete(t *testing.T) {
	a := newTestAssembler()
	boot := begin(t, a, &request.Query{ChatID: "c1", Message: "hi"})
	assert.Equal(t, []string{event.TypeRequestQuery, event.TypeChatStart, event.TypeRunStart}, types(boot))
	assert.Regexp(t, `^run_[0-9a-f]{12}$`, a.RunID())
	assert.Equal(t, a.RunID(), boot[2].String("runId"))
	assert.Equal(t, "hi", boot[1].String("chatName"))

	var evs []*event.Event
	evs = append(evs, consume(t, a, stream.ReasoningDelta{ReasoningID: "r1", Delta: "think"})...)
	evs = append(evs, consume(t, a, stream.ContentDelta{ContentID: "c1", Delta: "hi back"})...)
	evs = append(evs, consume(t, a, stream.NewRunComplete("stop"))...)

	assert.Equal(t, []string{
		event.TypeReasoningStart, event.TypeReasoningDelta, event.TypeReasoningEnd,
		event.TypeContentStart, event.TypeContentDelta, event.TypeContentEnd,
		event.TypeRunComplete,
	}, types(evs))
	assert.Equal(t, "stop", evs[6].String("finishReason"))
	for i, ev := range append(boot, evs...) {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, fixedNow.UnixMilli(), ev.Timestamp)
	}
	assert.True(t, a.Terminated())
}

func TestConsume_ToolArgsChunksThenResult(t *testing.T) {
	a := newTestAssembler()
	begin(t, a, &request.Query{ChatID: "c1", Message: "hi"})

	var evs []*event.Event
	evs = append(evs, consume(t, a, stream.ToolArgs{ToolID: "t1", ToolName: "search", Delta: `{"a":1`})...)
	evs = append(evs, consume(t, a, stream.ToolArgs{ToolID: "t1", Delta: "}"})...)
	evs = append(evs, consume(t, a, stream.ToolResult{ToolID: "t1", Result: "ok"})...)

	assert.Equal(t, []string{
		event.TypeToolStart, event.TypeToolArgs, event.TypeToolArgs, event.TypeToolEnd, event.TypeToolResult,
	}, types(evs))
	idx0, _ := evs[1].Get("chunkIndex")
	idx1, _ := evs[2].Get("chunkIndex")
	assert.Equal(t, 0, idx0)
	assert.Equal(t, 1, idx1)
	assert.Equal(t, "search", evs[0].String("toolName"))
	assert.Equal(t, "ok", evs[4].String("result"))
}

func TestBegin_ChatStartOncePerChat(t *testing.T) {
	a := newTestAssembler()
	first := begin(t, a, &request.Query{ChatID: "c1", Message: "hi"})
	assert.Contains(t, types(first), event.TypeChatStart)
	a.Complete()

	second := begin(t, a, &request.Query{ChatID: "c1", Message: "again"})
	assert.Equal(t, []string{event.TypeRequestQuery, event.TypeRunStart}, types(second))
	assert.Equal(t, int64(1), second[0].Seq, "seq restarts per run")
	assert.False(t, a.Terminated())

	other := begin(t, a, &request.Query{ChatID: "c2", Message: "x"})
	assert.Contains(t, types(other), event.TypeChatStart)
}

func TestBegin_SuppressedChatStartAndVisibleParams(t *testing.T) {
	a := newTestAssembler()
	evs := begin(t, a, &request.Query{
		ChatID:  "c1",
		Message: "hi",
		RunID:   "run_given",
		Params:  map[string]any{request.ParamEmitChatStart: false, "lang": "en"},
	})
	assert.Equal(t, []string{event.TypeRequestQuery, event.TypeRunStart}, types(evs))
	assert.Equal(t, "run_given", a.RunID())

	params, ok := evs[0].Get("params")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"lang": "en"}, params)

	// Suppression does not count as a greeting.
	evs = begin(t, a, &request.Query{ChatID: "c1", Message: "hi"})
	assert.Contains(t, types(evs), event.TypeChatStart)
}

func TestBegin_InvalidRequest(t *testing.T) {
	a := newTestAssembler()
	_, err := a.Begin(&request.Query{ChatID: "c1"})
	assert.ErrorIs(t, err, request.ErrInvalidRequest)
}

func TestBegin_Upload(t *testing.T) {
	a := newTestAssembler()
	evs, err := a.Begin(&request.Upload{ChatID: "c1", UploadType: "file", Name: "a.pdf", SizeBytes: 12, MimeType: "application/pdf"})
	require.NoError(t, err)
	require.Equal(t, []string{event.TypeRequestUpload}, types(evs))

	bts, err := json.Marshal(evs[0])
	require.NoError(t, err)
	assert.Contains(t, string(bts), `"upload":{"type":"file","name":"a.pdf","sizeBytes":12,"mimeType":"application/pdf"}`)

	assert.False(t, a.HasRunContext())
	assert.Nil(t, a.Complete())
	assert.Nil(t, a.Fail(errors.New("x")))
	_, err = a.Consume(stream.ContentDelta{ContentID: "c", Delta: "x"})
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = a.Consume(stream.PlanUpdate{PlanID: "p1", Plan: "p"})
	assert.NoError(t, err, "plan only needs chat context")
}

func TestBegin_Submit(t *testing.T) {
	a := newTestAssembler()
	evs, err := a.Begin(&request.Submit{ChatID: "c1", RunID: "run_1", ToolID: "t1", Payload: map[string]any{"ok": true}, ViewID: "v"})
	require.NoError(t, err)
	assert.Equal(t, []string{event.TypeRequestSubmit}, types(evs))
	assert.True(t, a.HasRunContext())
	assert.Equal(t, "run_1", a.RunID())

	_, err = a.Consume(stream.TaskStart{TaskID: "k1"})
	assert.ErrorIs(t, err, ErrProtocol, "no plan yet")
}

func TestTextBlocks_AtMostOneOpen(t *testing.T) {
	a := newTestAssembler()
	begin(t, a, &request.Query{ChatID: "c1", Message: "hi"})

	evs := consume(t, a, stream.ContentDelta{ContentID: "x1", Delta: "a"})
	evs = append(evs, consume(t, a, stream.ContentDelta{ContentID: "x1", Delta: "b"})...)
	evs = append(evs, consume(t, a, stream.ContentDelta{ContentID: "x2", Delta: "c"})...)
	evs = append(evs, consume(t, a, stream.ReasoningDelta{ReasoningID: "r1", Delta: "d"})...)
	evs = append(evs, consume(t, a, stream.ToolArgs{ToolID: "t1"})...)

	assert.Equal(t, []string{
		event.TypeContentStart, event.TypeContentDelta, event.TypeContentDelta,
		event.TypeContentEnd, event.TypeContentStart, event.TypeContentDelta,
		event.TypeContentEnd, event.TypeReasoningStart, event.TypeReasoningDelta,
		event.TypeReasoningEnd, event.TypeToolStart,
	}, types(evs))
}

func TestTasks_Preconditions(t *testing.T) {
	a := newTestAssembler()
	begin(t, a, &request.Query{ChatID: "c1", Message: "hi"})

	_, err := a.Consume(stream.TaskStart{TaskID: "k1"})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, stream.KindTaskStart, perr.Input)

	consume(t, a, stream.PlanUpdate{PlanID: "p1", Plan: []string{"one"}})
	_, err = a.Consume(stream.PlanUpdate{PlanID: "p2", Plan: "other"})
	assert.ErrorIs(t, err, ErrProtocol)
	_, err = a.Consume(stream.PlanUpdate{ChatID: "nope", PlanID: "p1", Plan: "x"})
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = a.Consume(stream.TaskStart{RunID: "run_other", TaskID: "k1"})
	assert.ErrorIs(t, err, ErrProtocol)

	evs := consume(t, a, stream.TaskStart{TaskID: "k1", TaskName: "first"})
	assert.Equal(t, []string{event.TypeTaskStart}, types(evs))
	assert.Equal(t, "k1", a.ActiveTaskID())

	_, err = a.Consume(stream.TaskStart{TaskID: "k2"})
	assert.ErrorIs(t, err, ErrProtocol, "one active task at a time")
	_, err = a.Consume(stream.TaskComplete{TaskID: "k2"})
	assert.ErrorIs(t, err, ErrProtocol)
	_, err = a.Consume(stream.ContentDelta{ContentID: "c", Delta: "x", TaskID: "k2"})
	assert.ErrorIs(t, err, ErrProtocol)

	evs = consume(t, a, stream.ContentDelta{ContentID: "c", Delta: "x", TaskID: "k1"})
	assert.Equal(t, "k1", evs[0].String("taskId"))
	consume(t, a, stream.ToolArgs{ToolID: "t1", ToolName: "n"})
	evs = consume(t, a, stream.TaskCancel{TaskID: "k1", Reason: "user"})
	assert.Equal(t, []string{event.TypeToolEnd, event.TypeTaskCancel}, types(evs))
	assert.Equal(t, "user", evs[1].String("reason"))

	consume(t, a, stream.TaskStart{TaskID: "k2"})
	evs = consume(t, a, stream.TaskFail{TaskID: "k2", Error: "boom"})
	assert.Equal(t, []string{event.TypeTaskFail}, types(evs))
	_, err = a.Consume(stream.TaskComplete{TaskID: "k2"})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestCalls_Lifecycle(t *testing.T) {
	a := newTestAssembler()
	begin(t, a, &request.Query{ChatID: "c1", Message: "hi"})

	_, err := a.Consume(stream.ToolResult{ToolID: "ghost", Result: "x"})
	assert.ErrorIs(t, err, ErrProtocol)
	_, err = a.Consume(stream.ToolEnd{ToolID: "ghost"})
	assert.ErrorIs(t, err, ErrProtocol)

	seven := 7
	evs := consume(t, a, stream.ToolArgs{ToolID: "t1", ToolName: "n", ToolType: "frontend", Delta: "{", ChunkIndex: &seven})
	idx, _ := evs[1].Get("chunkIndex")
	assert.Equal(t, 7, idx)
	assert.Equal(t, "frontend", evs[0].String("toolType"))
	evs = consume(t, a, stream.ToolArgs{ToolID: "t1", Delta: "}"})
	idx, _ = evs[0].Get("chunkIndex")
	assert.Equal(t, 8, idx)

	evs = consume(t, a, stream.ToolEnd{ToolID: "t1"})
	assert.Equal(t, []string{event.TypeToolEnd}, types(evs))
	_, err = a.Consume(stream.ToolArgs{ToolID: "t1", Delta: "x"})
	assert.ErrorIs(t, err, ErrProtocol, "args after end")
	_, err = a.Consume(stream.ToolEnd{ToolID: "t1"})
	assert.ErrorIs(t, err, ErrProtocol)

	evs = consume(t, a, stream.ToolResult{ToolID: "t1", Result: `{"ok":true}`})
	assert.Equal(t, []string{event.TypeToolResult}, types(evs))
	_, err = a.Consume(stream.ToolResult{ToolID: "t1", Result: "again"})
	assert.ErrorIs(t, err, ErrProtocol)

	// Actions use their own namespace.
	_, err = a.Consume(stream.ActionResult{ActionID: "t1", Result: "x"})
	assert.ErrorIs(t, err, ErrProtocol)
	evs = consume(t, a, stream.ActionArgs{ActionID: "t1", ActionName: "open", Delta: "{}"})
	assert.Equal(t, []string{event.TypeActionStart, event.TypeActionArgs}, types(evs))
	assert.Equal(t, "open", evs[0].String("actionName"))
	evs = consume(t, a, stream.ActionResult{ActionID: "t1", Result: "done"})
	assert.Equal(t, []string{event.TypeActionEnd, event.TypeActionResult}, types(evs))
}

func TestCalls_NameLearnedAfterStart(t *testing.T) {
	a := newTestAssembler()
	begin(t, a, &request.Query{ChatID: "c1", Message: "hi"})

	evs := consume(t, a, stream.ToolArgs{ToolID: "t1", Delta: `{"q":`})
	evs = append(evs, consume(t, a, stream.ToolArgs{ToolID: "t1", ToolName: "search", Delta: `"go"}`})...)
	evs = append(evs, consume(t, a, stream.ToolArgs{ToolID: "t1", ToolName: "search", Delta: " "})...)
	evs = append(evs, consume(t, a, stream.ToolEnd{ToolID: "t1"})...)
	require.Equal(t, []string{
		event.TypeToolStart, event.TypeToolArgs, event.TypeToolArgs, event.TypeToolArgs, event.TypeToolEnd,
	}, types(evs))
	assert.Empty(t, evs[0].String("toolName"))
	assert.Empty(t, evs[1].String("toolName"))
	assert.Equal(t, "search", evs[2].String("toolName"))
	assert.Empty(t, evs[3].String("toolName"), "the name is reported once")
	assert.Empty(t, evs[4].String("toolName"))

	// A name arriving on an empty chunk is reported by tool.end.
	evs = consume(t, a, stream.ToolArgs{ToolID: "t2"})
	evs = append(evs, consume(t, a, stream.ToolArgs{ToolID: "t2", ToolName: "lookup"})...)
	evs = append(evs, consume(t, a, stream.ToolEnd{ToolID: "t2"})...)
	require.Equal(t, []string{event.TypeToolStart, event.TypeToolEnd}, types(evs))
	assert.Equal(t, "lookup", evs[1].String("toolName"))
}

func TestRequestSubmit_MustMatchRun(t *testing.T) {
	a := newTestAssembler()
	begin(t, a, &request.Query{ChatID: "c1", Message: "hi", RunID: "run_1"})

	_, err := a.Consume(stream.RequestSubmit{ChatID: "c2", RunID: "run_1", ToolID: "t1"})
	assert.ErrorIs(t, err, ErrProtocol)
	_, err = a.Consume(stream.RequestSubmit{ChatID: "c1", RunID: "run_2", ToolID: "t1"})
	assert.ErrorIs(t, err, ErrProtocol)

	evs := consume(t, a, stream.RequestSubmit{ChatID: "c1", RunID: "run_1", ToolID: "t1", ToolName: "confirm", Params: map[string]any{"q": 1}})
	require.Len(t, evs, 1)
	assert.Equal(t, event.TypeRequestSubmit, evs[0].Type)
	assert.Equal(t, "confirm", evs[0].String("toolName"))
}

func TestRunComplete_ClosesEverythingInOrder(t *testing.T) {
	a := newTestAssembler()
	begin(t, a, &request.Query{ChatID: "c1", Message: "hi"})
	consume(t, a, stream.PlanUpdate{PlanID: "p1", Plan: "x"})
	consume(t, a, stream.TaskStart{TaskID: "k1"})
	consume(t, a, stream.ActionArgs{ActionID: "a1"})
	consume(t, a, stream.ToolArgs{ToolID: "t1"})
	consume(t, a, stream.ToolArgs{ToolID: "t2"})
	consume(t, a, stream.ReasoningDelta{ReasoningID: "r1", Delta: "x"})

	evs := a.Complete()
	assert.Equal(t, []string{
		event.TypeReasoningEnd, event.TypeToolEnd, event.TypeToolEnd, event.TypeActionEnd,
		event.TypeTaskComplete, event.TypeRunComplete,
	}, types(evs))
	assert.Equal(t, "t1", evs[1].String("toolId"))
	assert.Equal(t, "t2", evs[2].String("toolId"))
	assert.Equal(t, DefaultFinishReason, evs[5].String("finishReason"))

	assert.Nil(t, a.Complete(), "complete is idempotent")
	assert.Nil(t, a.Fail(errors.New("late")))
	evs, err := a.Consume(stream.ContentDelta{ContentID: "c", Delta: "late"})
	assert.NoError(t, err)
	assert.Empty(t, evs, "inputs after termination are dropped")
}

func TestFail_EmitsRunError(t *testing.T) {
	a := newTestAssembler()
	begin(t, a, &request.Query{ChatID: "c1", Message: "hi", RunID: "run_1"})
	consume(t, a, stream.PlanUpdate{PlanID: "p1", Plan: "x"})
	consume(t, a, stream.TaskStart{TaskID: "k1"})
	consume(t, a, stream.ContentDelta{ContentID: "c", Delta: "x"})

	evs := a.Fail(errors.New("budget exceeded: tool.maxCalls=20"))
	assert.Equal(t, []string{event.TypeContentEnd, event.TypeTaskFail, event.TypeRunError}, types(evs))
	assert.Equal(t, "budget exceeded: tool.maxCalls=20", evs[1].String("error"))

	bts, err := json.Marshal(evs[2])
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":10,"type":"run.error","timestamp":1700000000000,"runId":"run_1",
		"error":{"code":"RUN_ERROR","message":"budget exceeded: tool.maxCalls=20","retriable":false}}`, string(bts))
	assert.True(t, a.Terminated())
}

func TestConsume_InvalidInputLeavesStateUntouched(t *testing.T) {
	a := newTestAssembler()
	begin(t, a, &request.Query{ChatID: "c1", Message: "hi"})
	seq := a.Seq()

	_, err := a.Consume(stream.ContentDelta{ContentID: "", Delta: "x"})
	assert.ErrorIs(t, err, stream.ErrInvalidInput)
	_, err = a.Consume(nil)
	assert.ErrorIs(t, err, stream.ErrInvalidInput)
	assert.Equal(t, seq, a.Seq())
}

func TestBegin_SharedGreeter(t *testing.T) {
	g, err := NewSyncGreeter(0)
	require.NoError(t, err)
	a1 := New(WithGreeter(g))
	a2 := New(WithGreeter(g))

	evs := begin(t, a1, &request.Query{ChatID: "c1", Message: "hi"})
	assert.Contains(t, types(evs), event.TypeChatStart)
	evs = begin(t, a2, &request.Query{ChatID: "c1", Message: "again"})
	assert.NotContains(t, types(evs), event.TypeChatStart)
	evs = begin(t, a2, &request.Query{ChatID: "c2", Message: "new chat"})
	assert.Contains(t, types(evs), event.TypeChatStart)
}

func TestSyncGreeter_Bounded(t *testing.T) {
	g, err := NewSyncGreeter(2)
	require.NoError(t, err)
	assert.True(t, g.Greet("c1"))
	assert.True(t, g.Greet("c2"))
	assert.False(t, g.Greet("c1"))
	assert.True(t, g.Greet("c3"), "c2 is the least recently greeted and is evicted")
	assert.Equal(t, 2, g.Len())
	assert.True(t, g.Greet("c2"))
	assert.False(t, g.Greet("c3"))
}
