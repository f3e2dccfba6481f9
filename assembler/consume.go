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
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-gateway/event"
	"trpc.group/trpc-go/trpc-agent-gateway/log"
	"trpc.group/trpc-go/trpc-agent-gateway/stream"
)

// Consume applies one input and returns the events it produced. Invalid
// inputs fail validation; out-of-order inputs return a *ProtocolError. In both
// cases no event is emitted and the state is unchanged. Inputs arriving after
// termination are dropped.
func (a *Assembler) Consume(in stream.Input) ([]*event.Event, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil input", stream.ErrInvalidInput)
	}
	if a.run.terminated {
		log.Warnf("assembler: run %s terminated, dropping %s", a.run.runID, in.Kind())
		return nil, nil
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, ok := in.(stream.PlanUpdate); ok {
		if !a.run.hasChat {
			return nil, violation(in, "no chat context")
		}
	} else if !a.run.hasRun {
		return nil, violation(in, "no run context")
	}

	switch v := in.(type) {
	case stream.PlanUpdate:
		return a.planUpdate(v)
	case stream.TaskStart:
		return a.taskStart(v)
	case stream.TaskComplete:
		return a.taskEnd(v, v.TaskID, event.TypeTaskComplete, nil)
	case stream.TaskCancel:
		return a.taskEnd(v, v.TaskID, event.TypeTaskCancel, func(p *event.Payload) {
			p.SetNonEmpty("reason", v.Reason)
		})
	case stream.TaskFail:
		return a.taskEnd(v, v.TaskID, event.TypeTaskFail, func(p *event.Payload) {
			p.SetNonEmpty("error", v.Error)
		})
	case stream.ReasoningDelta:
		return a.reasoning(v)
	case stream.ContentDelta:
		return a.content(v)
	case stream.ToolArgs:
		return a.callArgs(in, a.run.tools, v.ToolID, v.ToolName, v.ToolType, v.Delta, v.ChunkIndex)
	case stream.ToolEnd:
		return a.callEnd(in, a.run.tools, v.ToolID)
	case stream.ToolResult:
		return a.callResult(in, a.run.tools, v.ToolID, v.Result)
	case stream.ActionArgs:
		return a.callArgs(in, a.run.actions, v.ActionID, v.ActionName, v.ActionType, v.Delta, v.ChunkIndex)
	case stream.ActionEnd:
		return a.callEnd(in, a.run.actions, v.ActionID)
	case stream.ActionResult:
		return a.callResult(in, a.run.actions, v.ActionID, v.Result)
	case stream.RequestSubmit:
		return a.requestSubmit(v)
	case stream.RunComplete:
		return a.complete(v.FinishReason), nil
	default:
		return nil, violation(in, "unsupported input %T", in)
	}
}

func (a *Assembler) planUpdate(v stream.PlanUpdate) ([]*event.Event, error) {
	if v.ChatID != "" && v.ChatID != a.run.chatID {
		return nil, violation(v, "chatId %q does not match %q", v.ChatID, a.run.chatID)
	}
	if a.run.planID != "" && v.PlanID != a.run.planID {
		return nil, violation(v, "planId %q does not match %q", v.PlanID, a.run.planID)
	}
	a.run.planID = v.PlanID
	return a.emit(nil, event.TypePlanUpdate, event.NewPayload().
		Set("planId", v.PlanID).
		Set("chatId", a.run.chatID).
		Set("plan", v.Plan)), nil
}

func (a *Assembler) taskStart(v stream.TaskStart) ([]*event.Event, error) {
	switch {
	case a.run.planID == "":
		return nil, violation(v, "task %s started before any plan", v.TaskID)
	case v.RunID != "" && v.RunID != a.run.runID:
		return nil, violation(v, "runId %q does not match %q", v.RunID, a.run.runID)
	case a.run.activeTaskID != "":
		return nil, violation(v, "task %s is still active", a.run.activeTaskID)
	}
	out := a.closeText(nil)
	a.run.activeTaskID = v.TaskID
	return a.emit(out, event.TypeTaskStart, event.NewPayload().
		Set("taskId", v.TaskID).
		Set("runId", a.run.runID).
		SetNonEmpty("taskName", v.TaskName).
		SetNonEmpty("description", v.Description)), nil
}

func (a *Assembler) taskEnd(in stream.Input, taskID, typ string, extra func(*event.Payload)) ([]*event.Event, error) {
	if a.run.activeTaskID == "" {
		return nil, violation(in, "no active task")
	}
	if taskID != a.run.activeTaskID {
		return nil, violation(in, "task %s is not the active task %s", taskID, a.run.activeTaskID)
	}
	out := a.closeAll(nil)
	p := event.NewPayload().Set("taskId", taskID).Set("runId", a.run.runID)
	if extra != nil {
		extra(p)
	}
	a.run.activeTaskID = ""
	return a.emit(out, typ, p), nil
}

func (a *Assembler) checkTask(in stream.Input, taskID string) error {
	if taskID != "" && taskID != a.run.activeTaskID {
		return violation(in, "task %s is not the active task %q", taskID, a.run.activeTaskID)
	}
	return nil
}

func (a *Assembler) reasoning(v stream.ReasoningDelta) ([]*event.Event, error) {
	if err := a.checkTask(v, v.TaskID); err != nil {
		return nil, err
	}
	out := a.closeContent(nil)
	if a.run.activeReasoningID != v.ReasoningID {
		out = a.closeReasoning(out)
		a.run.activeReasoningID = v.ReasoningID
		out = a.emit(out, event.TypeReasoningStart, a.textPayload("reasoningId", v.ReasoningID))
	}
	return a.emit(out, event.TypeReasoningDelta, event.NewPayload().
		Set("reasoningId", v.ReasoningID).
		Set("delta", v.Delta)), nil
}

func (a *Assembler) content(v stream.ContentDelta) ([]*event.Event, error) {
	if err := a.checkTask(v, v.TaskID); err != nil {
		return nil, err
	}
	out := a.closeReasoning(nil)
	if a.run.activeContentID != v.ContentID {
		out = a.closeContent(out)
		a.run.activeContentID = v.ContentID
		out = a.emit(out, event.TypeContentStart, a.textPayload("contentId", v.ContentID))
	}
	return a.emit(out, event.TypeContentDelta, event.NewPayload().
		Set("contentId", v.ContentID).
		Set("delta", v.Delta)), nil
}

func (a *Assembler) callArgs(in stream.Input, set *callSet, id, name, typ, delta string, chunk *int) ([]*event.Event, error) {
	known := set.isKnown(id)
	if known && !set.isOpen(id) {
		return nil, violation(in, "%s %s already ended", set.ns.idKey, id)
	}
	out := a.closeText(nil)
	set.learnName(id, strings.TrimSpace(name))
	if !known {
		set.start(id)
		out = a.emit(out, set.ns.start, event.NewPayload().
			Set(set.ns.idKey, id).
			Set("runId", a.run.runID).
			SetNonEmpty(set.ns.nameKey, set.takeName(id)).
			SetNonEmpty(set.ns.typeKey, typ).
			SetNonEmpty("taskId", a.run.activeTaskID))
	}
	if delta == "" {
		return out, nil
	}
	// A name learned after the start rides on the next args event.
	return a.emit(out, set.ns.args, event.NewPayload().
		Set(set.ns.idKey, id).
		SetNonEmpty(set.ns.nameKey, set.takeName(id)).
		Set("delta", delta).
		Set("chunkIndex", set.nextChunk(id, chunk))), nil
}

func (a *Assembler) callEnd(in stream.Input, set *callSet, id string) ([]*event.Event, error) {
	if !set.isOpen(id) {
		return nil, violation(in, "%s %s is not open", set.ns.idKey, id)
	}
	out := a.closeText(nil)
	set.close(id)
	return a.emit(out, set.ns.end, event.NewPayload().
		Set(set.ns.idKey, id).
		SetNonEmpty(set.ns.nameKey, set.takeName(id))), nil
}

func (a *Assembler) callResult(in stream.Input, set *callSet, id string, result any) ([]*event.Event, error) {
	if !set.isKnown(id) {
		return nil, violation(in, "unknown %s %s", set.ns.idKey, id)
	}
	if set.hasResult(id) {
		return nil, violation(in, "%s %s already has a result", set.ns.idKey, id)
	}
	out := a.closeText(nil)
	if set.isOpen(id) {
		set.close(id)
		out = a.emit(out, set.ns.end, event.NewPayload().Set(set.ns.idKey, id))
	}
	set.resulted[id] = struct{}{}
	return a.emit(out, set.ns.result, event.NewPayload().
		Set(set.ns.idKey, id).
		Set("result", result)), nil
}

func (a *Assembler) requestSubmit(v stream.RequestSubmit) ([]*event.Event, error) {
	if v.ChatID != a.run.chatID {
		return nil, violation(v, "chatId %q does not match %q", v.ChatID, a.run.chatID)
	}
	if v.RunID != a.run.runID {
		return nil, violation(v, "runId %q does not match %q", v.RunID, a.run.runID)
	}
	return a.emit(nil, event.TypeRequestSubmit, event.NewPayload().
		Set("chatId", v.ChatID).
		Set("runId", v.RunID).
		Set("toolId", v.ToolID).
		SetNonEmpty("toolName", v.ToolName).
		SetNonEmpty("viewId", v.ViewID).
		SetNonNil("params", v.Params)), nil
}
