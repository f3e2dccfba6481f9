//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package stream

// ToolCall is one tool or action call fragment inside a Delta.
type ToolCall struct {
	ID   string
	Name string
	Type string
	// Arguments is a fragment of the JSON arguments, possibly empty.
	Arguments  string
	ChunkIndex *int
	// Action places the call in the action id namespace.
	Action bool
}

// CallEnd closes a tool or action call.
type CallEnd struct {
	ID     string
	Action bool
}

// CallResult carries the result of a tool or action call.
type CallResult struct {
	ID     string
	Result any
	Action bool
}

// Delta is the result of one runtime step: model output fragments, tool
// activity and lifecycle changes. It maps onto zero or more Inputs.
type Delta struct {
	Plan      *PlanUpdate
	TaskStart *TaskStart

	ReasoningID string
	Reasoning   string
	ContentID   string
	Content     string
	// TaskID scopes reasoning and content to a task.
	TaskID string

	ToolCalls   []ToolCall
	ToolEnds    []CallEnd
	ToolResults []CallResult

	RequestSubmit *RequestSubmit

	TaskComplete *TaskComplete
	TaskCancel   *TaskCancel
	TaskFail     *TaskFail

	// FinishReason is the model's stop reason. It is read by the orchestrator
	// and never mapped to an input.
	FinishReason string
}

// IsEmpty reports whether the delta maps to no input.
func (d Delta) IsEmpty() bool {
	return d.Plan == nil && d.TaskStart == nil &&
		d.Reasoning == "" && d.Content == "" &&
		len(d.ToolCalls) == 0 && len(d.ToolEnds) == 0 && len(d.ToolResults) == 0 &&
		d.RequestSubmit == nil &&
		d.TaskComplete == nil && d.TaskCancel == nil && d.TaskFail == nil
}

// Inputs maps the delta onto assembler inputs in a fixed order: plan, task
// start, reasoning, content, call fragments, call ends, call results, submit
// request, task lifecycle. Every produced input is validated.
func (d Delta) Inputs() ([]Input, error) {
	var out []Input
	if d.Plan != nil {
		out = append(out, *d.Plan)
	}
	if d.TaskStart != nil {
		out = append(out, *d.TaskStart)
	}
	if d.Reasoning != "" {
		out = append(out, ReasoningDelta{ReasoningID: d.ReasoningID, Delta: d.Reasoning, TaskID: d.TaskID})
	}
	if d.Content != "" {
		out = append(out, ContentDelta{ContentID: d.ContentID, Delta: d.Content, TaskID: d.TaskID})
	}
	for _, c := range d.ToolCalls {
		if c.Action {
			out = append(out, ActionArgs{
				ActionID: c.ID, ActionName: c.Name, ActionType: c.Type,
				Delta: c.Arguments, ChunkIndex: c.ChunkIndex,
			})
			continue
		}
		out = append(out, ToolArgs{
			ToolID: c.ID, ToolName: c.Name, ToolType: c.Type,
			Delta: c.Arguments, ChunkIndex: c.ChunkIndex,
		})
	}
	for _, e := range d.ToolEnds {
		if e.Action {
			out = append(out, ActionEnd{ActionID: e.ID})
			continue
		}
		out = append(out, ToolEnd{ToolID: e.ID})
	}
	for _, r := range d.ToolResults {
		if r.Action {
			out = append(out, ActionResult{ActionID: r.ID, Result: r.Result})
			continue
		}
		out = append(out, ToolResult{ToolID: r.ID, Result: r.Result})
	}
	if d.RequestSubmit != nil {
		out = append(out, *d.RequestSubmit)
	}
	if d.TaskComplete != nil {
		out = append(out, *d.TaskComplete)
	}
	if d.TaskCancel != nil {
		out = append(out, *d.TaskCancel)
	}
	if d.TaskFail != nil {
		out = append(out, *d.TaskFail)
	}
	for _, in := range out {
		if err := in.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
