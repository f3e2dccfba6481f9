//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package stream

// The constructors below build a variant and validate it in one step.

// NewPlanUpdate returns a validated PlanUpdate.
func NewPlanUpdate(chatID, planID string, plan any) (PlanUpdate, error) {
	in := PlanUpdate{ChatID: chatID, PlanID: planID, Plan: plan}
	return in, in.Validate()
}

// NewTaskStart returns a validated TaskStart.
func NewTaskStart(runID, taskID, taskName, description string) (TaskStart, error) {
	in := TaskStart{RunID: runID, TaskID: taskID, TaskName: taskName, Description: description}
	return in, in.Validate()
}

// NewTaskComplete returns a validated TaskComplete.
func NewTaskComplete(taskID string) (TaskComplete, error) {
	in := TaskComplete{TaskID: taskID}
	return in, in.Validate()
}

// NewTaskCancel returns a validated TaskCancel.
func NewTaskCancel(taskID, reason string) (TaskCancel, error) {
	in := TaskCancel{TaskID: taskID, Reason: reason}
	return in, in.Validate()
}

// NewTaskFail returns a validated TaskFail.
func NewTaskFail(taskID, errMsg string) (TaskFail, error) {
	in := TaskFail{TaskID: taskID, Error: errMsg}
	return in, in.Validate()
}

// NewReasoningDelta returns a validated ReasoningDelta.
func NewReasoningDelta(reasoningID, delta string) (ReasoningDelta, error) {
	in := ReasoningDelta{ReasoningID: reasoningID, Delta: delta}
	return in, in.Validate()
}

// NewContentDelta returns a validated ContentDelta.
func NewContentDelta(contentID, delta string) (ContentDelta, error) {
	in := ContentDelta{ContentID: contentID, Delta: delta}
	return in, in.Validate()
}

// NewToolArgs returns a validated ToolArgs with an auto-assigned chunk index.
func NewToolArgs(toolID, toolName, delta string) (ToolArgs, error) {
	in := ToolArgs{ToolID: toolID, ToolName: toolName, Delta: delta}
	return in, in.Validate()
}

// NewToolEnd returns a validated ToolEnd.
func NewToolEnd(toolID string) (ToolEnd, error) {
	in := ToolEnd{ToolID: toolID}
	return in, in.Validate()
}

// NewToolResult returns a validated ToolResult.
func NewToolResult(toolID string, result any) (ToolResult, error) {
	in := ToolResult{ToolID: toolID, Result: result}
	return in, in.Validate()
}

// NewActionArgs returns a validated ActionArgs.
func NewActionArgs(actionID, actionName, delta string) (ActionArgs, error) {
	in := ActionArgs{ActionID: actionID, ActionName: actionName, Delta: delta}
	return in, in.Validate()
}

// NewActionEnd returns a validated ActionEnd.
func NewActionEnd(actionID string) (ActionEnd, error) {
	in := ActionEnd{ActionID: actionID}
	return in, in.Validate()
}

// NewActionResult returns a validated ActionResult.
func NewActionResult(actionID string, result any) (ActionResult, error) {
	in := ActionResult{ActionID: actionID, Result: result}
	return in, in.Validate()
}

// NewRequestSubmit returns a validated RequestSubmit.
func NewRequestSubmit(chatID, runID, toolID, toolName string, params any) (RequestSubmit, error) {
	in := RequestSubmit{ChatID: chatID, RunID: runID, ToolID: toolID, ToolName: toolName, Params: params}
	return in, in.Validate()
}

// NewRunComplete returns a RunComplete.
func NewRunComplete(finishReason string) RunComplete {
	return RunComplete{FinishReason: finishReason}
}
