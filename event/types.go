//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

// Event types emitted by the run orchestration core.
const (
	TypeRequestQuery  = "request.query"
	TypeRequestUpload = "request.upload"
	TypeRequestSubmit = "request.submit"

	TypeChatStart = "chat.start"
	TypeRunStart  = "run.start"

	TypePlanUpdate = "plan.update"

	TypeTaskStart    = "task.start"
	TypeTaskComplete = "task.complete"
	TypeTaskCancel   = "task.cancel"
	TypeTaskFail     = "task.fail"

	TypeReasoningStart = "reasoning.start"
	TypeReasoningDelta = "reasoning.delta"
	TypeReasoningEnd   = "reasoning.end"

	TypeContentStart = "content.start"
	TypeContentDelta = "content.delta"
	TypeContentEnd   = "content.end"

	TypeToolStart  = "tool.start"
	TypeToolArgs   = "tool.args"
	TypeToolEnd    = "tool.end"
	TypeToolResult = "tool.result"

	TypeActionStart  = "action.start"
	TypeActionArgs   = "action.args"
	TypeActionEnd    = "action.end"
	TypeActionResult = "action.result"

	TypeRunComplete = "run.complete"
	TypeRunError    = "run.error"
)

// Types lists the full catalog in protocol order.
var Types = []string{
	TypeRequestQuery, TypeRequestUpload, TypeRequestSubmit,
	TypeChatStart, TypeRunStart, TypePlanUpdate,
	TypeTaskStart, TypeTaskComplete, TypeTaskCancel, TypeTaskFail,
	TypeReasoningStart, TypeReasoningDelta, TypeReasoningEnd,
	TypeContentStart, TypeContentDelta, TypeContentEnd,
	TypeToolStart, TypeToolArgs, TypeToolEnd, TypeToolResult,
	TypeActionStart, TypeActionArgs, TypeActionEnd, TypeActionResult,
	TypeRunComplete, TypeRunError,
}

// IsTerminal reports whether typ ends a run.
func IsTerminal(typ string) bool {
	return typ == TypeRunComplete || typ == TypeRunError
}
