//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package stream defines the semantic inputs a run feeds into the event
// assembler, and the per-step agent delta that maps onto them.
package stream

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput is returned when a required input field is blank or nil.
var ErrInvalidInput = errors.New("stream: invalid input")

// Kind names an input variant.
type Kind string

// Input kinds.
const (
	KindPlanUpdate    Kind = "PlanUpdate"
	KindTaskStart     Kind = "TaskStart"
	KindTaskComplete  Kind = "TaskComplete"
	KindTaskCancel    Kind = "TaskCancel"
	KindTaskFail      Kind = "TaskFail"
	KindReasoning     Kind = "ReasoningDelta"
	KindContent       Kind = "ContentDelta"
	KindToolArgs      Kind = "ToolArgs"
	KindToolEnd       Kind = "ToolEnd"
	KindToolResult    Kind = "ToolResult"
	KindActionArgs    Kind = "ActionArgs"
	KindActionEnd     Kind = "ActionEnd"
	KindActionResult  Kind = "ActionResult"
	KindRequestSubmit Kind = "RequestSubmit"
	KindRunComplete   Kind = "RunComplete"
)

// Input is one semantic event consumed by the assembler. The set of
// implementations is closed; switch on the concrete type to dispatch.
type Input interface {
	Kind() Kind
	// Validate reports a blank or nil required field.
	Validate() error
	isInput()
}

// PlanUpdate replaces the plan of the current chat.
type PlanUpdate struct {
	ChatID string
	PlanID string
	Plan   any
}

// TaskStart opens a task under the current plan.
type TaskStart struct {
	RunID       string
	TaskID      string
	TaskName    string
	Description string
}

// TaskComplete closes the active task successfully.
type TaskComplete struct {
	TaskID string
}

// TaskCancel closes the active task as cancelled.
type TaskCancel struct {
	TaskID string
	Reason string
}

// TaskFail closes the active task as failed.
type TaskFail struct {
	TaskID string
	Error  string
}

// ReasoningDelta appends text to a reasoning block.
type ReasoningDelta struct {
	ReasoningID string
	Delta       string
	TaskID      string
}

// ContentDelta appends text to a content block.
type ContentDelta struct {
	ContentID string
	Delta     string
	TaskID    string
}

// ToolArgs carries one fragment of a tool call's JSON arguments. An empty
// Delta only announces the call.
type ToolArgs struct {
	ToolID   string
	ToolName string
	ToolType string
	Delta    string
	// ChunkIndex overrides the auto-assigned per-tool counter.
	ChunkIndex *int
}

// ToolEnd marks the arguments of a tool call as complete.
type ToolEnd struct {
	ToolID string
}

// ToolResult carries the result of a tool call.
type ToolResult struct {
	ToolID string
	Result any
}

// ActionArgs mirrors ToolArgs in the action id namespace.
type ActionArgs struct {
	ActionID   string
	ActionName string
	ActionType string
	Delta      string
	ChunkIndex *int
}

// ActionEnd mirrors ToolEnd in the action id namespace.
type ActionEnd struct {
	ActionID string
}

// ActionResult mirrors ToolResult in the action id namespace.
type ActionResult struct {
	ActionID string
	Result   any
}

// RequestSubmit echoes that a frontend tool is waiting for a human response.
type RequestSubmit struct {
	ChatID   string
	RunID    string
	ToolID   string
	ToolName string
	ViewID   string
	Params   any
}

// RunComplete terminates the run. A blank FinishReason defaults downstream.
type RunComplete struct {
	FinishReason string
}

func (PlanUpdate) Kind() Kind     { return KindPlanUpdate }
func (TaskStart) Kind() Kind      { return KindTaskStart }
func (TaskComplete) Kind() Kind   { return KindTaskComplete }
func (TaskCancel) Kind() Kind     { return KindTaskCancel }
func (TaskFail) Kind() Kind       { return KindTaskFail }
func (ReasoningDelta) Kind() Kind { return KindReasoning }
func (ContentDelta) Kind() Kind   { return KindContent }
func (ToolArgs) Kind() Kind       { return KindToolArgs }
func (ToolEnd) Kind() Kind        { return KindToolEnd }
func (ToolResult) Kind() Kind     { return KindToolResult }
func (ActionArgs) Kind() Kind     { return KindActionArgs }
func (ActionEnd) Kind() Kind      { return KindActionEnd }
func (ActionResult) Kind() Kind   { return KindActionResult }
func (RequestSubmit) Kind() Kind  { return KindRequestSubmit }
func (RunComplete) Kind() Kind    { return KindRunComplete }

func (PlanUpdate) isInput()     {}
func (TaskStart) isInput()      {}
func (TaskComplete) isInput()   {}
func (TaskCancel) isInput()     {}
func (TaskFail) isInput()       {}
func (ReasoningDelta) isInput() {}
func (ContentDelta) isInput()   {}
func (ToolArgs) isInput()       {}
func (ToolEnd) isInput()        {}
func (ToolResult) isInput()     {}
func (ActionArgs) isInput()     {}
func (ActionEnd) isInput()      {}
func (ActionResult) isInput()   {}
func (RequestSubmit) isInput()  {}
func (RunComplete) isInput()    {}

// Validate implements Input.
func (p PlanUpdate) Validate() error {
	if err := requireText(p, "planId", p.PlanID); err != nil {
		return err
	}
	return requireValue(p, "plan", p.Plan)
}

// Validate implements Input.
func (t TaskStart) Validate() error { return requireText(t, "taskId", t.TaskID) }

// Validate implements Input.
func (t TaskComplete) Validate() error { return requireText(t, "taskId", t.TaskID) }

// Validate implements Input.
func (t TaskCancel) Validate() error { return requireText(t, "taskId", t.TaskID) }

// Validate implements Input.
func (t TaskFail) Validate() error { return requireText(t, "taskId", t.TaskID) }

// Validate implements Input.
func (r ReasoningDelta) Validate() error {
	if err := requireText(r, "reasoningId", r.ReasoningID); err != nil {
		return err
	}
	return requireNonEmpty(r, "delta", r.Delta)
}

// Validate implements Input.
func (c ContentDelta) Validate() error {
	if err := requireText(c, "contentId", c.ContentID); err != nil {
		return err
	}
	return requireNonEmpty(c, "delta", c.Delta)
}

// Validate implements Input.
func (t ToolArgs) Validate() error {
	if err := requireText(t, "toolId", t.ToolID); err != nil {
		return err
	}
	return validChunk(t, t.ChunkIndex)
}

// Validate implements Input.
func (t ToolEnd) Validate() error { return requireText(t, "toolId", t.ToolID) }

// Validate implements Input.
func (t ToolResult) Validate() error {
	if err := requireText(t, "toolId", t.ToolID); err != nil {
		return err
	}
	return requireValue(t, "result", t.Result)
}

// Validate implements Input.
func (a ActionArgs) Validate() error {
	if err := requireText(a, "actionId", a.ActionID); err != nil {
		return err
	}
	return validChunk(a, a.ChunkIndex)
}

// Validate implements Input.
func (a ActionEnd) Validate() error { return requireText(a, "actionId", a.ActionID) }

// Validate implements Input.
func (a ActionResult) Validate() error {
	if err := requireText(a, "actionId", a.ActionID); err != nil {
		return err
	}
	return requireValue(a, "result", a.Result)
}

// Validate implements Input.
func (r RequestSubmit) Validate() error {
	for _, f := range [][2]string{{"chatId", r.ChatID}, {"runId", r.RunID}, {"toolId", r.ToolID}} {
		if err := requireText(r, f[0], f[1]); err != nil {
			return err
		}
	}
	return nil
}

// Validate implements Input.
func (RunComplete) Validate() error { return nil }

func requireText(in Input, field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s.%s is blank", ErrInvalidInput, in.Kind(), field)
	}
	return nil
}

func requireNonEmpty(in Input, field, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s.%s is empty", ErrInvalidInput, in.Kind(), field)
	}
	return nil
}

func requireValue(in Input, field string, v any) error {
	if v == nil {
		return fmt.Errorf("%w: %s.%s is nil", ErrInvalidInput, in.Kind(), field)
	}
	if s, ok := v.(string); ok {
		return requireText(in, field, s)
	}
	return nil
}

func validChunk(in Input, idx *int) error {
	if idx != nil && *idx < 0 {
		return fmt.Errorf("%w: %s.chunkIndex is negative", ErrInvalidInput, in.Kind())
	}
	return nil
}
