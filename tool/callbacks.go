//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"context"
)

// Invocation describes one attempt of a backend tool call.
type Invocation struct {
	RunID       string
	CallID      string
	ToolName    string
	Declaration *Declaration
	// Args may be rewritten by before callbacks.
	Args    []byte
	Attempt int
}

// BeforeToolCallback is called before a tool attempt.
// Returns (customResult, error).
// - customResult: if not nil, this result is used and the tool is not called.
// - error: if not nil, the attempt fails with this error.
type BeforeToolCallback func(ctx context.Context, inv *Invocation) (any, error)

// AfterToolCallback is called after a tool attempt.
// Returns (customResult, error).
// - customResult: if not nil, this result replaces the tool result and clears runErr.
// - error: if not nil, the attempt fails with this error.
type AfterToolCallback func(ctx context.Context, inv *Invocation, result any, runErr error) (any, error)

// Callbacks holds callbacks for tool operations.
type Callbacks struct {
	// BeforeTool is a list of callbacks that are called before the tool is executed.
	BeforeTool []BeforeToolCallback
	// AfterTool is a list of callbacks that are called after the tool is executed.
	AfterTool []AfterToolCallback
}

// NewCallbacks creates a new Callbacks instance for tool.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeTool registers a before tool callback.
func (c *Callbacks) RegisterBeforeTool(cb BeforeToolCallback) *Callbacks {
	c.BeforeTool = append(c.BeforeTool, cb)
	return c
}

// RegisterAfterTool registers an after tool callback.
func (c *Callbacks) RegisterAfterTool(cb AfterToolCallback) *Callbacks {
	c.AfterTool = append(c.AfterTool, cb)
	return c
}

// RunBeforeTool runs all before tool callbacks in order.
// If any callback returns a custom result or an error, stop and return.
func (c *Callbacks) RunBeforeTool(ctx context.Context, inv *Invocation) (any, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeTool {
		customResult, err := cb(ctx, inv)
		if err != nil {
			return nil, err
		}
		if customResult != nil {
			return customResult, nil
		}
	}
	return nil, nil
}

// RunAfterTool runs all after tool callbacks in order.
// If any callback returns a custom result or an error, stop and return.
func (c *Callbacks) RunAfterTool(ctx context.Context, inv *Invocation, result any, runErr error) (any, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.AfterTool {
		customResult, err := cb(ctx, inv, result, runErr)
		if err != nil {
			return nil, err
		}
		if customResult != nil {
			return customResult, nil
		}
	}
	return nil, nil
}
