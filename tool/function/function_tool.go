//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package function wraps Go functions as callable tools whose arguments are
// validated against their declared JSON schema.
package function

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"

	itool "trpc.group/trpc-go/trpc-agent-gateway/internal/tool"
	"trpc.group/trpc-go/trpc-agent-gateway/log"
	"trpc.group/trpc-go/trpc-agent-gateway/tool"
)

// Option is a function that configures a function tool.
type Option func(*functionToolOptions)

type functionToolOptions struct {
	name        string
	description string
	inputSchema *tool.Schema
}

// WithName sets the name of the function tool.
func WithName(name string) Option {
	return func(opts *functionToolOptions) {
		opts.name = name
	}
}

// WithDescription sets the description of the function tool.
func WithDescription(description string) Option {
	return func(opts *functionToolOptions) {
		opts.description = description
	}
}

// WithInputSchema overrides the input schema derived from the input type.
func WithInputSchema(s *tool.Schema) Option {
	return func(opts *functionToolOptions) {
		opts.inputSchema = s
	}
}

// FunctionTool implements tool.CallableTool for a typed Go function.
type FunctionTool[I, O any] struct {
	decl      *tool.Declaration
	fn        func(context.Context, I) (O, error)
	validator *validator
}

// NewFunctionTool creates a tool calling fn. The input schema is generated
// from I unless WithInputSchema is given.
func NewFunctionTool[I, O any](fn func(context.Context, I) (O, error), opts ...Option) *FunctionTool[I, O] {
	options := &functionToolOptions{}
	for _, opt := range opts {
		opt(options)
	}
	var (
		emptyI I
		emptyO O
	)
	if options.inputSchema == nil {
		options.inputSchema = itool.GenerateJSONSchema(reflect.TypeOf(emptyI))
	}
	return &FunctionTool[I, O]{
		decl: &tool.Declaration{
			Name:         options.name,
			Description:  options.description,
			InputSchema:  options.inputSchema,
			OutputSchema: itool.GenerateJSONSchema(reflect.TypeOf(emptyO)),
		},
		fn:        fn,
		validator: mustValidator(options.name, options.inputSchema),
	}
}

// Call validates jsonArgs, decodes them into I and calls the function.
// Validation and decoding failures are returned as *tool.ArgumentError.
func (ft *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	if err := ft.validator.validate(jsonArgs); err != nil {
		return nil, tool.NewArgumentError(ft.decl.Name, err)
	}
	var input I
	if len(bytes.TrimSpace(jsonArgs)) > 0 {
		if err := json.Unmarshal(jsonArgs, &input); err != nil {
			return nil, tool.NewArgumentError(ft.decl.Name, err)
		}
	}
	return ft.fn(ctx, input)
}

// Declaration implements tool.Tool.
func (ft *FunctionTool[I, O]) Declaration() *tool.Declaration {
	return ft.decl
}

// MapTool implements tool.CallableTool for a function taking loose arguments.
type MapTool struct {
	decl      *tool.Declaration
	fn        func(context.Context, map[string]any) (any, error)
	validator *validator
}

// NewMapTool creates a tool whose arguments arrive as a decoded JSON object.
func NewMapTool(fn func(context.Context, map[string]any) (any, error), opts ...Option) *MapTool {
	options := &functionToolOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.inputSchema == nil {
		options.inputSchema = &tool.Schema{Type: "object"}
	}
	return &MapTool{
		decl: &tool.Declaration{
			Name:        options.name,
			Description: options.description,
			InputSchema: options.inputSchema,
		},
		fn:        fn,
		validator: mustValidator(options.name, options.inputSchema),
	}
}

// Call implements tool.CallableTool.
func (mt *MapTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	if err := mt.validator.validate(jsonArgs); err != nil {
		return nil, tool.NewArgumentError(mt.decl.Name, err)
	}
	args := map[string]any{}
	if len(bytes.TrimSpace(jsonArgs)) > 0 {
		if err := json.Unmarshal(jsonArgs, &args); err != nil {
			return nil, tool.NewArgumentError(mt.decl.Name, err)
		}
	}
	return mt.fn(ctx, args)
}

// Declaration implements tool.Tool.
func (mt *MapTool) Declaration() *tool.Declaration {
	return mt.decl
}

// mustValidator compiles s, falling back to JSON-only checks when the schema
// cannot be compiled.
func mustValidator(name string, s *tool.Schema) *validator {
	v, err := newValidator(s)
	if err != nil {
		log.Warnf("function tool %s: input schema ignored: %v", name, err)
		return &validator{}
	}
	return v
}
