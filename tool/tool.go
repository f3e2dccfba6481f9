//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package tool defines the contract between the run orchestration core and
// tool implementations.
package tool

import (
	"context"
)

// Kind classifies where a tool executes.
type Kind string

const (
	// KindBackend tools run synchronously inside the gateway.
	KindBackend Kind = "backend"
	// KindFrontend tools are answered by a human through a submit request.
	KindFrontend Kind = "frontend"
)

// Tool is anything that can be declared to a model.
type Tool interface {
	// Declaration returns the metadata describing the tool.
	Declaration() *Declaration
}

// CallableTool is a tool executed in process.
type CallableTool interface {
	// Call calls the tool with JSON encoded arguments. Argument problems should
	// be reported as *ArgumentError so they are not retried.
	Call(ctx context.Context, jsonArgs []byte) (any, error)

	Tool
}

// Kinded lets a tool state its Kind explicitly.
type Kinded interface {
	Kind() Kind
}

// KindOf classifies t. Explicit kinds win; otherwise callable tools are backend
// tools and everything else is answered by the frontend.
func KindOf(t Tool) Kind {
	if k, ok := t.(Kinded); ok {
		return k.Kind()
	}
	if _, ok := t.(CallableTool); ok {
		return KindBackend
	}
	return KindFrontend
}

// Declaration describes the metadata of a tool, such as its name, description, and expected arguments.
type Declaration struct {
	// Name is the unique identifier of the tool
	Name string `json:"name"`

	// Description explains the tool's purpose and functionality
	Description string `json:"description"`

	// InputSchema defines the expected input for the tool in JSON schema format.
	InputSchema *Schema `json:"inputSchema"`

	// OutputSchema defines the expected output for the tool in JSON schema format.
	OutputSchema *Schema `json:"outputSchema,omitempty"`
}

// Schema represents the structure of JSON Schema used for defining arguments and responses.
type Schema struct {
	//  Type Specifies the data type (e.g., "object", "array", "string", "number")
	Type        string   `json:"type,omitempty" yaml:"type,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Required    []string `json:"required,omitempty" yaml:"required,omitempty"`
	// Properties of the arguments, each with its own schema
	Properties map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	// For array types, defines the schema of items in the array
	Items *Schema `json:"items,omitempty" yaml:"items,omitempty"`
	// Enum restricts the value to a fixed set.
	Enum []any `json:"enum,omitempty" yaml:"enum,omitempty"`
	// AdditionalProperties: Controls whether properties not defined in Properties are allowed
	AdditionalProperties any `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`
}

// FrontendTool is a declaration-only tool answered by the client.
type FrontendTool struct {
	decl *Declaration
}

// NewFrontendTool creates a frontend tool.
func NewFrontendTool(name, description string, input *Schema) *FrontendTool {
	return &FrontendTool{decl: &Declaration{Name: name, Description: description, InputSchema: input}}
}

// Declaration implements Tool.
func (t *FrontendTool) Declaration() *Declaration { return t.decl }

// Kind implements Kinded.
func (t *FrontendTool) Kind() Kind { return KindFrontend }
