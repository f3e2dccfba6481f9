//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"trpc.group/trpc-go/trpc-agent-gateway/tool"
)

// Role is the author of a message.
type Role string

// Supported roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the role name.
func (r Role) String() string { return string(r) }

// IsValid reports whether r is one of the supported roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall is a complete tool invocation requested by the model.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Arguments is the raw JSON text of the arguments.
	Arguments string `json:"arguments,omitempty"`
}

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	// ReasoningContent is the reasoning returned by thinking models.
	ReasoningContent string `json:"reasoning_content,omitempty"`
	// ToolCalls are set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolID and ToolName are set on tool messages.
	ToolID   string `json:"tool_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolMessage creates the message answering tool call id.
func NewToolMessage(id, name, content string) Message {
	return Message{Role: RoleTool, ToolID: id, ToolName: name, Content: content}
}

// GenerationConfig holds optional sampling parameters.
type GenerationConfig struct {
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Request is one model step.
type Request struct {
	Messages []Message `json:"messages"`
	// Tools are the declarations offered to the model.
	Tools []*tool.Declaration `json:"-"`

	GenerationConfig
}
