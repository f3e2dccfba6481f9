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
	"fmt"

	"trpc.group/trpc-go/trpc-agent-gateway/stream"
)

// Error type constants for ResponseError.Type field.
const (
	ErrorTypeStreamError = "stream_error"
	ErrorTypeAPIError    = "api_error"
)

// Well-known finish reasons.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonLength    = "length"
)

// ResponseError is an error reported after communication started.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Error implements error.
func (e *ResponseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("model %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("model %s: %s", e.Type, e.Message)
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one item of a model stream.
//
// Partial responses carry Delta: reasoning and content text and tool call
// fragments. Block ids may be left empty; the caller assigns them per step.
// Tool call fragments always carry the call id. The final response has Done
// set, the complete ToolCalls and the finish reason.
type Response struct {
	ID    string `json:"id,omitempty"`
	Model string `json:"model,omitempty"`

	Delta stream.Delta `json:"-"`

	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
	Done         bool           `json:"done"`
	Error        *ResponseError `json:"error,omitempty"`
}
