//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the names and helpers shared by the gateway's
// tracing and metrics.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "trpc-agent-gateway"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-agent"
	InstrumentName   = "trpc.agent.gateway"

	SpanNameRun               = "run"
	SpanNameCallLLM           = "call_llm"
	SpanNamePrefixExecuteTool = "execute_tool"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// span attribute keys.
const (
	KeyRunID        = "gateway.run_id"
	KeyChatID       = "gateway.chat_id"
	KeyAgentKey     = "gateway.agent_key"
	KeyToolID       = "gateway.tool_id"
	KeyToolName     = "gen_ai.tool.name"
	KeyToolKind     = "gateway.tool_kind"
	KeyToolAttempts = "gateway.tool_attempts"
	KeyToolOutcome  = "gateway.tool_outcome"
	KeyModelName    = "gen_ai.request.model"
	KeyFinishReason = "gateway.finish_reason"
)

// metric names.
const (
	MetricToolAttempts   = "gateway.tool.attempts"
	MetricToolFailures   = "gateway.tool.failures"
	MetricToolTimeouts   = "gateway.tool.timeouts"
	MetricSubmitTimeouts = "gateway.submit.timeouts"
	MetricRunErrors      = "gateway.run.errors"
)

// NewExecuteToolSpanName returns the span name of a tool call.
func NewExecuteToolSpanName(toolName string) string {
	return SpanNamePrefixExecuteTool + " " + toolName
}

// NewChatSpanName returns the span name of a model call.
func NewChatSpanName(modelName string) string {
	if modelName == "" {
		return SpanNameCallLLM
	}
	return SpanNameCallLLM + " " + modelName
}

// ToolCall identifies a tool call on a span.
type ToolCall struct {
	RunID    string
	ToolID   string
	ToolName string
	Kind     string
}

// TraceToolCall records the identity of a tool call on span.
func TraceToolCall(span trace.Span, call ToolCall) {
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "tool.execute"),
		attribute.String(KeyRunID, call.RunID),
		attribute.String(KeyToolID, call.ToolID),
		attribute.String(KeyToolName, call.ToolName),
		attribute.String(KeyToolKind, call.Kind),
	)
}

// TraceToolOutcome records how a tool call ended on span.
func TraceToolOutcome(span trace.Span, attempts int, outcome string) {
	span.SetAttributes(
		attribute.Int(KeyToolAttempts, attempts),
		attribute.String(KeyToolOutcome, outcome),
	)
}

// NewGRPCConn creates a new gRPC connection to the OpenTelemetry Collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	// Note the use of insecure transport here. TLS is recommended in production.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
