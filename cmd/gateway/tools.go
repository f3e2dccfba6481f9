//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-agent-gateway/config"
	"trpc.group/trpc-go/trpc-agent-gateway/tool"
	"trpc.group/trpc-go/trpc-agent-gateway/tool/function"
	"trpc.group/trpc-go/trpc-agent-gateway/tool/websearch"
)

type timeInput struct {
	// Timezone is an IANA zone name such as Asia/Shanghai.
	Timezone string `json:"timezone,omitempty"`
}

type timeOutput struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Weekday  string `json:"weekday"`
}

type calcInput struct {
	A         float64 `json:"a"`
	B         float64 `json:"b"`
	Operation string  `json:"operation"`
}

type calcOutput struct {
	Result float64 `json:"result"`
}

// builtinTools returns the backend tools agents may reference by name.
func builtinTools(now func() time.Time) map[string]tool.Tool {
	currentTime := function.NewFunctionTool(
		func(_ context.Context, in timeInput) (timeOutput, error) {
			loc := time.Local
			if in.Timezone != "" {
				l, err := time.LoadLocation(in.Timezone)
				if err != nil {
					return timeOutput{}, tool.NewArgumentError("current_time",
						fmt.Errorf("unknown timezone %q", in.Timezone))
				}
				loc = l
			}
			t := now().In(loc)
			return timeOutput{
				Time:     t.Format(time.RFC3339),
				Timezone: loc.String(),
				Weekday:  t.Weekday().String(),
			}, nil
		},
		function.WithName("current_time"),
		function.WithDescription("Returns the current time, optionally in the given IANA timezone."),
	)
	calculator := function.NewFunctionTool(
		func(_ context.Context, in calcInput) (calcOutput, error) {
			switch in.Operation {
			case "add":
				return calcOutput{Result: in.A + in.B}, nil
			case "subtract":
				return calcOutput{Result: in.A - in.B}, nil
			case "multiply":
				return calcOutput{Result: in.A * in.B}, nil
			case "divide":
				if in.B == 0 {
					return calcOutput{}, tool.NewArgumentError("calculator", errors.New("division by zero"))
				}
				return calcOutput{Result: in.A / in.B}, nil
			}
			return calcOutput{}, tool.NewArgumentError("calculator",
				fmt.Errorf("unsupported operation %q", in.Operation))
		},
		function.WithName("calculator"),
		function.WithDescription("Performs add, subtract, multiply or divide on two numbers."),
		function.WithInputSchema(&tool.Schema{
			Type:     "object",
			Required: []string{"a", "b", "operation"},
			Properties: map[string]*tool.Schema{
				"a":         {Type: "number"},
				"b":         {Type: "number"},
				"operation": {Type: "string", Enum: []any{"add", "subtract", "multiply", "divide"}},
			},
		}),
	)
	return map[string]tool.Tool{
		"current_time": currentTime,
		"calculator":   calculator,
		websearch.Name: websearch.New(),
	}
}

// agentTools builds the registry of an agent from its built-in tool names and
// frontend tool declarations.
func agentTools(key string, ac config.AgentConfig, builtins map[string]tool.Tool) (*tool.Registry, error) {
	reg, err := tool.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, name := range ac.Tools {
		t, ok := builtins[name]
		if !ok {
			return nil, fmt.Errorf("agent %s: unknown built-in tool %s", key, name)
		}
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("agent %s: %w", key, err)
		}
	}
	for _, ft := range ac.FrontendTools {
		params := ft.Parameters
		if params == nil {
			params = &tool.Schema{Type: "object"}
		}
		if err := reg.Register(tool.NewFrontendTool(ft.Name, ft.Description, params)); err != nil {
			return nil, fmt.Errorf("agent %s: %w", key, err)
		}
	}
	return reg, nil
}
