//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	itelemetry "trpc.group/trpc-go/trpc-agent-gateway/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-gateway/log"
	"trpc.group/trpc-go/trpc-agent-gateway/stream"
	"trpc.group/trpc-go/trpc-agent-gateway/submit"
	"trpc.group/trpc-go/trpc-agent-gateway/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-gateway/tool"
)

// Call outcomes recorded on spans.
const (
	outcomeSuccess       = "success"
	outcomeFailure       = "failure"
	outcomeTimeout       = "timeout"
	outcomeInvalidArgs   = "invalid_arguments"
	outcomeNotFound      = "not_found"
	outcomeSubmitted     = "submitted"
	outcomeSubmitTimeout = "submit_timeout"
)

// backendTimeoutMessage is the error of a call whose last attempt timed out.
const backendTimeoutMessage = "Backend tool timeout"

var errAttemptTimeout = errors.New("executor: tool attempt timed out")

// failure is the JSON shape of an ok=false result.
type failure struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

func failureJSON(code, msg string) string {
	bts, _ := json.Marshal(failure{Code: code, Error: msg})
	return string(bts)
}

// resultJSON encodes a tool or submit result as JSON text. Raw JSON is kept.
func resultJSON(v any) (string, error) {
	switch r := v.(type) {
	case json.RawMessage:
		if json.Valid(r) {
			return string(r), nil
		}
	case []byte:
		if json.Valid(r) {
			return string(r), nil
		}
	}
	bts, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("result is not JSON serializable: %w", err)
	}
	return string(bts), nil
}

func (e *Engine) executeCall(ctx context.Context, req *Request, call PlannedToolCall, b *Batch) error {
	kind := e.classify(req, call.ToolName)
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewExecuteToolSpanName(call.ToolName))
	defer span.End()
	itelemetry.TraceToolCall(span, itelemetry.ToolCall{
		RunID: req.RunID, ToolID: call.CallID, ToolName: call.ToolName, Kind: string(kind),
	})

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("executor: encode arguments of %s: %w", call.CallID, err)
	}

	// Register the waiter before the client can learn about the call.
	var future *submit.Future
	if kind == tool.KindFrontend {
		future = e.coordinator.Await(req.RunID, call.CallID)
	}

	if !call.Announced {
		announce := stream.Delta{ToolCalls: []stream.ToolCall{{
			ID: call.CallID, Name: call.ToolName, Type: string(kind), Arguments: string(argsJSON),
		}}}
		if err := e.intermediate(ctx, req, b, announce); err != nil {
			if future != nil {
				future.Cancel()
			}
			return err
		}
	}

	res := CallResult{CallID: call.CallID, ToolName: call.ToolName, Kind: kind, Arguments: string(argsJSON)}
	var outcome string
	if kind == tool.KindFrontend {
		d := stream.Delta{
			ToolEnds: []stream.CallEnd{{ID: call.CallID}},
			RequestSubmit: &stream.RequestSubmit{
				ChatID: req.ChatID, RunID: req.RunID, ToolID: call.CallID,
				ToolName: call.ToolName, Params: args,
			},
		}
		if err := e.intermediate(ctx, req, b, d); err != nil {
			future.Cancel()
			return err
		}
		outcome, err = e.awaitFrontend(ctx, future, &res)
		if err != nil {
			return err
		}
	} else {
		outcome = e.runBackend(ctx, req, call, argsJSON, &res)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.intermediate(ctx, req, b, stream.Delta{ToolEnds: []stream.CallEnd{{ID: call.CallID}}}); err != nil {
			return err
		}
	}

	itelemetry.TraceToolOutcome(span, res.Attempts, outcome)
	if !res.OK {
		span.SetStatus(codes.Error, outcome)
		e.failures.Add(ctx, 1, metric.WithAttributes(attribute.String(itelemetry.KeyToolName, call.ToolName)))
	}
	b.Deltas = append(b.Deltas, stream.Delta{ToolResults: []stream.CallResult{{ID: call.CallID, Result: res.Result}}})
	b.Results = append(b.Results, res)
	return nil
}

func (e *Engine) awaitFrontend(ctx context.Context, future *submit.Future, res *CallResult) (string, error) {
	timeout := e.submitTimeout
	if timeout <= 0 {
		timeout = e.coordinator.Timeout()
	}
	payload, err := future.Wait(ctx, timeout)
	switch {
	case errors.Is(err, submit.ErrTimeout):
		log.Warnf("executor: frontend tool %s (%s) got no response within %s", res.ToolName, res.CallID, timeout)
		e.submitTimeouts.Add(ctx, 1)
		res.Result = failureJSON(FrontendSubmitTimeoutCode,
			fmt.Sprintf("Frontend tool submit timeout after %s", timeout))
		return outcomeSubmitTimeout, nil
	case err != nil:
		return "", err
	}
	out, err := resultJSON(payload)
	if err != nil {
		res.Result = failureJSON("", err.Error())
		return outcomeFailure, nil
	}
	res.Result, res.OK = out, true
	return outcomeSubmitted, nil
}

// runBackend runs the attempts of one backend call and fills res.
func (e *Engine) runBackend(ctx context.Context, req *Request, call PlannedToolCall, argsJSON []byte, res *CallResult) string {
	t, ok := req.Tools[call.ToolName]
	if !ok {
		res.Result = failureJSON("", "tool not found: "+call.ToolName)
		return outcomeNotFound
	}
	callable, ok := t.(tool.CallableTool)
	if !ok {
		res.Result = failureJSON("", "tool not callable: "+call.ToolName)
		return outcomeNotFound
	}

	scope := req.Exec.Budget().Tool()
	maxAttempts := scope.RetryCount + 1
	nameAttr := metric.WithAttributes(attribute.String(itelemetry.KeyToolName, call.ToolName))
	var (
		lastErr  error
		timedOut bool
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		e.attempts.Add(ctx, 1, nameAttr)
		out, err := e.attempt(ctx, req, call, callable, argsJSON, attempt, scope.Timeout())
		if err == nil {
			encoded, encErr := resultJSON(out)
			if encErr != nil {
				res.Result = failureJSON("", encErr.Error())
				return outcomeFailure
			}
			res.Result, res.OK = encoded, true
			return outcomeSuccess
		}
		var argErr *tool.ArgumentError
		if errors.As(err, &argErr) {
			res.Result = failureJSON("", argErr.Error())
			return outcomeInvalidArgs
		}
		lastErr, timedOut = err, errors.Is(err, errAttemptTimeout)
		if timedOut {
			e.timeouts.Add(ctx, 1, nameAttr)
		}
		if ctx.Err() != nil {
			break
		}
		log.Warnf("executor: tool %s (%s) attempt %d/%d failed: %v",
			call.ToolName, call.CallID, attempt, maxAttempts, err)
	}
	if timedOut {
		res.Result = failureJSON("", backendTimeoutMessage)
		return outcomeTimeout
	}
	res.Result = failureJSON("", lastErr.Error())
	return outcomeFailure
}

type attemptResult struct {
	value any
	err   error
}

// attempt runs one call on the pool under timeout. On deadline the call is
// abandoned; its worker is freed once the tool returns.
func (e *Engine) attempt(
	ctx context.Context,
	req *Request,
	call PlannedToolCall,
	callable tool.CallableTool,
	argsJSON []byte,
	attempt int,
	timeout time.Duration,
) (any, error) {
	inv := &tool.Invocation{
		RunID:       req.RunID,
		CallID:      call.CallID,
		ToolName:    call.ToolName,
		Declaration: callable.Declaration(),
		Args:        append([]byte(nil), argsJSON...),
		Attempt:     attempt,
	}
	custom, err := e.callbacks.RunBeforeTool(ctx, inv)
	if err != nil {
		return nil, err
	}
	if custom != nil {
		return custom, nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan attemptResult, 1)
	submitErr := e.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("tool %s panicked: %v", call.ToolName, r)}
			}
		}()
		v, err := callable.Call(attemptCtx, inv.Args)
		done <- attemptResult{value: v, err: err}
	})
	if submitErr != nil {
		return nil, fmt.Errorf("executor: schedule tool %s: %w", call.ToolName, submitErr)
	}

	var r attemptResult
	select {
	case r = <-done:
		// A tool honouring its context reports the deadline as its own error.
		if r.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			r.err = errAttemptTimeout
		}
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		oteltrace.SpanFromContext(ctx).AddEvent("attempt timeout")
		return nil, errAttemptTimeout
	}

	custom, err = e.callbacks.RunAfterTool(ctx, inv, r.value, r.err)
	if err != nil {
		return nil, err
	}
	if custom != nil {
		return custom, nil
	}
	return r.value, r.err
}
