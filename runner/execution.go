//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-agent-gateway/assembler"
	"trpc.group/trpc-go/trpc-agent-gateway/budget"
	"trpc.group/trpc-go/trpc-agent-gateway/event"
	"trpc.group/trpc-go/trpc-agent-gateway/executor"
	"trpc.group/trpc-go/trpc-agent-gateway/internal/idgen"
	itelemetry "trpc.group/trpc-go/trpc-agent-gateway/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-gateway/log"
	"trpc.group/trpc-go/trpc-agent-gateway/model"
	"trpc.group/trpc-go/trpc-agent-gateway/request"
	"trpc.group/trpc-go/trpc-agent-gateway/stream"
	"trpc.group/trpc-go/trpc-agent-gateway/telemetry/trace"
)

// errModelTimeout marks a model step that hit model.timeoutMs.
var errModelTimeout = errors.New("runner: model step timed out")

// execution is the state of one run, owned by its driving goroutine.
type execution struct {
	runner *Runner
	agent  *Agent
	query  *request.Query
	asm    *assembler.Assembler
	exec   *budget.ExecutionContext
	out    chan *event.Event

	messages []model.Message
}

// step is the outcome of one model step.
type step struct {
	content      string
	calls        []model.ToolCall
	announced    map[string]bool
	finishReason string
}

// loop alternates model steps and tool batches until the model stops asking
// for tools. Any returned error ends the run with run.error.
func (x *execution) loop(ctx context.Context) error {
	if x.agent.Instruction != "" {
		x.messages = append(x.messages, model.NewSystemMessage(x.agent.Instruction))
	}
	x.messages = append(x.messages, model.Message{
		Role:    model.Role(x.query.Role),
		Content: x.query.Message,
	})
	for {
		if err := x.exec.CheckBudget(); err != nil {
			return err
		}
		if err := x.exec.IncrementModelCalls(); err != nil {
			return err
		}
		st, err := x.modelStep(ctx)
		if err != nil {
			return err
		}
		if len(st.calls) == 0 {
			return x.consume(ctx, stream.Delta{}, stream.NewRunComplete(st.finishReason))
		}
		x.messages = append(x.messages, model.NewAssistantMessage(st.content, st.calls...))
		if err := x.runTools(ctx, st); err != nil {
			return err
		}
	}
}

// modelStep runs one model step under model.timeoutMs. A step that failed
// before producing any delta is retried up to model.retryCount times.
func (x *execution) modelStep(ctx context.Context) (*step, error) {
	scope := x.exec.Budget().Model()
	var lastErr error
	for attempt := 1; attempt <= scope.RetryCount+1; attempt++ {
		st, streamed, err := x.generate(ctx, scope.Timeout())
		if err == nil {
			return st, nil
		}
		if streamed || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		log.Warnf("runner: run %s model attempt %d/%d failed: %v",
			x.asm.RunID(), attempt, scope.RetryCount+1, err)
	}
	return nil, lastErr
}

// generate streams one model response into the assembler. streamed reports
// whether any delta reached the client.
func (x *execution) generate(ctx context.Context, timeout time.Duration) (st *step, streamed bool, err error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	modelName := x.agent.Model.Info().Name
	stepCtx, span := trace.Tracer.Start(stepCtx, itelemetry.NewChatSpanName(modelName))
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyRunID, x.asm.RunID()),
		attribute.String(itelemetry.KeyModelName, modelName),
	)

	req := &model.Request{
		Messages:         x.messages,
		Tools:            x.agent.declarations(),
		GenerationConfig: x.agent.GenerationConfig,
	}
	final, err := x.runner.modelCallbacks.RunBeforeModel(stepCtx, req)
	if err != nil {
		return nil, false, err
	}
	ids := &blockIDs{}
	st = &step{announced: make(map[string]bool)}
	var content strings.Builder
	if final == nil {
		rspCh, err := x.agent.Model.GenerateContent(stepCtx, req)
		if err != nil {
			return nil, false, err
		}
		for rsp := range rspCh {
			if rsp.Error != nil {
				return nil, streamed, rsp.Error
			}
			if !rsp.Delta.IsEmpty() {
				d := ids.tag(rsp.Delta, x.agent, st.announced)
				content.WriteString(d.Content)
				streamed = true
				if err := x.consume(ctx, d); err != nil {
					return nil, streamed, err
				}
			}
			if rsp.Done {
				final = rsp
			}
		}
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, streamed, fmt.Errorf("%w after %s", errModelTimeout, timeout)
		}
		if ctx.Err() != nil {
			return nil, streamed, ctx.Err()
		}
		if final == nil {
			return nil, streamed, errors.New("runner: model stream ended without a final response")
		}
	}
	if custom, err := x.runner.modelCallbacks.RunAfterModel(stepCtx, req, final); err != nil {
		return nil, streamed, err
	} else if custom != nil {
		final = custom
	}
	if final.Error != nil {
		return nil, streamed, final.Error
	}
	st.content = content.String()
	st.finishReason = final.FinishReason
	for _, c := range final.ToolCalls {
		if c.ID == "" {
			c.ID = idgen.New(idgen.PrefixTool)
		}
		st.calls = append(st.calls, c)
	}
	span.SetAttributes(attribute.String(itelemetry.KeyFinishReason, st.finishReason))
	return st, streamed, nil
}

// runTools executes the calls of st and appends their results to the
// conversation.
func (x *execution) runTools(ctx context.Context, st *step) error {
	planned := make([]executor.PlannedToolCall, 0, len(st.calls))
	for _, c := range st.calls {
		planned = append(planned, executor.PlannedToolCall{
			CallID:    c.ID,
			ToolName:  c.Name,
			Arguments: decodeArguments(c),
			Announced: st.announced[c.ID],
		})
	}
	req := &executor.Request{
		RunID:    x.asm.RunID(),
		ChatID:   x.asm.ChatID(),
		Calls:    planned,
		Tools:    x.agent.tools(),
		Exec:     x.exec,
		Classify: x.agent.kind,
	}
	if x.runner.flush {
		req.OnDelta = func(ctx context.Context, d stream.Delta) ([]*event.Event, error) {
			return nil, x.consume(ctx, d)
		}
	}
	batch, err := x.runner.engine.Execute(ctx, req)
	if batch != nil {
		for _, d := range batch.Deltas {
			if cerr := x.consume(ctx, d); cerr != nil {
				return cerr
			}
		}
		for _, res := range batch.Results {
			x.messages = append(x.messages, model.NewToolMessage(res.CallID, res.ToolName, res.Result))
		}
	}
	return err
}

// consume feeds d, then extra, to the assembler and emits the events.
func (x *execution) consume(ctx context.Context, d stream.Delta, extra ...stream.Input) error {
	inputs, err := d.Inputs()
	if err != nil {
		return err
	}
	for _, in := range append(inputs, extra...) {
		evs, err := x.asm.Consume(in)
		if err != nil {
			return err
		}
		if err := x.emit(ctx, evs); err != nil {
			return err
		}
	}
	return nil
}

func (x *execution) emit(ctx context.Context, evs []*event.Event) error {
	for _, ev := range evs {
		select {
		case x.out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func decodeArguments(c model.ToolCall) map[string]any {
	if strings.TrimSpace(c.Arguments) == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		log.Warnf("runner: tool call %s (%s) has malformed arguments: %v", c.ID, c.Name, err)
		return nil
	}
	return args
}

// blockIDs assigns reasoning and content block ids within one model step.
// A new block starts whenever the stream switches between reasoning, content
// and tool calls.
type blockIDs struct {
	reasoningID string
	contentID   string
}

func (b *blockIDs) tag(d stream.Delta, agent *Agent, announced map[string]bool) stream.Delta {
	if d.Reasoning != "" {
		if d.ReasoningID == "" {
			if b.reasoningID == "" {
				b.reasoningID = idgen.New(idgen.PrefixReasoning)
			}
			d.ReasoningID = b.reasoningID
		}
		b.contentID = ""
	}
	if d.Content != "" {
		if d.ContentID == "" {
			if b.contentID == "" {
				b.contentID = idgen.New(idgen.PrefixContent)
			}
			d.ContentID = b.contentID
		}
		b.reasoningID = ""
	}
	if len(d.ToolCalls) > 0 {
		calls := make([]stream.ToolCall, len(d.ToolCalls))
		for i, c := range d.ToolCalls {
			if !announced[c.ID] && c.Type == "" && c.Name != "" && !c.Action {
				c.Type = string(agent.kind(c.Name))
			}
			announced[c.ID] = true
			calls[i] = c
		}
		d.ToolCalls = calls
		b.reasoningID, b.contentID = "", ""
	}
	return d
}
