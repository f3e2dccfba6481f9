//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package assembler turns the semantic inputs of a run into the ordered,
// sequence-numbered wire events sent to the client.
//
// An Assembler is owned by the single worker driving a run and is not safe
// for concurrent use.
package assembler

import (
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"trpc.group/trpc-go/trpc-agent-gateway/event"
	"trpc.group/trpc-go/trpc-agent-gateway/internal/idgen"
	"trpc.group/trpc-go/trpc-agent-gateway/log"
	"trpc.group/trpc-go/trpc-agent-gateway/request"
)

const (
	// DefaultFinishReason is used by run.complete when none is given.
	DefaultFinishReason = "end_turn"
	// RunErrorCode is the error code carried by run.error.
	RunErrorCode = "RUN_ERROR"

	chatNameMaxRunes = 30
)

// Option configures an Assembler.
type Option func(*options)

type options struct {
	now     func() time.Time
	greeter Greeter
}

// Greeter records the chats that received chat.start.
type Greeter interface {
	// Greet marks chatID greeted and reports whether it was not yet.
	Greet(chatID string) bool
}

// chatSet is the default, single-assembler Greeter.
type chatSet map[string]struct{}

func (s chatSet) Greet(chatID string) bool {
	if _, ok := s[chatID]; ok {
		return false
	}
	s[chatID] = struct{}{}
	return true
}

// DefaultGreetedChats bounds the chats a SyncGreeter remembers.
const DefaultGreetedChats = 100_000

// SyncGreeter is a Greeter shared by assemblers of concurrent runs. It
// remembers the most recently greeted chats only; an evicted chat is greeted
// again on its next run.
type SyncGreeter struct {
	chats *lru.Cache[string, struct{}]
}

// NewSyncGreeter creates an empty SyncGreeter remembering up to capacity
// chats. A non-positive capacity means DefaultGreetedChats.
func NewSyncGreeter(capacity int) (*SyncGreeter, error) {
	if capacity <= 0 {
		capacity = DefaultGreetedChats
	}
	chats, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &SyncGreeter{chats: chats}, nil
}

// Greet implements Greeter.
func (g *SyncGreeter) Greet(chatID string) bool {
	seen, _ := g.chats.ContainsOrAdd(chatID, struct{}{})
	return !seen
}

// Len returns the number of remembered chats.
func (g *SyncGreeter) Len() int { return g.chats.Len() }

// WithClock sets the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithGreeter shares the set of greeted chats with other assemblers.
func WithGreeter(g Greeter) Option {
	return func(o *options) {
		o.greeter = g
	}
}

// Assembler is the wire-protocol state machine of a run.
type Assembler struct {
	now func() time.Time
	// greeter survives Begin so a resumed run is not greeted twice.
	greeter Greeter
	run     *runState
}

type runState struct {
	seq      int64
	chatID   string
	chatName string
	runID    string
	agentKey string
	planID   string
	hasChat  bool
	hasRun   bool

	activeTaskID      string
	activeReasoningID string
	activeContentID   string

	tools   *callSet
	actions *callSet

	terminated bool
}

func newRunState() *runState {
	return &runState{
		tools:   newCallSet(toolNamespace),
		actions: newCallSet(actionNamespace),
	}
}

// New creates an Assembler.
func New(opts ...Option) *Assembler {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.greeter == nil {
		o.greeter = chatSet{}
	}
	return &Assembler{
		now:     o.now,
		greeter: o.greeter,
		run:     newRunState(),
	}
}

// Begin starts a run for req and returns its bootstrap events. The per-run
// state and the sequence counter are reset; the greeted chats are kept.
func (a *Assembler) Begin(req request.Request) ([]*event.Event, error) {
	if err := request.Prepare(req); err != nil {
		return nil, err
	}
	a.run = newRunState()
	var out []*event.Event
	switch r := req.(type) {
	case *request.Query:
		a.run.hasChat, a.run.hasRun = true, true
		a.run.chatID = r.ChatID
		a.run.chatName = chatNameOf(r)
		a.run.runID = r.RunID
		if a.run.runID == "" {
			a.run.runID = idgen.New(idgen.PrefixRun)
		}
		a.run.agentKey = r.AgentKey

		p := event.NewPayload().
			Set("requestId", r.RequestID).
			Set("chatId", r.ChatID).
			Set("role", r.Role).
			Set("message", r.Message).
			SetNonEmpty("agentKey", r.AgentKey)
		if len(r.References) > 0 {
			p.Set("references", r.References)
		}
		if params := r.VisibleParams(); params != nil {
			p.Set("params", params)
		}
		p.SetNonNil("scene", r.Scene).Set("stream", r.IsStream())
		out = a.emit(out, event.TypeRequestQuery, p)

		if r.EmitChatStart() && a.greeter.Greet(r.ChatID) {
			out = a.emit(out, event.TypeChatStart, event.NewPayload().
				Set("chatId", r.ChatID).
				Set("chatName", a.run.chatName))
		}
		out = a.emit(out, event.TypeRunStart, event.NewPayload().
			Set("runId", a.run.runID).
			Set("chatId", r.ChatID).
			SetNonEmpty("agentKey", r.AgentKey))
	case *request.Upload:
		a.run.hasChat = true
		a.run.chatID = r.ChatID
		upload := event.NewPayload().
			Set("type", r.UploadType).
			Set("name", r.Name).
			Set("sizeBytes", r.SizeBytes).
			SetNonEmpty("mimeType", r.MimeType).
			SetNonEmpty("sha256", r.SHA256)
		out = a.emit(out, event.TypeRequestUpload, event.NewPayload().
			Set("requestId", r.RequestID).
			Set("chatId", r.ChatID).
			Set("upload", upload))
	case *request.Submit:
		a.run.hasChat, a.run.hasRun = true, true
		a.run.chatID = r.ChatID
		a.run.runID = r.RunID
		out = a.emit(out, event.TypeRequestSubmit, event.NewPayload().
			Set("requestId", r.RequestID).
			Set("chatId", r.ChatID).
			Set("runId", r.RunID).
			Set("toolId", r.ToolID).
			SetNonNil("payload", r.Payload).
			SetNonEmpty("viewId", r.ViewID))
	}
	return out, nil
}

// Complete ends the run as if a RunComplete without finish reason arrived. It
// is a no-op without run context or after termination.
func (a *Assembler) Complete() []*event.Event {
	if !a.run.hasRun || a.run.terminated {
		return nil
	}
	return a.complete("")
}

// Fail ends the run with run.error. Open blocks are closed and the active task
// fails first. It is a no-op without run context or after termination.
func (a *Assembler) Fail(err error) []*event.Event {
	if a.run.terminated {
		return nil
	}
	if !a.run.hasRun {
		log.Warnf("assembler: fail without run context: %v", err)
		return nil
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	out := a.closeAll(nil)
	if a.run.activeTaskID != "" {
		out = a.emit(out, event.TypeTaskFail, event.NewPayload().
			Set("taskId", a.run.activeTaskID).
			Set("runId", a.run.runID).
			Set("error", msg))
		a.run.activeTaskID = ""
	}
	out = a.emit(out, event.TypeRunError, event.NewPayload().
		Set("runId", a.run.runID).
		Set("error", event.NewPayload().
			Set("code", RunErrorCode).
			Set("message", msg).
			Set("retriable", false)))
	a.run.terminated = true
	return out
}

// HasRunContext reports whether the current run has a run id.
func (a *Assembler) HasRunContext() bool { return a.run.hasRun }

// Terminated reports whether the current run has completed or failed.
func (a *Assembler) Terminated() bool { return a.run.terminated }

// RunID returns the resolved run id.
func (a *Assembler) RunID() string { return a.run.runID }

// ChatID returns the chat id of the current run.
func (a *Assembler) ChatID() string { return a.run.chatID }

// PlanID returns the current plan id, if any.
func (a *Assembler) PlanID() string { return a.run.planID }

// ActiveTaskID returns the active task id, if any.
func (a *Assembler) ActiveTaskID() string { return a.run.activeTaskID }

// Seq returns the sequence number of the last emitted event.
func (a *Assembler) Seq() int64 { return a.run.seq }

func (a *Assembler) emit(out []*event.Event, typ string, p *event.Payload) []*event.Event {
	a.run.seq++
	return append(out, event.New(a.run.seq, typ, a.now(), p))
}

func (a *Assembler) closeReasoning(out []*event.Event) []*event.Event {
	if a.run.activeReasoningID == "" {
		return out
	}
	out = a.emit(out, event.TypeReasoningEnd, a.textPayload("reasoningId", a.run.activeReasoningID))
	a.run.activeReasoningID = ""
	return out
}

func (a *Assembler) closeContent(out []*event.Event) []*event.Event {
	if a.run.activeContentID == "" {
		return out
	}
	out = a.emit(out, event.TypeContentEnd, a.textPayload("contentId", a.run.activeContentID))
	a.run.activeContentID = ""
	return out
}

func (a *Assembler) closeText(out []*event.Event) []*event.Event {
	return a.closeContent(a.closeReasoning(out))
}

func (a *Assembler) closeCalls(out []*event.Event, set *callSet) []*event.Event {
	for _, id := range set.openIDs() {
		out = a.emit(out, set.ns.end, event.NewPayload().Set(set.ns.idKey, id))
		set.close(id)
	}
	return out
}

// closeAll closes text blocks, then tools, then actions.
func (a *Assembler) closeAll(out []*event.Event) []*event.Event {
	out = a.closeText(out)
	out = a.closeCalls(out, a.run.tools)
	return a.closeCalls(out, a.run.actions)
}

func (a *Assembler) textPayload(idKey, id string) *event.Payload {
	return event.NewPayload().
		Set(idKey, id).
		Set("runId", a.run.runID).
		SetNonEmpty("taskId", a.run.activeTaskID)
}

func (a *Assembler) complete(finishReason string) []*event.Event {
	if strings.TrimSpace(finishReason) == "" {
		finishReason = DefaultFinishReason
	}
	out := a.closeAll(nil)
	if a.run.activeTaskID != "" {
		out = a.emit(out, event.TypeTaskComplete, event.NewPayload().
			Set("taskId", a.run.activeTaskID).
			Set("runId", a.run.runID))
		a.run.activeTaskID = ""
	}
	out = a.emit(out, event.TypeRunComplete, event.NewPayload().
		Set("runId", a.run.runID).
		Set("finishReason", finishReason))
	a.run.terminated = true
	return out
}

// chatNameOf returns the explicit chat name or the first line of the message,
// shortened.
func chatNameOf(q *request.Query) string {
	if name := strings.TrimSpace(q.ChatName); name != "" {
		return name
	}
	name := strings.TrimSpace(q.Message)
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if utf8.RuneCountInString(name) > chatNameMaxRunes {
		name = string([]rune(name)[:chatNameMaxRunes])
	}
	return name
}

