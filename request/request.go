//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package request defines the inbound requests that trigger a run.
package request

import (
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-gateway/internal/idgen"
)

// ErrInvalidRequest is returned when a required request field is missing.
var ErrInvalidRequest = errors.New("request: invalid request")

// Kind names a request variant.
type Kind string

// Request kinds.
const (
	KindQuery  Kind = "query"
	KindUpload Kind = "upload"
	KindSubmit Kind = "submit"
)

// ParamEmitChatStart is an internal Query param. When false the chat.start
// greeting is suppressed. It is never echoed back to the client.
const ParamEmitChatStart = "_emitChatStart"

// DefaultRole is applied to queries without a role.
const DefaultRole = "user"

// Request is one of *Query, *Upload or *Submit.
type Request interface {
	Kind() Kind
	// Normalize fills generated ids and defaults.
	Normalize()
	Validate() error
	isRequest()
}

// Reference points at material attached to a query.
type Reference struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// Query asks an agent to answer a message.
type Query struct {
	RequestID  string         `json:"requestId,omitempty"`
	ChatID     string         `json:"chatId,omitempty"`
	Role       string         `json:"role,omitempty"`
	Message    string         `json:"message"`
	AgentKey   string         `json:"agentKey,omitempty"`
	References []Reference    `json:"references,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Scene      any            `json:"scene,omitempty"`
	Stream     *bool          `json:"stream,omitempty"`
	ChatName   string         `json:"chatName,omitempty"`
	RunID      string         `json:"runId,omitempty"`
}

// Upload announces a file attached to a chat.
type Upload struct {
	RequestID  string `json:"requestId,omitempty"`
	ChatID     string `json:"chatId,omitempty"`
	UploadType string `json:"uploadType"`
	Name       string `json:"name"`
	SizeBytes  int64  `json:"sizeBytes"`
	MimeType   string `json:"mimeType,omitempty"`
	SHA256     string `json:"sha256,omitempty"`
}

// Submit delivers a human response for a waiting frontend tool.
type Submit struct {
	RequestID string `json:"requestId,omitempty"`
	ChatID    string `json:"chatId"`
	RunID     string `json:"runId"`
	ToolID    string `json:"toolId"`
	Payload   any    `json:"payload,omitempty"`
	ViewID    string `json:"viewId,omitempty"`
}

func (*Query) Kind() Kind  { return KindQuery }
func (*Upload) Kind() Kind { return KindUpload }
func (*Submit) Kind() Kind { return KindSubmit }

func (*Query) isRequest()  {}
func (*Upload) isRequest() {}
func (*Submit) isRequest() {}

// Normalize implements Request.
func (q *Query) Normalize() {
	if q.RequestID == "" {
		q.RequestID = idgen.New(idgen.PrefixRequest)
	}
	if q.ChatID == "" {
		q.ChatID = idgen.UUID()
	}
	if q.Role == "" {
		q.Role = DefaultRole
	}
}

// Validate implements Request.
func (q *Query) Validate() error {
	if err := required(q, "chatId", q.ChatID); err != nil {
		return err
	}
	return required(q, "message", q.Message)
}

// IsStream reports whether the client asked for a streamed response. Streaming
// is the default.
func (q *Query) IsStream() bool {
	return q.Stream == nil || *q.Stream
}

// EmitChatStart reports whether the chat.start greeting is requested.
func (q *Query) EmitChatStart() bool {
	v, ok := q.Params[ParamEmitChatStart]
	if !ok {
		return true
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return !strings.EqualFold(b, "false")
	}
	return true
}

// VisibleParams returns a copy of Params without internal keys. It returns nil
// when nothing is left.
func (q *Query) VisibleParams() map[string]any {
	out := make(map[string]any, len(q.Params))
	for k, v := range q.Params {
		if k == ParamEmitChatStart {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Normalize implements Request.
func (u *Upload) Normalize() {
	if u.RequestID == "" {
		u.RequestID = idgen.New(idgen.PrefixRequest)
	}
	if u.ChatID == "" {
		u.ChatID = idgen.UUID()
	}
}

// Validate implements Request.
func (u *Upload) Validate() error {
	for _, f := range [][2]string{{"chatId", u.ChatID}, {"uploadType", u.UploadType}, {"name", u.Name}} {
		if err := required(u, f[0], f[1]); err != nil {
			return err
		}
	}
	if u.SizeBytes < 0 {
		return fmt.Errorf("%w: upload.sizeBytes is negative", ErrInvalidRequest)
	}
	return nil
}

// Normalize implements Request.
func (s *Submit) Normalize() {
	if s.RequestID == "" {
		s.RequestID = idgen.New(idgen.PrefixRequest)
	}
}

// Validate implements Request.
func (s *Submit) Validate() error {
	for _, f := range [][2]string{{"chatId", s.ChatID}, {"runId", s.RunID}, {"toolId", s.ToolID}} {
		if err := required(s, f[0], f[1]); err != nil {
			return err
		}
	}
	return nil
}

// Prepare normalizes and validates r.
func Prepare(r Request) error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	r.Normalize()
	return r.Validate()
}

func required(r Request, field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s.%s is required", ErrInvalidRequest, r.Kind(), field)
	}
	return nil
}
