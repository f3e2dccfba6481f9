//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package server exposes runs over HTTP. Queries stream their wire events as
// server-sent events; uploads and submits answer with JSON.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-agent-gateway/event"
	"trpc.group/trpc-go/trpc-agent-gateway/log"
	"trpc.group/trpc-go/trpc-agent-gateway/request"
	"trpc.group/trpc-go/trpc-agent-gateway/runner"
	"trpc.group/trpc-go/trpc-agent-gateway/submit"
)

// sseEventName is the SSE event field of every streamed wire event.
const sseEventName = "message"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// runIDHeader carries the run id of a streamed query.
const runIDHeader = "X-Run-Id"

// Server serves the gateway endpoints.
type Server struct {
	runner  *runner.Runner
	router  *mux.Router
	handler http.Handler

	basePath       string
	allowedOrigins []string
}

// Option configures the Server instance.
type Option func(*Server)

// WithBasePath mounts every endpoint under path, e.g. "/api".
func WithBasePath(path string) Option {
	return func(s *Server) { s.basePath = strings.TrimRight(path, "/") }
}

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// New creates a Server driving runs with rn.
func New(rn *runner.Runner, opts ...Option) *Server {
	s := &Server{
		runner:         rn,
		router:         mux.NewRouter(),
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Type", runIDHeader},
	})
	s.handler = c.Handler(s.router)
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) registerRoutes() {
	r := s.router
	if s.basePath != "" {
		r = s.router.PathPrefix(s.basePath).Subrouter()
	}
	r.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/submit", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q request.Query
	if !s.decode(w, r, &q) {
		return
	}
	out, err := s.runner.Run(r.Context(), &q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !q.IsStream() {
		evs := make([]*event.Event, 0)
		for ev := range out {
			evs = append(evs, ev)
		}
		s.writeJSON(w, http.StatusOK, evs)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		// The run is already started; drain it so it can finish.
		for range out {
		}
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(runIDHeader, q.RunID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for ev := range out {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Errorf("server: marshal event %d of run %s: %v", ev.Seq, q.RunID, err)
			continue
		}
		if err := sse.Encode(w, sse.Event{Event: sseEventName, Data: string(data)}); err != nil {
			log.Warnf("server: write event of run %s: %v", q.RunID, err)
			continue
		}
		flusher.Flush()
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var u request.Upload
	if !s.decode(w, r, &u) {
		return
	}
	evs, err := s.runner.Upload(&u)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, evs)
}

// submitResponse is the answer of the submit endpoint.
type submitResponse struct {
	submit.Ack
	Events []*event.Event `json:"events,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req request.Submit
	if !s.decode(w, r, &req) {
		return
	}
	ack, echo, err := s.runner.Submit(&req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	log.Debugf("server: submit run=%s tool=%s: %s", req.RunID, req.ToolID, ack.Status)
	s.writeJSON(w, http.StatusOK, submitResponse{Ack: ack, Events: echo})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"activeRuns": len(s.runner.ActiveRuns()),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid body: %v", err)})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, request.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, runner.ErrUnknownAgent):
		status = http.StatusNotFound
	case errors.Is(err, runner.ErrRunInProgress):
		status = http.StatusConflict
	default:
		log.Errorf("server: %v", err)
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("server: write response: %v", err)
	}
}
