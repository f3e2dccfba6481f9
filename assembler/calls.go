//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package assembler

import "trpc.group/trpc-go/trpc-agent-gateway/event"

// namespace binds a call set to its wire vocabulary.
type namespace struct {
	idKey, nameKey, typeKey string
	start, args, end, result string
}

var (
	toolNamespace = namespace{
		idKey: "toolId", nameKey: "toolName", typeKey: "toolType",
		start: event.TypeToolStart, args: event.TypeToolArgs,
		end: event.TypeToolEnd, result: event.TypeToolResult,
	}
	actionNamespace = namespace{
		idKey: "actionId", nameKey: "actionName", typeKey: "actionType",
		start: event.TypeActionStart, args: event.TypeActionArgs,
		end: event.TypeActionEnd, result: event.TypeActionResult,
	}
)

// callSet tracks the lifecycle of every id in one namespace:
// start, args*, end, result.
type callSet struct {
	ns       namespace
	known    map[string]struct{}
	open     []string
	chunks   map[string]int
	resulted map[string]struct{}
	// names holds a call name until it has been put on the wire.
	names     map[string]string
	announced map[string]struct{}
}

func newCallSet(ns namespace) *callSet {
	return &callSet{
		ns:        ns,
		known:     make(map[string]struct{}),
		chunks:    make(map[string]int),
		resulted:  make(map[string]struct{}),
		names:     make(map[string]string),
		announced: make(map[string]struct{}),
	}
}

func (s *callSet) isKnown(id string) bool {
	_, ok := s.known[id]
	return ok
}

func (s *callSet) isOpen(id string) bool {
	for _, o := range s.open {
		if o == id {
			return true
		}
	}
	return false
}

func (s *callSet) hasResult(id string) bool {
	_, ok := s.resulted[id]
	return ok
}

func (s *callSet) start(id string) {
	s.known[id] = struct{}{}
	s.open = append(s.open, id)
}

// learnName records the first non-empty name seen for id.
func (s *callSet) learnName(id, name string) {
	if name == "" {
		return
	}
	if _, ok := s.names[id]; !ok {
		s.names[id] = name
	}
}

// takeName returns the name of id once, the first time it is asked for after
// the name became known.
func (s *callSet) takeName(id string) string {
	if _, done := s.announced[id]; done {
		return ""
	}
	name, ok := s.names[id]
	if !ok {
		return ""
	}
	s.announced[id] = struct{}{}
	return name
}

func (s *callSet) close(id string) {
	for i, o := range s.open {
		if o == id {
			s.open = append(s.open[:i], s.open[i+1:]...)
			return
		}
	}
}

// nextChunk returns the chunk index for the next args fragment of id. An
// explicit index wins and moves the counter past it.
func (s *callSet) nextChunk(id string, explicit *int) int {
	idx := s.chunks[id]
	if explicit != nil {
		idx = *explicit
	}
	if idx+1 > s.chunks[id] {
		s.chunks[id] = idx + 1
	}
	return idx
}

// openIDs returns a snapshot of the open ids in start order.
func (s *callSet) openIDs() []string {
	return append([]string(nil), s.open...)
}
