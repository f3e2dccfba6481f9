//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Registry resolves tool names. It is filled at startup and read-only while
// runs execute.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names must be non-blank and unique.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Declaration() == nil {
		return errors.New("tool: nil tool or declaration")
	}
	name := t.Declaration().Name
	if strings.TrimSpace(name) == "" {
		return errors.New("tool: blank tool name")
	}
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool: duplicate tool %q", name)
	}
	r.tools[name] = t
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Kind classifies name. Unknown names are backend tools, so a missing tool is
// reported as a failed call rather than awaited.
func (r *Registry) Kind(name string) Kind {
	t, ok := r.tools[name]
	if !ok {
		return KindBackend
	}
	return KindOf(t)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Declarations returns the declarations sorted by name.
func (r *Registry) Declarations() []*Declaration {
	out := make([]*Declaration, 0, len(r.tools))
	for _, n := range r.Names() {
		out = append(out, r.tools[n].Declaration())
	}
	return out
}

// Map returns a copy of the name to tool map.
func (r *Registry) Map() map[string]Tool {
	out := make(map[string]Tool, len(r.tools))
	for n, t := range r.tools {
		out[n] = t
	}
	return out
}

// Subset returns a registry restricted to names. An empty list keeps every
// tool. Unknown names are an error.
func (r *Registry) Subset(names []string) (*Registry, error) {
	if len(names) == 0 {
		return &Registry{tools: r.Map()}, nil
	}
	sub := &Registry{tools: make(map[string]Tool, len(names))}
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			return nil, fmt.Errorf("tool: unknown tool %q", n)
		}
		sub.tools[n] = t
	}
	return sub, nil
}
