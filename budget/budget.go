//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package budget declares run resource limits and the per-run counters that
// enforce them.
package budget

import (
	"strings"
	"time"
)

// Preset names a predefined set of limits.
type Preset string

// Supported presets.
const (
	PresetDefault Preset = "default"
	PresetLight   Preset = "light"
	PresetHeavy   Preset = "heavy"
)

// Scope holds the limits for one kind of call (model or tool).
type Scope struct {
	// MaxCalls is the maximum number of calls allowed in a run.
	MaxCalls int `yaml:"maxCalls" json:"maxCalls"`
	// TimeoutMs bounds a single call.
	TimeoutMs int64 `yaml:"timeoutMs" json:"timeoutMs"`
	// RetryCount is the number of additional attempts after a failed call.
	RetryCount int `yaml:"retryCount" json:"retryCount"`
}

// Timeout returns the per-call timeout as a duration.
func (s Scope) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Spec is the declarative, unnormalized form of a Budget as it appears in
// agent definitions and configuration files.
type Spec struct {
	Preset       Preset `yaml:"preset" json:"preset"`
	RunTimeoutMs int64  `yaml:"runTimeoutMs" json:"runTimeoutMs"`
	Model        Scope  `yaml:"model" json:"model"`
	Tool         Scope  `yaml:"tool" json:"tool"`
}

// Budget is an immutable, normalized set of run limits.
type Budget struct {
	runTimeoutMs int64
	model        Scope
	tool         Scope
}

type presetLimits struct {
	runTimeoutMs int64
	model        Scope
	tool         Scope
}

var presets = map[Preset]presetLimits{
	PresetDefault: {
		runTimeoutMs: 120_000,
		model:        Scope{MaxCalls: 15, TimeoutMs: 60_000},
		tool:         Scope{MaxCalls: 20, TimeoutMs: 120_000},
	},
	PresetLight: {
		runTimeoutMs: 30_000,
		model:        Scope{MaxCalls: 3, TimeoutMs: 30_000},
		tool:         Scope{MaxCalls: 5, TimeoutMs: 30_000},
	},
	PresetHeavy: {
		runTimeoutMs: 300_000,
		model:        Scope{MaxCalls: 30, TimeoutMs: 120_000},
		tool:         Scope{MaxCalls: 50, TimeoutMs: 300_000},
	},
}

// ParsePreset resolves a preset name case-insensitively. Unknown or empty
// names resolve to PresetDefault.
func ParsePreset(name string) Preset {
	p := Preset(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := presets[p]; ok {
		return p
	}
	return PresetDefault
}

// New normalizes spec into a Budget. Non-positive run timeout, call limits and
// call timeouts fall back to the preset values; negative retry counts become 0.
func New(spec Spec) Budget {
	limits := presets[ParsePreset(string(spec.Preset))]
	runTimeout := spec.RunTimeoutMs
	if runTimeout <= 0 {
		runTimeout = limits.runTimeoutMs
	}
	return Budget{
		runTimeoutMs: runTimeout,
		model:        normalizeScope(spec.Model, limits.model),
		tool:         normalizeScope(spec.Tool, limits.tool),
	}
}

// ForPreset returns the unmodified limits of a preset.
func ForPreset(p Preset) Budget {
	return New(Spec{Preset: p})
}

// Default returns the DEFAULT preset.
func Default() Budget {
	return ForPreset(PresetDefault)
}

func normalizeScope(in, def Scope) Scope {
	out := in
	if out.MaxCalls <= 0 {
		out.MaxCalls = def.MaxCalls
	}
	if out.TimeoutMs <= 0 {
		out.TimeoutMs = def.TimeoutMs
	}
	if out.RetryCount < 0 {
		out.RetryCount = 0
	}
	return out
}

// RunTimeoutMs returns the run wall-clock limit in milliseconds.
func (b Budget) RunTimeoutMs() int64 { return b.runTimeoutMs }

// RunTimeout returns the run wall-clock limit.
func (b Budget) RunTimeout() time.Duration {
	return time.Duration(b.runTimeoutMs) * time.Millisecond
}

// Model returns the model call scope.
func (b Budget) Model() Scope { return b.model }

// Tool returns the tool call scope.
func (b Budget) Tool() Scope { return b.tool }

// Spec returns the explicit form of b, suitable for serialization.
func (b Budget) Spec() Spec {
	return Spec{RunTimeoutMs: b.runTimeoutMs, Model: b.model, Tool: b.tool}
}
