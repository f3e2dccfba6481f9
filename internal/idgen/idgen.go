//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package idgen generates short prefixed identifiers for runs and stream blocks.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Semantic prefixes for synthetic ids.
const (
	PrefixRun       = "run"
	PrefixRequest   = "req"
	PrefixReasoning = "reasoning"
	PrefixContent   = "content"
	PrefixTool      = "tool"
	PrefixAction    = "action"
	PrefixTask      = "task"
	PrefixPlan      = "plan"
)

// tokenLen is the number of hex characters kept from a random uuid.
const tokenLen = 12

// New returns "<prefix>_<token>" where token is an opaque random hex string.
// Uniqueness is probabilistic.
func New(prefix string) string {
	token := Token()
	if prefix == "" {
		return token
	}
	return prefix + "_" + token
}

// Token returns a short random hex token.
func Token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:tokenLen]
}

// UUID returns a full random uuid, used for chat ids.
func UUID() string {
	return uuid.NewString()
}
