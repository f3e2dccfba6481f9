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
	"sort"
	"sync"
)

// activeRuns tracks the runs being driven, keyed by run id.
type activeRuns struct {
	mu   sync.Mutex
	runs map[string]string
}

func newActiveRuns() *activeRuns {
	return &activeRuns{runs: make(map[string]string)}
}

// acquire registers runID for chatID. It fails if the run is already active.
func (a *activeRuns) acquire(runID, chatID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.runs[runID]; ok {
		return false
	}
	a.runs[runID] = chatID
	return true
}

func (a *activeRuns) release(runID string) {
	a.mu.Lock()
	delete(a.runs, runID)
	a.mu.Unlock()
}

func (a *activeRuns) chatOf(runID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	chatID, ok := a.runs[runID]
	return chatID, ok
}

func (a *activeRuns) ids() []string {
	a.mu.Lock()
	out := make([]string, 0, len(a.runs))
	for id := range a.runs {
		out = append(out, id)
	}
	a.mu.Unlock()
	sort.Strings(out)
	return out
}
