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
	"errors"
	"strings"

	"trpc.group/trpc-go/trpc-agent-gateway/budget"
	"trpc.group/trpc-go/trpc-agent-gateway/model"
	"trpc.group/trpc-go/trpc-agent-gateway/tool"
)

// Agent is a model, its instruction, tools and budget, selected by the
// agentKey of a query.
type Agent struct {
	Key         string
	Model       model.Model
	Instruction string
	// Tools may be nil for an agent without tools.
	Tools *tool.Registry
	// Budget defaults to the DEFAULT preset when zero.
	Budget           budget.Budget
	GenerationConfig model.GenerationConfig
}

func (a *Agent) validate() error {
	if strings.TrimSpace(a.Key) == "" {
		return errors.New("runner: agent key is empty")
	}
	if a.Model == nil {
		return errors.New("runner: agent " + a.Key + " has no model")
	}
	return nil
}

func (a *Agent) budget() budget.Budget {
	if a.Budget == (budget.Budget{}) {
		return budget.Default()
	}
	return a.Budget
}

func (a *Agent) declarations() []*tool.Declaration {
	if a.Tools == nil {
		return nil
	}
	return a.Tools.Declarations()
}

func (a *Agent) tools() map[string]tool.Tool {
	if a.Tools == nil {
		return nil
	}
	return a.Tools.Map()
}

func (a *Agent) kind(name string) tool.Kind {
	if a.Tools == nil {
		return tool.KindBackend
	}
	return a.Tools.Kind(name)
}
