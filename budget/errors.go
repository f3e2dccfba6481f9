//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package budget

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded is matched by every *ExceededError.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Limit names used in ExceededError.
const (
	LimitRunTimeout    = "runTimeoutMs"
	LimitModelMaxCalls = "model.maxCalls"
	LimitToolMaxCalls  = "tool.maxCalls"
)

// ExceededError reports which limit a run ran into.
type ExceededError struct {
	// Limit is one of the Limit* names.
	Limit string
	// Value is the configured value of the limit.
	Value int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s=%d", e.Limit, e.Value)
}

// Is reports whether target is ErrBudgetExceeded.
func (e *ExceededError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// AsExceededError unwraps err into an *ExceededError.
func AsExceededError(err error) (*ExceededError, bool) {
	var ee *ExceededError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
