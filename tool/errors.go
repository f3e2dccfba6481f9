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
)

// ArgumentError reports arguments a tool cannot accept. It is never retried.
type ArgumentError struct {
	Tool string
	Err  error
}

// NewArgumentError wraps err as an argument error of the named tool.
func NewArgumentError(toolName string, err error) *ArgumentError {
	return &ArgumentError{Tool: toolName, Err: err}
}

// Error implements error.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying error.
func (e *ArgumentError) Unwrap() error { return e.Err }

// IsArgumentError reports whether err is, or wraps, an *ArgumentError.
func IsArgumentError(err error) bool {
	var ae *ArgumentError
	return errors.As(err, &ae)
}
