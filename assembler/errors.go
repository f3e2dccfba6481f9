//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package assembler

import (
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-gateway/stream"
)

// ErrProtocol is matched by every protocol violation returned from Consume.
var ErrProtocol = errors.New("assembler: protocol violation")

// ProtocolError describes an out-of-order or contradictory input.
type ProtocolError struct {
	Input  stream.Kind
	Reason string
}

// Error implements error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation on %s: %s", e.Input, e.Reason)
}

// Is makes errors.Is(err, ErrProtocol) true.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func violation(in stream.Input, format string, args ...any) error {
	return &ProtocolError{Input: in.Kind(), Reason: fmt.Sprintf(format, args...)}
}
