//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"context"
)

// BeforeModelCallback is called before the model is invoked. It can mutate the request.
// Returns (customResponse, error).
// - customResponse: if not nil, it is used as the final response and the model is not called.
// - error: if not nil, the model call is stopped with this error.
type BeforeModelCallback func(ctx context.Context, req *Request) (*Response, error)

// AfterModelCallback is called with the final response of a model step.
// Returns (customResponse, error).
// - customResponse: if not nil, it replaces the final response.
// - error: if not nil, the step fails with this error.
type AfterModelCallback func(ctx context.Context, req *Request, rsp *Response) (*Response, error)

// Callbacks holds callbacks for model operations.
type Callbacks struct {
	BeforeModel []BeforeModelCallback
	AfterModel  []AfterModelCallback
}

// NewCallbacks creates a new Callbacks instance.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeModel registers a before model callback.
func (c *Callbacks) RegisterBeforeModel(cb BeforeModelCallback) *Callbacks {
	c.BeforeModel = append(c.BeforeModel, cb)
	return c
}

// RegisterAfterModel registers an after model callback.
func (c *Callbacks) RegisterAfterModel(cb AfterModelCallback) *Callbacks {
	c.AfterModel = append(c.AfterModel, cb)
	return c
}

// RunBeforeModel runs all before model callbacks in order.
// If any callback returns a custom response or an error, stop and return.
func (c *Callbacks) RunBeforeModel(ctx context.Context, req *Request) (*Response, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeModel {
		customResponse, err := cb(ctx, req)
		if err != nil {
			return nil, err
		}
		if customResponse != nil {
			return customResponse, nil
		}
	}
	return nil, nil
}

// RunAfterModel runs all after model callbacks in order.
// If any callback returns a custom response or an error, stop and return.
func (c *Callbacks) RunAfterModel(ctx context.Context, req *Request, rsp *Response) (*Response, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.AfterModel {
		customResponse, err := cb(ctx, req, rsp)
		if err != nil {
			return nil, err
		}
		if customResponse != nil {
			return customResponse, nil
		}
	}
	return nil, nil
}
