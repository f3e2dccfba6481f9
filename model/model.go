//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package model defines the LLM delta source a run consumes.
package model

import "context"

// Model is the interface for all language models.
//
// Errors are reported on two layers. GenerateContent returns an error when
// the request cannot be sent at all (nil request, bad parameters). Failures
// after communication started, such as a broken stream or an API error, are
// delivered as a final Response with Error set.
//
//	rspCh, err := m.GenerateContent(ctx, req)
//	if err != nil {
//	    return err
//	}
//	for rsp := range rspCh {
//	    if rsp.Error != nil {
//	        return rsp.Error
//	    }
//	    // forward rsp.Delta ...
//	}
type Model interface {
	// GenerateContent streams the model output for request. The channel is
	// closed after the final response (Done or Error).
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a Model.
type Info struct {
	Name string
}
