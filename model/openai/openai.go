//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides a streaming model.Model for OpenAI compatible chat
// completion endpoints.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/trpc-agent-gateway/internal/idgen"
	"trpc.group/trpc-go/trpc-agent-gateway/log"
	"trpc.group/trpc-go/trpc-agent-gateway/model"
	"trpc.group/trpc-go/trpc-agent-gateway/stream"
	"trpc.group/trpc-go/trpc-agent-gateway/tool"
)

const (
	defaultChannelBufferSize = 256
	// reasoningContentKey is the chunk field thinking models stream reasoning in.
	reasoningContentKey = "reasoning_content"
)

// Model implements model.Model on the chat completions streaming API.
type Model struct {
	client            openai.Client
	name              string
	channelBufferSize int
	extraFields       map[string]any
}

type options struct {
	APIKey            string
	BaseURL           string
	ChannelBufferSize int
	HTTPClient        *http.Client
	OpenAIOptions     []openaiopt.RequestOption
	ExtraFields       map[string]any
}

// Option configures a Model.
type Option func(*options)

// WithAPIKey sets the API key. OPENAI_API_KEY is used when unset.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.APIKey = key
	}
}

// WithBaseURL sets the endpoint base url, e.g. "https://api.openai.com/v1".
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.BaseURL = url
	}
}

// WithChannelBufferSize sets the response channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(o *options) {
		if size <= 0 {
			size = defaultChannelBufferSize
		}
		o.ChannelBufferSize = size
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.HTTPClient = c
	}
}

// WithOpenAIOptions appends raw openai-go request options.
func WithOpenAIOptions(openaiOpts ...openaiopt.RequestOption) Option {
	return func(o *options) {
		o.OpenAIOptions = append(o.OpenAIOptions, openaiOpts...)
	}
}

// WithExtraFields sets extra fields added to the request body, e.g.
// provider specific switches for thinking models.
func WithExtraFields(extraFields map[string]any) Option {
	return func(o *options) {
		if o.ExtraFields == nil {
			o.ExtraFields = make(map[string]any)
		}
		for k, v := range extraFields {
			o.ExtraFields[k] = v
		}
	}
}

// New creates a Model calling the model called name.
func New(name string, opts ...Option) *Model {
	o := &options{ChannelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	if o.HTTPClient != nil {
		clientOpts = append(clientOpts, openaiopt.WithHTTPClient(o.HTTPClient))
	}
	clientOpts = append(clientOpts, o.OpenAIOptions...)
	return &Model{
		client:            openai.NewClient(clientOpts...),
		name:              name,
		channelBufferSize: o.ChannelBufferSize,
		extraFields:       o.ExtraFields,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name}
}

// GenerateContent implements the model.Model interface.
func (m *Model) GenerateContent(ctx context.Context, request *model.Request) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}
	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(request.Messages),
		Tools:    convertTools(request.Tools),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}
	if request.TopP != nil {
		chatRequest.TopP = openai.Float(*request.TopP)
	}
	if len(request.Stop) > 0 {
		chatRequest.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfString: openai.String(request.Stop[0]),
		}
	}
	var opts []openaiopt.RequestOption
	for key, value := range m.extraFields {
		opts = append(opts, openaiopt.WithJSONSet(key, value))
	}

	responseChan := make(chan *model.Response, m.channelBufferSize)
	go func() {
		defer close(responseChan)
		m.handleStreamingResponse(ctx, chatRequest, responseChan, opts...)
	}()
	return responseChan, nil
}

// pendingCall accumulates the fragments of one streamed tool call.
type pendingCall struct {
	id   string
	name string
	args []byte
}

func (m *Model) handleStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
	opts ...openaiopt.RequestOption,
) {
	s := m.client.Chat.Completions.NewStreaming(ctx, chatRequest, opts...)
	defer s.Close()

	acc := openai.ChatCompletionAccumulator{}
	calls := make(map[int64]*pendingCall)
	var id, modelName, finishReason string
	for s.Next() {
		chunk := s.Current()
		acc.AddChunk(chunk)
		if chunk.ID != "" {
			id = chunk.ID
		}
		if chunk.Model != "" {
			modelName = chunk.Model
		}
		d, ok := chunkDelta(chunk, calls)
		if d.FinishReason != "" {
			finishReason = d.FinishReason
		}
		if !ok {
			continue
		}
		if !send(ctx, responseChan, &model.Response{ID: id, Model: modelName, Delta: d}) {
			return
		}
	}
	if err := s.Err(); err != nil {
		log.Warnf("openai: stream of %s failed: %v", m.name, err)
		send(ctx, responseChan, &model.Response{
			ID:    id,
			Model: modelName,
			Done:  true,
			Error: responseError(err),
		})
		return
	}
	final := &model.Response{
		ID:           id,
		Model:        modelName,
		Done:         true,
		ToolCalls:    completedCalls(calls),
		FinishReason: finishReason,
	}
	if acc.Usage.TotalTokens > 0 {
		final.Usage = &model.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		}
	}
	send(ctx, responseChan, final)
}

// chunkDelta maps the first choice of chunk onto a stream delta. Tool call
// fragments are tagged with their call id; providers that omit ids get a
// synthetic one per index.
func chunkDelta(chunk openai.ChatCompletionChunk, calls map[int64]*pendingCall) (stream.Delta, bool) {
	var d stream.Delta
	if len(chunk.Choices) == 0 {
		return d, false
	}
	delta := chunk.Choices[0].Delta
	d.Reasoning = reasoningOf(delta)
	d.Content = delta.Content
	for _, tc := range delta.ToolCalls {
		pc, ok := calls[tc.Index]
		if !ok {
			pc = &pendingCall{id: tc.ID}
			if pc.id == "" {
				pc.id = idgen.New(idgen.PrefixTool)
			}
			calls[tc.Index] = pc
		}
		var name string
		if pc.name == "" && tc.Function.Name != "" {
			pc.name, name = tc.Function.Name, tc.Function.Name
		}
		pc.args = append(pc.args, tc.Function.Arguments...)
		if !ok || name != "" || tc.Function.Arguments != "" {
			d.ToolCalls = append(d.ToolCalls, stream.ToolCall{
				ID:        pc.id,
				Name:      name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	d.FinishReason = chunk.Choices[0].FinishReason
	return d, !d.IsEmpty() || d.FinishReason != ""
}

func reasoningOf(delta openai.ChatCompletionChunkChoiceDelta) string {
	field, ok := delta.JSON.ExtraFields[reasoningContentKey]
	if !ok {
		return ""
	}
	s, err := strconv.Unquote(field.Raw())
	if err != nil {
		return ""
	}
	return s
}

func completedCalls(calls map[int64]*pendingCall) []model.ToolCall {
	indexes := make([]int64, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	var out []model.ToolCall
	for _, idx := range indexes {
		pc := calls[idx]
		if pc.name == "" {
			log.Warnf("openai: dropping nameless tool call %s", pc.id)
			continue
		}
		out = append(out, model.ToolCall{ID: pc.id, Name: pc.name, Arguments: string(pc.args)})
	}
	return out
}

func responseError(err error) *model.ResponseError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &model.ResponseError{
			Type:    model.ErrorTypeAPIError,
			Code:    apiErr.Code,
			Message: apiErr.Message,
		}
	}
	return &model.ResponseError{Type: model.ErrorTypeStreamError, Message: err.Error()}
}

func send(ctx context.Context, ch chan<- *model.Response, rsp *model.Response) bool {
	select {
	case ch <- rsp:
		return true
	case <-ctx.Done():
		return false
	}
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case model.RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: convertToolCalls(msg.ToolCalls),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case model.RoleTool:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
					ToolCallID: msg.ToolID,
				},
			})
		default: // Unknown roles are sent as user messages.
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		}
	}
	return result
}

func convertToolCalls(toolCalls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, toolCall := range toolCalls {
		args := toolCall.Arguments
		if args == "" {
			args = "{}"
		}
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: toolCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      toolCall.Name,
				Arguments: args,
			},
		})
	}
	return result
}

func convertTools(decls []*tool.Declaration) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, decl := range decls {
		if decl == nil {
			continue
		}
		parameters := shared.FunctionParameters{"type": "object", "properties": map[string]any{}}
		if decl.InputSchema != nil {
			schemaBytes, err := json.Marshal(decl.InputSchema)
			if err != nil {
				log.Errorf("failed to marshal tool schema for %s: %v", decl.Name, err)
				continue
			}
			parameters = shared.FunctionParameters{}
			if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
				log.Errorf("failed to unmarshal tool schema for %s: %v", decl.Name, err)
				continue
			}
		}
		fn := openai.FunctionDefinitionParam{
			Name:       decl.Name,
			Parameters: parameters,
		}
		if decl.Description != "" {
			fn.Description = openai.String(decl.Description)
		}
		result = append(result, openai.ChatCompletionToolParam{Function: fn})
	}
	return result
}
