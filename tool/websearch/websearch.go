//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package websearch provides a backend tool answering factual lookups through
// the DuckDuckGo Instant Answer API.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-agent-gateway/tool"
	"trpc.group/trpc-go/trpc-agent-gateway/tool/function"
)

const (
	// Name is the tool name exposed to models.
	Name = "web_search"

	maxResults       = 5
	maxTitleLength   = 50
	defaultBaseURL   = "https://api.duckduckgo.com"
	defaultUserAgent = "trpc-agent-gateway-websearch/1.0"
	defaultTimeout   = 30 * time.Second
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("websearch: empty query")

// Option configures the tool.
type Option func(*options)

type options struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// WithBaseURL points the tool at another Instant Answer compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(o *options) {
		o.userAgent = userAgent
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// Input is the tool input.
type Input struct {
	Query string `json:"query"`
}

// Output is the tool result.
type Output struct {
	Query   string `json:"query"`
	Results []Item `json:"results"`
	Summary string `json:"summary"`
}

// Item is a single search hit.
type Item struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type searcher struct {
	opts options
}

// New creates the web_search tool. Transport failures and non-200 answers are
// returned as errors so the executor retries them within the tool budget.
func New(opts ...Option) tool.CallableTool {
	o := options{
		baseURL:    defaultBaseURL,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(&o)
	}
	s := &searcher{opts: o}
	return function.NewFunctionTool(
		s.search,
		function.WithName(Name),
		function.WithDescription("Looks up factual, encyclopedic information such as entities, "+
			"definitions and simple calculations. Not suitable for news, weather or other live data."),
		function.WithInputSchema(&tool.Schema{
			Type:     "object",
			Required: []string{"query"},
			Properties: map[string]*tool.Schema{
				"query": {Type: "string", Description: "The search query"},
			},
		}),
	)
}

type apiResponse struct {
	Definition       string `json:"Definition"`
	DefinitionSource string `json:"DefinitionSource"`
	AbstractText     string `json:"AbstractText"`
	AbstractSource   string `json:"AbstractSource"`
	Answer           string `json:"Answer"`
	RelatedTopics    []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func (s *searcher) search(ctx context.Context, in Input) (Output, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return Output{}, ErrEmptyQuery
	}
	resp, err := s.fetch(ctx, query)
	if err != nil {
		return Output{}, err
	}

	var parts []string
	if resp.Answer != "" {
		parts = append(parts, "Answer: "+resp.Answer)
	}
	if resp.AbstractText != "" {
		parts = append(parts, "Abstract: "+resp.AbstractText)
		if resp.AbstractSource != "" {
			parts = append(parts, "Source: "+resp.AbstractSource)
		}
	}
	if resp.Definition != "" {
		parts = append(parts, "Definition: "+resp.Definition)
		if resp.DefinitionSource != "" {
			parts = append(parts, "Definition Source: "+resp.DefinitionSource)
		}
	}

	results := make([]Item, 0, maxResults)
	for _, topic := range resp.RelatedTopics {
		if len(results) == maxResults {
			break
		}
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		results = append(results, Item{
			Title:       titleOf(topic.Text),
			URL:         topic.FirstURL,
			Description: topic.Text,
		})
	}
	if len(results) == 0 && len(parts) > 0 {
		results = append(results, Item{
			Title:       "DuckDuckGo: " + query,
			URL:         "https://duckduckgo.com/?q=" + url.QueryEscape(query),
			Description: strings.Join(parts, " | "),
		})
	}

	summary := fmt.Sprintf("Found %d results for query '%s'", len(results), query)
	if len(parts) > 0 {
		summary = strings.Join(parts, " | ")
	}
	return Output{Query: query, Results: results, Summary: summary}, nil
}

func (s *searcher) fetch(ctx context.Context, query string) (*apiResponse, error) {
	reqURL := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1",
		s.opts.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("User-Agent", s.opts.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.opts.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: status %d", resp.StatusCode)
	}
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}
	return &out, nil
}

// titleOf takes the part before " - " and caps its length.
func titleOf(text string) string {
	title := strings.TrimSpace(text)
	if i := strings.Index(title, " - "); i > 0 {
		title = strings.TrimSpace(title[:i])
	}
	if len(title) > maxTitleLength {
		return title[:maxTitleLength-3] + "..."
	}
	return title
}
