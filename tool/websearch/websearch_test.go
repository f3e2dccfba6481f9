//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-gateway/tool"
)

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "ua-test", r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, args string) (any, error) {
	t.Helper()
	ct := New(WithBaseURL(srv.URL+"/"), WithUserAgent("ua-test"), WithHTTPClient(srv.Client()))
	assert.Equal(t, Name, ct.Declaration().Name)
	return ct.Call(context.Background(), []byte(args))
}

func TestSearch_RelatedTopics(t *testing.T) {
	long := "Go is an open source programming language that makes it simple to build software - more"
	srv := newServer(t, http.StatusOK, `{
		"AbstractText": "Go is a language.",
		"AbstractSource": "Wikipedia",
		"RelatedTopics": [
			{"Text": "`+long+`", "FirstURL": "https://go.dev"},
			{"Text": "Gopher - mascot", "FirstURL": "https://go.dev/blog/gopher"},
			{"Text": "", "FirstURL": "https://skip.example"}
		]}`)
	out, err := call(t, srv, `{"query":"golang"}`)
	require.NoError(t, err)
	res := out.(Output)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "Gopher", res.Results[1].Title)
	assert.LessOrEqual(t, len(res.Results[0].Title), maxTitleLength)
	assert.True(t, strings.HasSuffix(res.Results[0].Title, "..."))
	assert.Equal(t, "Abstract: Go is a language. | Source: Wikipedia", res.Summary)
}

func TestSearch_SummaryOnly(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"Answer": "4"}`)
	out, err := call(t, srv, `{"query":"2+2"}`)
	require.NoError(t, err)
	res := out.(Output)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "Answer: 4", res.Results[0].Description)
	assert.Contains(t, res.Results[0].URL, "q=2%2B2")
}

func TestSearch_Errors(t *testing.T) {
	srv := newServer(t, http.StatusServiceUnavailable, ``)
	_, err := call(t, srv, `{"query":"x"}`)
	assert.EqualError(t, err, "websearch: status 503")
	assert.False(t, tool.IsArgumentError(err))

	ok := newServer(t, http.StatusOK, `{}`)
	_, err = call(t, ok, `{"query":"  "}`)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = call(t, ok, `{}`)
	assert.True(t, tool.IsArgumentError(err))
}
