// Copyright 2026 Jeff Vestal
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package azureopenai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/llm"
)

func sseServer(t *testing.T, lines []string, capture *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		assert.Contains(t, r.URL.Path, "/openai/deployments/gpt-4o/chat/completions")
		assert.Equal(t, "2024-10-21", r.URL.Query().Get("api-version"))
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Endpoint:     endpoint,
		DeploymentID: "gpt-4o",
		APIKey:       "test-key",
	})
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, deltas <-chan llm.Delta) []llm.Delta {
	t.Helper()
	var out []llm.Delta
	for d := range deltas {
		out = append(out, d)
	}
	return out
}

func TestChatStreamContent(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" world"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"after done, never seen"}}]}`,
	}, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	deltas, err := c.ChatStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	got := collect(t, deltas)
	require.Len(t, got, 3)
	assert.Equal(t, "Hello", got[0].Content)
	assert.Equal(t, " world", got[1].Content)
	assert.Equal(t, "stop", got[2].FinishReason)
}

func TestChatStreamToolCallFragments(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"nl_search"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"fed rates\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	}, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	deltas, err := c.ChatStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "news?"}}, nil)
	require.NoError(t, err)

	acc := llm.NewToolCallAccumulator()
	var finish string
	for d := range deltas {
		for _, tc := range d.ToolCalls {
			acc.Add(tc)
		}
		if d.FinishReason != "" {
			finish = d.FinishReason
		}
	}
	assert.Equal(t, "tool_calls", finish)

	calls := acc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "nl_search", calls[0].Name)
	assert.JSONEq(t, `{"query":"fed rates"}`, calls[0].Arguments)
}

func TestChatStreamErrorObjectAborts(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
		`data: {"error":{"message":"rate limit exceeded","code":"429"}}`,
		`data: {"choices":[{"delta":{"content":"never delivered"}}]}`,
	}, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	deltas, err := c.ChatStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	got := collect(t, deltas)
	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0].Content)
	require.Error(t, got[1].Err)
	assert.Contains(t, got[1].Err.Error(), "rate limit exceeded")
}

func TestChatStreamNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad deployment"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.ChatStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestRequestShape(t *testing.T) {
	var captured chatRequest
	srv := sseServer(t, []string{`data: [DONE]`}, &captured)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "be helpful"},
		{Role: llm.RoleUser, Content: "positions?"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "get_positions", Arguments: "{}"}}},
		{Role: llm.RoleTool, ToolCallID: "call_1", Name: "get_positions", Content: "AAPL 100"},
	}
	tools := []llm.ToolDefinition{{Name: "get_positions", Description: "positions", Parameters: json.RawMessage(`{"type":"object"}`)}}

	deltas, err := c.ChatStream(context.Background(), messages, tools)
	require.NoError(t, err)
	collect(t, deltas)

	assert.True(t, captured.Stream)
	assert.Equal(t, "auto", captured.ToolChoice)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "function", captured.Tools[0].Type)
	require.Len(t, captured.Messages, 4)
	assert.Equal(t, "call_1", captured.Messages[3].ToolCallID)
	require.Len(t, captured.Messages[2].ToolCalls, 1)
	assert.Equal(t, "get_positions", captured.Messages[2].ToolCalls[0].Function.Name)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{DeploymentID: "d", APIKey: "k"})
	assert.Error(t, err)
	_, err = NewClient(Config{Endpoint: "https://r.openai.azure.com", APIKey: "k"})
	assert.Error(t, err)
	_, err = NewClient(Config{Endpoint: "https://r.openai.azure.com", DeploymentID: "d"})
	assert.Error(t, err)
}
