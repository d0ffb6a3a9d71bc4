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
package anthropic

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

func sseServer(t *testing.T, lines []string, capture *messagesRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{APIKey: "test-key", BaseURL: baseURL})
	require.NoError(t, err)
	return c
}

func TestChatStreamTextDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"type":"message_start"}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Your portfolio"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" is up."}}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
		`data: {"type":"message_stop"}`,
	}, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	deltas, err := c.ChatStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "status?"}}, nil)
	require.NoError(t, err)

	var text string
	var finish string
	for d := range deltas {
		text += d.Content
		if d.FinishReason != "" {
			finish = d.FinishReason
		}
	}
	assert.Equal(t, "Your portfolio is up.", text)
	assert.Equal(t, "stop", finish, "end_turn maps to the neutral stop reason")
}

func TestChatStreamToolUse(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_positions"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"account\":"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"A1\"}"}}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
		`data: {"type":"message_stop"}`,
	}, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	deltas, err := c.ChatStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "positions"}}, nil)
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
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.Equal(t, "get_positions", calls[0].Name)
	assert.JSONEq(t, `{"account":"A1"}`, calls[0].Arguments)
}

func TestChatStreamErrorEvent(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
	}, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	deltas, err := c.ChatStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	var got []llm.Delta
	for d := range deltas {
		got = append(got, d)
	}
	require.Len(t, got, 1)
	require.Error(t, got[0].Err)
	assert.Contains(t, got[0].Err.Error(), "overloaded")
}

func TestConvertMessagesRoles(t *testing.T) {
	var captured messagesRequest
	srv := sseServer(t, []string{`data: {"type":"message_stop"}`}, &captured)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "positions?"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "toolu_1", Name: "get_positions", Arguments: `{"account":"A1"}`}}},
		{Role: llm.RoleTool, ToolCallID: "toolu_1", Name: "get_positions", Content: "AAPL 100"},
	}
	deltas, err := c.ChatStream(context.Background(), messages, []llm.ToolDefinition{{Name: "get_positions"}})
	require.NoError(t, err)
	for range deltas {
	}

	assert.Equal(t, "be brief", captured.System)
	require.Len(t, captured.Messages, 3, "system prompt leaves the message list")

	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, "assistant", captured.Messages[1].Role)
	require.Len(t, captured.Messages[1].Content, 1)
	assert.Equal(t, "tool_use", captured.Messages[1].Content[0].Type)
	assert.Equal(t, "A1", captured.Messages[1].Content[0].Input["account"])

	assert.Equal(t, "user", captured.Messages[2].Role)
	require.Len(t, captured.Messages[2].Content, 1)
	assert.Equal(t, "tool_result", captured.Messages[2].Content[0].Type)
	assert.Equal(t, "toolu_1", captured.Messages[2].Content[0].ToolUseID)

	require.Len(t, captured.Tools, 1)
	assert.JSONEq(t, `{"type":"object"}`, string(captured.Tools[0].InputSchema))
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
