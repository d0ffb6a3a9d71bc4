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
// Package llm defines provider-neutral chat types and the streaming
// provider interface.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested tool use.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool messages carrying a result.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a completed tool invocation request from the model.
// Arguments is the raw JSON argument text as streamed.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model. Parameters is a
// JSON-Schema object, passed through verbatim from discovery.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Delta is one streamed increment of a model response. Exactly one of
// the fields is normally populated; Err aborts the stream.
type Delta struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
	Err          error
}

// ToolCallDelta is a fragment of a tool call. Providers stream the id
// and name early and the argument JSON in pieces, all keyed by Index.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// StreamProvider streams chat completions. The returned channel is
// closed when the response is complete or aborted; after a Delta with a
// non-nil Err no further deltas arrive.
type StreamProvider interface {
	Name() string
	Model() string
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan Delta, error)
}
