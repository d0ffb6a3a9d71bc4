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
package client

import (
	"encoding/json"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/protocol"
)

// EventType discriminates tool-execution stream events.
type EventType string

const (
	EventToolResult EventType = "tool_result"
	EventError      EventType = "error"
)

// Event is one element of a tool-execution stream. Result events carry
// either a single content item or, when the response had no content
// array, just the raw response. Raw is always the complete tool response
// so callers can scan it for continuation identifiers.
type Event struct {
	Type     EventType
	ToolName string
	Content  *protocol.Content
	Raw      *protocol.CallToolResult
	Err      string
}

// ResultText renders the event's payload as text for the model
// transcript. Text content is passed through; anything else is JSON.
func (e Event) ResultText() string {
	if e.Type == EventError {
		return e.Err
	}
	if e.Content != nil {
		if e.Content.Type == "text" {
			return e.Content.Text
		}
		b, err := json.Marshal(e.Content)
		if err == nil {
			return string(b)
		}
	}
	if e.Raw != nil {
		b, err := json.Marshal(e.Raw)
		if err == nil {
			return string(b)
		}
	}
	return ""
}
