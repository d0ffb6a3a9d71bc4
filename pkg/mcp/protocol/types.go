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
// Package protocol implements MCP protocol types for the Model Context Protocol.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP protocol version supported by this implementation
const ProtocolVersion = "2025-06-18"

// MCP method names used by the client.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
)

// InitializeParams contains parameters for the initialize request
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult contains the server's response to initialize
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      Implementation         `json:"serverInfo"`
}

// Implementation describes client or server implementation details
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities declares what the client supports
type ClientCapabilities struct {
	Tools   *ToolsCapability   `json:"tools,omitempty"`
	Logging *LoggingCapability `json:"logging,omitempty"`
}

// Capability markers (empty structs indicate support)
type ToolsCapability struct{}
type LoggingCapability struct{}

// ToolDescriptor is a tool definition as returned by tools/list
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"` // JSON Schema
}

// ToolListResult is the response from tools/list
type ToolListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// CallToolParams contains parameters for tools/call
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// CallToolResult is the response from tools/call. Extra is retained so
// callers can scan the raw result for server-specific fields such as
// conversation-continuation identifiers.
type CallToolResult struct {
	Content []Content `json:"content,omitempty"`
	IsError bool      `json:"isError,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps both the typed fields and the raw result members.
func (r *CallToolResult) UnmarshalJSON(data []byte) error {
	type alias CallToolResult
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var extra map[string]json.RawMessage
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	*r = CallToolResult(a)
	r.Extra = extra
	return nil
}

// Content represents different types of content (text, image, resource)
type Content struct {
	Type     string `json:"type"` // "text", "image", "resource"
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`     // Base64 for images
	MimeType string `json:"mimeType,omitempty"` // For images/resources
}

// ParseInitializeResult decodes and validates an initialize result payload.
func ParseInitializeResult(raw json.RawMessage) (*InitializeResult, error) {
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed initialize result: %w", err)
	}
	return &result, nil
}

// ParseToolListResult decodes and validates a tools/list result payload.
func ParseToolListResult(raw json.RawMessage) (*ToolListResult, error) {
	var result ToolListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed tools/list result: %w", err)
	}
	for i, tool := range result.Tools {
		if tool.Name == "" {
			return nil, fmt.Errorf("tools/list result: tool %d has no name", i)
		}
	}
	return &result, nil
}

// ParseCallToolResult decodes a tools/call result payload.
func ParseCallToolResult(raw json.RawMessage) (*CallToolResult, error) {
	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed tools/call result: %w", err)
	}
	return &result, nil
}
