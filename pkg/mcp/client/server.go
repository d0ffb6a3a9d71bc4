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
// Package client implements the MCP client for connecting to MCP tool servers.
package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransportMode selects how a server prefers to be reached. All modes
// currently resolve to JSON-RPC over HTTP POST; the preference is stored
// and round-tripped so server definitions survive unchanged.
type TransportMode string

const (
	TransportHTTP      TransportMode = "http"
	TransportSSE       TransportMode = "sse"
	TransportHTTPFirst TransportMode = "http-first"
	TransportSSEFirst  TransportMode = "sse-first"
)

// ParseTransportMode validates a transport mode string.
func ParseTransportMode(s string) (TransportMode, error) {
	switch TransportMode(s) {
	case TransportHTTP, TransportSSE, TransportHTTPFirst, TransportSSEFirst:
		return TransportMode(s), nil
	case "":
		return TransportHTTPFirst, nil
	default:
		return "", fmt.Errorf("invalid transport mode: %q", s)
	}
}

// ConnectionStatus tracks the health of a server connection.
type ConnectionStatus string

const (
	StatusUnknown      ConnectionStatus = "unknown"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Continuation-identifier locations. Some servers thread a conversation
// through an opaque token; the token either appears somewhere in tool-call
// responses or must be sent back as a tool-call parameter.
const (
	ConversationInResponse = "response"
	ConversationInParams   = "params"
)

// Tool represents a tool advertised by an MCP server. Tools are immutable
// once discovered; rediscovery replaces the server's whole tool map.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON-Schema parameter spec, verbatim
	Enabled     bool            `json:"enabled"`
}

// Server represents an MCP server configuration together with its
// discovered tool catalog and connection bookkeeping.
type Server struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	URL       string        `json:"url"`
	APIKey    string        `json:"api_key,omitempty"`
	Transport TransportMode `json:"transport"`
	Enabled   bool          `json:"enabled"`

	// Tools is owned by the server record and replaced wholesale on each
	// discovery cycle, never patched in place.
	Tools map[string]Tool `json:"tools"`

	LastConnected    *time.Time       `json:"last_connected,omitempty"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`

	// ConversationField names the server's continuation identifier;
	// ConversationLocation says where it travels ("response" or "params").
	ConversationField    string `json:"conversation_field,omitempty"`
	ConversationLocation string `json:"conversation_location,omitempty"`

	// UseForDashboard marks the server as a designated source for
	// dashboard-enhancement data.
	UseForDashboard bool `json:"use_for_dashboard"`
}

// HasTool reports whether the server currently advertises the named tool.
func (s *Server) HasTool(name string) bool {
	_, ok := s.Tools[name]
	return ok
}

// ToolCount returns the number of discovered tools.
func (s *Server) ToolCount() int {
	return len(s.Tools)
}
