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
// Package transport implements the HTTP request/response transport for MCP servers.
package transport

import (
	"context"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/protocol"
)

// Transport abstracts the wire layer between a Protocol Client and one
// remote MCP server. Implementations must be safe for concurrent use: two
// tool calls against the same server may be in flight at once.
type Transport interface {
	// Call sends a request and waits for its correlated response.
	Call(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

	// Notify sends a notification. Notifications are best-effort: wire
	// failures are logged by the implementation, not returned.
	Notify(ctx context.Context, req *protocol.Request) error

	// Close releases the underlying connection resources.
	Close() error
}
