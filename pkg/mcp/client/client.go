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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/protocol"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/transport"
)

const (
	clientName    = "Portfolio-Pilot-AI"
	clientVersion = "1.0.0"

	// DefaultTimeout bounds individual JSON-RPC calls.
	DefaultTimeout = 30 * time.Second
)

// Dialer creates a transport for a server. Overridable in tests.
type Dialer func(server *Server, timeout time.Duration, logger *zap.Logger) (transport.Transport, error)

func httpDialer(server *Server, timeout time.Duration, logger *zap.Logger) (transport.Transport, error) {
	return transport.NewHTTPTransport(transport.HTTPConfig{
		Endpoint: server.URL,
		APIKey:   server.APIKey,
		Timeout:  timeout,
		Logger:   logger,
	})
}

// Config holds client configuration.
type Config struct {
	Server  *Server
	Timeout time.Duration
	Logger  *zap.Logger
	Dialer  Dialer
}

// Client speaks the MCP protocol to a single tool server. A client owns
// the connection lifecycle for its server record and updates the record's
// status, timestamp, and tool catalog as it goes.
type Client struct {
	server  *Server
	timeout time.Duration
	logger  *zap.Logger
	dial    Dialer

	mu sync.Mutex
	tr transport.Transport
}

// New creates a client for the given server.
func New(config Config) (*Client, error) {
	if config.Server == nil {
		return nil, errors.New("server is required")
	}
	if config.Server.URL == "" {
		return nil, errors.New("server URL is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Dialer == nil {
		config.Dialer = httpDialer
	}
	return &Client{
		server:  config.Server,
		timeout: config.Timeout,
		logger:  config.Logger.With(zap.String("server", config.Server.Name)),
		dial:    config.Dialer,
	}, nil
}

// Server returns the server record this client manages.
func (c *Client) Server() *Server { return c.server }

// Connected reports whether the client currently holds a live transport.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr != nil
}

// Status returns the server's connection status. The status and
// last-connected fields on the server record are owned by this client
// and mutated under its lock; concurrent readers must come through
// Status and LastConnected rather than the record itself.
func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.ConnectionStatus
}

// LastConnected returns when the last successful handshake completed,
// or nil if the server has never connected.
func (c *Client) LastConnected() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.LastConnected
}

// Connect performs the MCP handshake: open the transport, send initialize,
// then send the initialized notification. On success the server record is
// marked connected and timestamped; on failure it is marked errored and
// the transport is torn down. Connecting while already connected re-runs
// the handshake over the existing transport; the handshake is repeatable.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tr := c.tr
	if tr == nil {
		var err error
		tr, err = c.dial(c.server, c.timeout, c.logger)
		if err != nil {
			c.server.ConnectionStatus = StatusError
			return &ConnectionError{URL: c.server.URL, Err: err}
		}
	}

	initParams := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities: protocol.ClientCapabilities{
			Tools:   &protocol.ToolsCapability{},
			Logging: &protocol.LoggingCapability{},
		},
		ClientInfo: protocol.Implementation{
			Name:    clientName,
			Version: clientVersion,
		},
	}

	result, err := callOn(ctx, tr, protocol.MethodInitialize, initParams)
	if err != nil {
		tr.Close()
		c.tr = nil
		c.server.ConnectionStatus = StatusError
		return &ConnectionError{URL: c.server.URL, Err: err}
	}
	initResult, err := protocol.ParseInitializeResult(result)
	if err != nil {
		tr.Close()
		c.tr = nil
		c.server.ConnectionStatus = StatusError
		return &ConnectionError{URL: c.server.URL, Err: err}
	}

	// The initialized notification is fire-and-forget; transport failures
	// are logged there and never fail the handshake.
	notif, err := protocol.NewNotification(protocol.MethodInitialized, nil)
	if err == nil {
		_ = tr.Notify(ctx, notif)
	}

	c.tr = tr
	now := time.Now().UTC()
	c.server.LastConnected = &now
	c.server.ConnectionStatus = StatusConnected
	c.logger.Info("connected to MCP server",
		zap.String("url", c.server.URL),
		zap.String("protocol_version", initResult.ProtocolVersion),
		zap.String("server_name", initResult.ServerInfo.Name))
	return nil
}

// Disconnect closes the transport. Safe to call when not connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tr == nil {
		c.server.ConnectionStatus = StatusDisconnected
		return nil
	}
	err := c.tr.Close()
	c.tr = nil
	c.server.ConnectionStatus = StatusDisconnected
	if err != nil {
		c.logger.Warn("error closing transport", zap.Error(err))
	}
	return err
}

// DiscoverTools lists the server's tools and replaces its catalog
// wholesale. Discovered tools start enabled. Parameter schemas that fail
// to compile are kept but logged; the server is authoritative for its
// own tool contracts.
func (c *Client) DiscoverTools(ctx context.Context) (map[string]Tool, error) {
	result, err := c.call(ctx, protocol.MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	listed, err := protocol.ParseToolListResult(result)
	if err != nil {
		return nil, &ClientError{Op: "tools/list", Err: err}
	}

	tools := make(map[string]Tool, len(listed.Tools))
	for _, td := range listed.Tools {
		schema := td.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		} else if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema)); err != nil {
			c.logger.Warn("tool advertises an uncompilable parameter schema",
				zap.String("tool", td.Name),
				zap.Error(err))
		}
		tools[td.Name] = Tool{
			Name:        td.Name,
			Description: td.Description,
			Parameters:  schema,
			Enabled:     true,
		}
	}

	c.mu.Lock()
	c.server.Tools = tools
	c.mu.Unlock()

	c.logger.Info("discovered tools", zap.Int("count", len(tools)))
	return tools, nil
}

// HealthCheck pings the server, records the outcome on the server
// record, and reports liveness. A failed ping marks the server errored;
// a successful ping from a previously errored server marks it connected
// again. It never returns an error; an unreachable server is simply
// unhealthy.
func (c *Client) HealthCheck(ctx context.Context) bool {
	_, err := c.call(ctx, protocol.MethodPing, nil)

	c.mu.Lock()
	if err != nil {
		c.server.ConnectionStatus = StatusError
	} else {
		c.server.ConnectionStatus = StatusConnected
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("health check failed", zap.Error(err))
		return false
	}
	return true
}

// ExecuteTool invokes a tool and streams the outcome as a finite sequence
// of events. Result content items are emitted one event each, tagged with
// the tool name and the full raw response. Failures, including an unknown
// tool name, surface as a single error event; the channel never carries a
// Go error and is always closed.
func (c *Client) ExecuteTool(ctx context.Context, name string, arguments map[string]interface{}) <-chan Event {
	ch := make(chan Event, 1)
	go func() {
		defer close(ch)

		emit := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !c.server.HasTool(name) {
			emit(Event{Type: EventError, ToolName: name, Err: fmt.Sprintf("tool %q not found on server %s", name, c.server.Name)})
			return
		}

		params := protocol.CallToolParams{Name: name, Arguments: arguments}
		result, err := c.call(ctx, protocol.MethodToolsCall, params)
		if err != nil {
			c.logger.Error("tool execution failed",
				zap.String("tool", name),
				zap.Error(err))
			emit(Event{Type: EventError, ToolName: name, Err: err.Error()})
			return
		}
		callResult, err := protocol.ParseCallToolResult(result)
		if err != nil {
			emit(Event{Type: EventError, ToolName: name, Err: err.Error()})
			return
		}

		if len(callResult.Content) == 0 {
			emit(Event{Type: EventToolResult, ToolName: name, Raw: callResult})
			return
		}
		for i := range callResult.Content {
			if !emit(Event{
				Type:     EventToolResult,
				ToolName: name,
				Content:  &callResult.Content[i],
				Raw:      callResult,
			}) {
				return
			}
		}
	}()
	return ch
}

// call issues a JSON-RPC request with a fresh UUID id and unwraps the
// response, mapping JSON-RPC error members to ClientError.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return nil, &ConnectionError{URL: c.server.URL, Err: errors.New("not connected")}
	}
	return callOn(ctx, tr, method, params)
}

func callOn(ctx context.Context, tr transport.Transport, method string, params interface{}) (json.RawMessage, error) {
	id := protocol.NewStringRequestID(uuid.New().String())
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, &ClientError{Op: method, Err: err}
	}
	resp, err := tr.Call(ctx, req)
	if err != nil {
		return nil, &ClientError{Op: method, Err: err}
	}
	if resp.Error != nil {
		return nil, &ClientError{Op: method, Err: fmt.Errorf("server error %d: %s", resp.Error.Code, resp.Error.Message)}
	}
	if len(resp.Result) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return resp.Result, nil
}
