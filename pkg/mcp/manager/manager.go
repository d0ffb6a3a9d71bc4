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
// Package manager provides multi-server orchestration for MCP clients.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/client"
)

// Config holds manager configuration.
type Config struct {
	Timeout time.Duration
	Logger  *zap.Logger
	Dialer  client.Dialer
}

// ToolInfo pairs a discovered tool with its owning server.
type ToolInfo struct {
	ServerID   string      `json:"server_id"`
	ServerName string      `json:"server_name"`
	Tool       client.Tool `json:"tool"`
}

// ServerStatus is a point-in-time status summary for one server.
type ServerStatus struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Enabled       bool                    `json:"enabled"`
	Status        client.ConnectionStatus `json:"status"`
	ToolCount     int                     `json:"tool_count"`
	LastConnected *time.Time              `json:"last_connected,omitempty"`
}

// Manager orchestrates multiple MCP server connections. Registration
// order is preserved: when two servers advertise the same tool name, the
// earlier-registered server wins.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger
	dialer  client.Dialer

	mu      sync.RWMutex
	clients map[string]*client.Client
	order   []string
}

// New creates an empty manager.
func New(config Config) *Manager {
	if config.Timeout <= 0 {
		config.Timeout = client.DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Manager{
		timeout: config.Timeout,
		logger:  config.Logger,
		dialer:  config.Dialer,
		clients: make(map[string]*client.Client),
	}
}

// AddServer connects to a server, discovers its tools, and registers it
// only when both succeed. On failure nothing is registered and the error
// propagates; startup code catches this per server so one bad server
// does not block the rest.
func (m *Manager) AddServer(ctx context.Context, server *client.Server) error {
	if server.ID == "" {
		return fmt.Errorf("server ID is required")
	}

	c, err := client.New(client.Config{
		Server:  server,
		Timeout: m.timeout,
		Logger:  m.logger,
		Dialer:  m.dialer,
	})
	if err != nil {
		return err
	}

	if err := c.Connect(ctx); err != nil {
		m.logger.Error("failed to connect server",
			zap.String("server", server.Name),
			zap.Error(err))
		return err
	}
	if _, err := c.DiscoverTools(ctx); err != nil {
		c.Disconnect()
		m.logger.Error("failed to discover tools",
			zap.String("server", server.Name),
			zap.Error(err))
		return err
	}

	m.mu.Lock()
	if old, ok := m.clients[server.ID]; ok {
		old.Disconnect()
	} else {
		m.order = append(m.order, server.ID)
	}
	m.clients[server.ID] = c
	m.mu.Unlock()
	return nil
}

// RemoveServer disconnects and forgets a server. Removing an unknown id
// is a no-op; callers needing existence checks must query first.
func (m *Manager) RemoveServer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return
	}
	c.Disconnect()
	delete(m.clients, id)
	for i, sid := range m.order {
		if sid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.logger.Info("removed server", zap.String("server_id", id))
}

// Server returns the registered server record by ID.
func (m *Manager) Server(id string) (*client.Server, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, false
	}
	return c.Server(), true
}

// Servers returns all registered server records in registration order.
func (m *Manager) Servers() []*client.Server {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*client.Server, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.clients[id].Server())
	}
	return out
}

// DashboardServers returns connected servers flagged as dashboard data
// sources, in registration order.
func (m *Manager) DashboardServers() []*client.Server {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*client.Server
	for _, id := range m.order {
		c := m.clients[id]
		if srv := c.Server(); srv.UseForDashboard && c.Status() == client.StatusConnected {
			out = append(out, srv)
		}
	}
	return out
}

// AllTools lists every discovered tool across registered servers in
// registration order.
func (m *Manager) AllTools() []ToolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ToolInfo
	for _, id := range m.order {
		srv := m.clients[id].Server()
		for _, name := range sortedToolNames(srv.Tools) {
			out = append(out, ToolInfo{
				ServerID:   srv.ID,
				ServerName: srv.Name,
				Tool:       srv.Tools[name],
			})
		}
	}
	return out
}

// EnabledTools lists enabled tools on enabled servers, the set exposed
// to the language model. Duplicate tool names keep only the first
// registered server's entry.
func (m *Manager) EnabledTools() []ToolInfo {
	seen := make(map[string]bool)
	var out []ToolInfo
	for _, info := range m.AllTools() {
		if !info.Tool.Enabled || seen[info.Tool.Name] {
			continue
		}
		if srv, ok := m.Server(info.ServerID); !ok || !srv.Enabled {
			continue
		}
		seen[info.Tool.Name] = true
		out = append(out, info)
	}
	return out
}

// FindToolServer resolves a tool name to the first registered enabled
// server advertising it as an enabled tool.
func (m *Manager) FindToolServer(toolName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		srv := m.clients[id].Server()
		if !srv.Enabled {
			continue
		}
		if t, ok := srv.Tools[toolName]; ok && t.Enabled {
			return id, true
		}
	}
	return "", false
}

// SetServerEnabled toggles a registered server's participation in tool
// routing. Disabled servers stay connected and registered.
func (m *Manager) SetServerEnabled(serverID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[serverID]
	if !ok {
		return fmt.Errorf("server %s not registered", serverID)
	}
	c.Server().Enabled = enabled
	return nil
}

// SetToolEnabled toggles a tool's availability to the model.
func (m *Manager) SetToolEnabled(serverID, toolName string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[serverID]
	if !ok {
		return fmt.Errorf("server %s not registered", serverID)
	}
	srv := c.Server()
	t, ok := srv.Tools[toolName]
	if !ok {
		return fmt.Errorf("tool %s not found on server %s", toolName, srv.Name)
	}
	t.Enabled = enabled
	srv.Tools[toolName] = t
	return nil
}

// ExecuteTool routes a tool call to the server that owns the tool and
// streams the result events. A server that has dropped its connection or
// failed its last health check is reconnected first. Failures surface as
// error events, never as a
// panic or an unclosed channel.
func (m *Manager) ExecuteTool(ctx context.Context, toolName string, arguments map[string]interface{}) <-chan client.Event {
	serverID, ok := m.FindToolServer(toolName)
	if !ok {
		return errorStream(toolName, fmt.Sprintf("no registered server provides tool %q", toolName))
	}
	return m.ExecuteToolOn(ctx, serverID, toolName, arguments)
}

// ExecuteToolOn invokes a tool on a specific server.
func (m *Manager) ExecuteToolOn(ctx context.Context, serverID, toolName string, arguments map[string]interface{}) <-chan client.Event {
	m.mu.RLock()
	c, ok := m.clients[serverID]
	m.mu.RUnlock()
	if !ok {
		return errorStream(toolName, fmt.Sprintf("server %s not registered", serverID))
	}

	// Gate on status, not transport presence: a server that failed its
	// last health check still holds a transport but needs a fresh
	// handshake before it can be trusted with a call.
	if c.Status() != client.StatusConnected {
		m.logger.Info("reconnecting server before tool call",
			zap.String("server", c.Server().Name),
			zap.String("tool", toolName))
		if err := c.Connect(ctx); err != nil {
			return errorStream(toolName, err.Error())
		}
	}
	return c.ExecuteTool(ctx, toolName, arguments)
}

// HealthCheckAll pings every registered server and updates statuses. A
// connected server that fails its ping is marked errored; a previously
// errored server that answers is marked connected again.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]bool {
	m.mu.RLock()
	clients := make([]*client.Client, 0, len(m.order))
	for _, id := range m.order {
		clients = append(clients, m.clients[id])
	}
	m.mu.RUnlock()

	results := make(map[string]bool, len(clients))
	for _, c := range clients {
		srv := c.Server()
		if !c.Connected() {
			results[srv.ID] = false
			continue
		}
		// The client records the status flip itself, under its own lock.
		healthy := c.HealthCheck(ctx)
		results[srv.ID] = healthy
		if !healthy {
			m.logger.Warn("server failed health check", zap.String("server", srv.Name))
		}
	}
	return results
}

// Status summarizes every registered server in registration order.
// Connection status and timestamps come through the owning client's
// accessors so a health sweep on another goroutine cannot race the read.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.order))
	for _, id := range m.order {
		c := m.clients[id]
		srv := c.Server()
		out = append(out, ServerStatus{
			ID:            srv.ID,
			Name:          srv.Name,
			Enabled:       srv.Enabled,
			Status:        c.Status(),
			ToolCount:     srv.ToolCount(),
			LastConnected: c.LastConnected(),
		})
	}
	return out
}

// DisconnectAll tears down every connection, keeping registrations.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		c.Disconnect()
	}
}

func sortedToolNames(tools map[string]client.Tool) []string {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func errorStream(toolName, msg string) <-chan client.Event {
	ch := make(chan client.Event, 1)
	ch <- client.Event{Type: client.EventError, ToolName: toolName, Err: msg}
	close(ch)
	return ch
}
