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
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/client"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/protocol"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/transport"
)

// scriptedTransport answers per-method with canned results keyed by URL
// so several servers can share one dialer.
type scriptedTransport struct {
	tools    json.RawMessage
	callBody json.RawMessage
	failInit bool
	failPing bool
	calls    []string
}

func (s *scriptedTransport) Call(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	s.calls = append(s.calls, req.Method)
	switch req.Method {
	case protocol.MethodInitialize:
		if s.failInit {
			return nil, errors.New("connection refused")
		}
		return ok(req, json.RawMessage(`{"protocolVersion":"2025-06-18","capabilities":{},"serverInfo":{"name":"s","version":"1"}}`))
	case protocol.MethodToolsList:
		return ok(req, s.tools)
	case protocol.MethodToolsCall:
		return ok(req, s.callBody)
	case protocol.MethodPing:
		if s.failPing {
			return nil, errors.New("timeout")
		}
		return ok(req, json.RawMessage(`{}`))
	}
	return nil, fmt.Errorf("unexpected method %s", req.Method)
}

func (s *scriptedTransport) Notify(context.Context, *protocol.Request) error { return nil }
func (s *scriptedTransport) Close() error                                    { return nil }

func ok(req *protocol.Request, result json.RawMessage) (*protocol.Response, error) {
	return &protocol.Response{JSONRPC: protocol.JSONRPCVersion, ID: req.ID, Result: result}, nil
}

func dialerFor(transports map[string]*scriptedTransport) client.Dialer {
	return func(srv *client.Server, _ time.Duration, _ *zap.Logger) (transport.Transport, error) {
		tr, ok := transports[srv.URL]
		if !ok {
			return nil, fmt.Errorf("no transport for %s", srv.URL)
		}
		return tr, nil
	}
}

func toolList(names ...string) json.RawMessage {
	type td struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	var tools []td
	for _, n := range names {
		tools = append(tools, td{Name: n, Description: n})
	}
	b, _ := json.Marshal(map[string]interface{}{"tools": tools})
	return b
}

func server(id, url string) *client.Server {
	return &client.Server{
		ID:        id,
		Name:      id,
		URL:       url,
		Enabled:   true,
		Transport: client.TransportHTTPFirst,
		Tools:     map[string]client.Tool{},
	}
}

func TestAddServerConnectsAndDiscovers(t *testing.T) {
	transports := map[string]*scriptedTransport{
		"http://a/mcp": {tools: toolList("get_positions", "nl_search")},
	}
	m := New(Config{Dialer: dialerFor(transports)})

	srv := server("a", "http://a/mcp")
	require.NoError(t, m.AddServer(context.Background(), srv))

	assert.Equal(t, client.StatusConnected, srv.ConnectionStatus)
	assert.Equal(t, 2, srv.ToolCount())
	assert.Len(t, m.AllTools(), 2)
}

func TestAddServerFailureDoesNotRegister(t *testing.T) {
	transports := map[string]*scriptedTransport{
		"http://down/mcp": {failInit: true},
	}
	m := New(Config{Dialer: dialerFor(transports)})

	srv := server("down", "http://down/mcp")
	err := m.AddServer(context.Background(), srv)
	require.Error(t, err)

	_, ok := m.Server("down")
	assert.False(t, ok, "failed servers are not registered")
	assert.Equal(t, client.StatusError, srv.ConnectionStatus)
}

func TestRemoveServer(t *testing.T) {
	transports := map[string]*scriptedTransport{
		"http://a/mcp": {tools: toolList("t1")},
	}
	m := New(Config{Dialer: dialerFor(transports)})
	require.NoError(t, m.AddServer(context.Background(), server("a", "http://a/mcp")))

	m.RemoveServer("a")
	_, ok := m.Server("a")
	assert.False(t, ok)

	// Removing an unknown id is a no-op.
	m.RemoveServer("a")
}

func TestToolCollisionFirstRegisteredWins(t *testing.T) {
	transports := map[string]*scriptedTransport{
		"http://first/mcp":  {tools: toolList("nl_search")},
		"http://second/mcp": {tools: toolList("nl_search")},
	}
	m := New(Config{Dialer: dialerFor(transports)})
	require.NoError(t, m.AddServer(context.Background(), server("first", "http://first/mcp")))
	require.NoError(t, m.AddServer(context.Background(), server("second", "http://second/mcp")))

	id, ok := m.FindToolServer("nl_search")
	require.True(t, ok)
	assert.Equal(t, "first", id)

	enabled := m.EnabledTools()
	require.Len(t, enabled, 1)
	assert.Equal(t, "first", enabled[0].ServerID)
}

func TestCollisionFallsThroughDisabledTool(t *testing.T) {
	transports := map[string]*scriptedTransport{
		"http://first/mcp":  {tools: toolList("nl_search")},
		"http://second/mcp": {tools: toolList("nl_search")},
	}
	m := New(Config{Dialer: dialerFor(transports)})
	require.NoError(t, m.AddServer(context.Background(), server("first", "http://first/mcp")))
	require.NoError(t, m.AddServer(context.Background(), server("second", "http://second/mcp")))
	require.NoError(t, m.SetToolEnabled("first", "nl_search", false))

	id, ok := m.FindToolServer("nl_search")
	require.True(t, ok)
	assert.Equal(t, "second", id)
}

func TestExecuteToolRoutesAndReconnects(t *testing.T) {
	tr := &scriptedTransport{
		tools:    toolList("get_positions"),
		callBody: json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`),
	}
	transports := map[string]*scriptedTransport{"http://a/mcp": tr}
	m := New(Config{Dialer: dialerFor(transports)})
	require.NoError(t, m.AddServer(context.Background(), server("a", "http://a/mcp")))

	// Drop the connection; the next call must redo the handshake.
	m.DisconnectAll()
	initCalls := 0
	for _, c := range tr.calls {
		if c == protocol.MethodInitialize {
			initCalls++
		}
	}
	require.Equal(t, 1, initCalls)

	var events []client.Event
	for ev := range m.ExecuteTool(context.Background(), "get_positions", nil) {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, client.EventToolResult, events[0].Type)
	assert.Equal(t, "ok", events[0].ResultText())

	initCalls = 0
	for _, c := range tr.calls {
		if c == protocol.MethodInitialize {
			initCalls++
		}
	}
	assert.Equal(t, 2, initCalls, "disconnected server reconnects before the call")
}

func TestExecuteToolUnknownToolYieldsErrorEvent(t *testing.T) {
	m := New(Config{})

	var events []client.Event
	for ev := range m.ExecuteTool(context.Background(), "missing", nil) {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, client.EventError, events[0].Type)
	assert.Contains(t, events[0].Err, "missing")
}

func TestSetServerEnabled(t *testing.T) {
	transports := map[string]*scriptedTransport{
		"http://a/mcp": {tools: toolList("get_positions")},
	}
	m := New(Config{Dialer: dialerFor(transports)})
	require.NoError(t, m.AddServer(context.Background(), server("a", "http://a/mcp")))

	require.NoError(t, m.SetServerEnabled("a", false))
	_, ok := m.FindToolServer("get_positions")
	assert.False(t, ok, "disabled server should not route tools")

	require.NoError(t, m.SetServerEnabled("a", true))
	id, ok := m.FindToolServer("get_positions")
	require.True(t, ok)
	assert.Equal(t, "a", id)

	assert.Error(t, m.SetServerEnabled("ghost", true))
}

func TestHealthCheckAllUpdatesStatus(t *testing.T) {
	good := &scriptedTransport{tools: toolList("t")}
	bad := &scriptedTransport{tools: toolList("t")}
	transports := map[string]*scriptedTransport{
		"http://good/mcp": good,
		"http://bad/mcp":  bad,
	}
	m := New(Config{Dialer: dialerFor(transports)})
	goodSrv := server("good", "http://good/mcp")
	badSrv := server("bad", "http://bad/mcp")
	require.NoError(t, m.AddServer(context.Background(), goodSrv))
	require.NoError(t, m.AddServer(context.Background(), badSrv))

	bad.failPing = true
	results := m.HealthCheckAll(context.Background())

	assert.True(t, results["good"])
	assert.False(t, results["bad"])
	assert.Equal(t, client.StatusConnected, goodSrv.ConnectionStatus)
	assert.Equal(t, client.StatusError, badSrv.ConnectionStatus)
}

func TestToolCallAfterFailedHealthCheckRehandshakes(t *testing.T) {
	tr := &scriptedTransport{
		tools:    toolList("get_positions"),
		callBody: json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`),
	}
	transports := map[string]*scriptedTransport{"http://a/mcp": tr}
	m := New(Config{Dialer: dialerFor(transports)})
	srv := server("a", "http://a/mcp")
	require.NoError(t, m.AddServer(context.Background(), srv))

	tr.failPing = true
	results := m.HealthCheckAll(context.Background())
	require.False(t, results["a"])
	require.Equal(t, client.StatusError, srv.ConnectionStatus)

	// Server recovers. The next tool call must redo the handshake rather
	// than reuse the transport with a stale errored status.
	tr.failPing = false
	var events []client.Event
	for ev := range m.ExecuteTool(context.Background(), "get_positions", nil) {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, client.EventToolResult, events[0].Type)

	initCalls := 0
	for _, c := range tr.calls {
		if c == protocol.MethodInitialize {
			initCalls++
		}
	}
	assert.Equal(t, 2, initCalls, "errored server re-initializes before the call")
	assert.Equal(t, client.StatusConnected, srv.ConnectionStatus)
}

func TestStatusDuringConcurrentHealthSweeps(t *testing.T) {
	tr := &scriptedTransport{tools: toolList("t")}
	transports := map[string]*scriptedTransport{"http://a/mcp": tr}
	m := New(Config{Dialer: dialerFor(transports)})
	require.NoError(t, m.AddServer(context.Background(), server("a", "http://a/mcp")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			tr.failPing = i%2 == 0
			m.HealthCheckAll(context.Background())
		}
	}()
	for i := 0; i < 50; i++ {
		for _, st := range m.Status() {
			assert.Contains(t,
				[]client.ConnectionStatus{client.StatusConnected, client.StatusError},
				st.Status)
		}
		m.DashboardServers()
	}
	<-done
}

func TestDashboardServers(t *testing.T) {
	transports := map[string]*scriptedTransport{
		"http://a/mcp": {tools: toolList("t")},
		"http://b/mcp": {tools: toolList("t")},
	}
	m := New(Config{Dialer: dialerFor(transports)})
	a := server("a", "http://a/mcp")
	a.UseForDashboard = true
	b := server("b", "http://b/mcp")
	require.NoError(t, m.AddServer(context.Background(), a))
	require.NoError(t, m.AddServer(context.Background(), b))

	dash := m.DashboardServers()
	require.Len(t, dash, 1)
	assert.Equal(t, "a", dash[0].ID)
}

func TestStatusOrder(t *testing.T) {
	transports := map[string]*scriptedTransport{
		"http://a/mcp": {tools: toolList("t1", "t2")},
		"http://b/mcp": {tools: toolList("t3")},
	}
	m := New(Config{Dialer: dialerFor(transports)})
	require.NoError(t, m.AddServer(context.Background(), server("a", "http://a/mcp")))
	require.NoError(t, m.AddServer(context.Background(), server("b", "http://b/mcp")))

	statuses := m.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "a", statuses[0].ID)
	assert.Equal(t, 2, statuses[0].ToolCount)
	assert.Equal(t, "b", statuses[1].ID)
}
