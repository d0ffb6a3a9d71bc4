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
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/protocol"
	"go.uber.org/zap"
)

// UserAgent identifies this client on every request.
const UserAgent = "Portfolio-Pilot-AI/1.0"

// AuthScheme is the Authorization header scheme used for server credentials.
const AuthScheme = "ApiKey"

// DefaultRequestTimeout bounds a single request/response cycle.
const DefaultRequestTimeout = 30 * time.Second

// HTTPTransport implements Transport via JSON-RPC over HTTP POST.
// Every request is a single POST to the server's configured URL.
type HTTPTransport struct {
	endpoint   string
	headers    map[string]string
	httpClient *http.Client
	logger     *zap.Logger

	mu     sync.Mutex
	closed bool
}

// HTTPConfig configures HTTP transport
type HTTPConfig struct {
	Endpoint string        // Server URL, POST target for every request
	APIKey   string        // Optional credential, sent as "Authorization: ApiKey <key>"
	Timeout  time.Duration // Per-request timeout (default: 30s)
	Logger   *zap.Logger
}

// NewHTTPTransport creates a new HTTP transport
func NewHTTPTransport(config HTTPConfig) (*HTTPTransport, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.Timeout == 0 {
		config.Timeout = DefaultRequestTimeout
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
		"User-Agent":   UserAgent,
	}
	if config.APIKey != "" {
		headers["Authorization"] = AuthScheme + " " + config.APIKey
		logger.Debug("API key authentication enabled")
	}

	return &HTTPTransport{
		endpoint: config.Endpoint,
		headers:  headers,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}, nil
}

// Call implements Transport. A non-2xx status or undecodable body is a
// transport-level error; JSON-RPC error members are left for the caller.
func (h *HTTPTransport) Call(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	body, err := h.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp protocol.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}

	return &resp, nil
}

// Notify implements Transport. Wire failures are logged, not returned.
func (h *HTTPTransport) Notify(ctx context.Context, req *protocol.Request) error {
	if _, err := h.post(ctx, req); err != nil {
		h.logger.Warn("notification failed",
			zap.String("method", req.Method),
			zap.Error(err))
	}
	return nil
}

func (h *HTTPTransport) post(ctx context.Context, req *protocol.Request) ([]byte, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("transport closed")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for k, v := range h.headers {
		httpReq.Header.Set(k, v)
	}

	h.logger.Debug("Sending request",
		zap.String("method", req.Method),
		zap.String("endpoint", h.endpoint))

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, body)
	}

	return body, nil
}

// Close implements Transport
func (h *HTTPTransport) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	h.httpClient.CloseIdleConnections()
	h.logger.Debug("HTTP transport closed")
	return nil
}
