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
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/config"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/dashboard"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/client"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/manager"
)

// QueryStreamer runs a chat query and streams response text chunks.
type QueryStreamer interface {
	StreamQuery(ctx context.Context, sessionID, query string) <-chan string
}

// DashboardService provides the data-enhancement panels.
type DashboardService interface {
	News(ctx context.Context) *dashboard.Summary
	Reports(ctx context.Context) *dashboard.Summary
	FullDocument(ctx context.Context, serverID, index, documentID string) (map[string]interface{}, error)
}

// API holds the handler dependencies and wires them into a mux.
type API struct {
	manager   *manager.Manager
	store     *config.Store
	streamer  QueryStreamer
	dashboard DashboardService
	logLevel  zap.AtomicLevel
	logger    *zap.Logger
}

// APIConfig configures an API.
type APIConfig struct {
	Manager   *manager.Manager
	Store     *config.Store
	Streamer  QueryStreamer
	Dashboard DashboardService

	// LogLevel, when set, is exposed for runtime adjustment through
	// the settings endpoints.
	LogLevel *zap.AtomicLevel

	Logger *zap.Logger
}

// NewAPI creates the API handler set.
func NewAPI(cfg APIConfig) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.LogLevel != nil {
		level = *cfg.LogLevel
	}
	return &API{
		manager:   cfg.Manager,
		store:     cfg.Store,
		streamer:  cfg.Streamer,
		dashboard: cfg.Dashboard,
		logLevel:  level,
		logger:    logger,
	}
}

// Routes builds the HTTP mux for the API.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("POST /api/chat/query", a.handleChatQuery)

	mux.HandleFunc("GET /api/servers", a.handleListServers)
	mux.HandleFunc("POST /api/servers", a.handleAddServer)
	mux.HandleFunc("DELETE /api/servers/{id}", a.handleDeleteServer)
	mux.HandleFunc("POST /api/servers/{id}/enabled", a.handleServerEnabled)
	mux.HandleFunc("POST /api/servers/{id}/tools/{tool}/enabled", a.handleToolEnabled)

	mux.HandleFunc("GET /api/tools", a.handleListTools)
	mux.HandleFunc("GET /api/status", a.handleStatus)

	mux.HandleFunc("GET /api/dashboard/news", a.handleDashboardNews)
	mux.HandleFunc("GET /api/dashboard/reports", a.handleDashboardReports)
	mux.HandleFunc("GET /api/dashboard/document", a.handleDashboardDocument)

	mux.HandleFunc("GET /api/settings/export", a.handleExport)
	mux.HandleFunc("POST /api/settings/import", a.handleImport)
	mux.HandleFunc("GET /api/settings/logging", a.handleGetLogging)
	mux.HandleFunc("PUT /api/settings/logging", a.handleSetLogging)

	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type chatQueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// handleChatQuery streams the assistant's response as plain text chunks.
// Each chunk is flushed as soon as the orchestrator produces it.
func (a *API) handleChatQuery(w http.ResponseWriter, r *http.Request) {
	var req chatQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for chunk := range a.streamer.StreamQuery(r.Context(), req.SessionID, req.Query) {
		if _, err := w.Write([]byte(chunk)); err != nil {
			a.logger.Debug("chat stream write failed, client gone", zap.Error(err))
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// handleListServers returns persisted definitions merged with runtime
// state. Persistence order is the registration order, so the list is
// stable across restarts.
func (a *API) handleListServers(w http.ResponseWriter, r *http.Request) {
	stored, err := a.store.ListServers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for i, srv := range stored {
		if live, ok := a.manager.Server(srv.ID); ok {
			stored[i] = live
		}
	}
	writeJSON(w, http.StatusOK, config.SafeView(stored))
}

type addServerRequest struct {
	ID                   string `json:"id,omitempty"`
	Name                 string `json:"name"`
	URL                  string `json:"url"`
	APIKey               string `json:"api_key,omitempty"`
	Transport            string `json:"transport,omitempty"`
	UseForDashboard      bool   `json:"use_for_dashboard,omitempty"`
	ConversationField    string `json:"conversation_field,omitempty"`
	ConversationLocation string `json:"conversation_location,omitempty"`
}

// handleAddServer connects to the server, discovers its tools, and only
// then persists and registers it. A server that cannot be reached is
// neither registered nor saved.
func (a *API) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var req addServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("name and url are required"))
		return
	}

	transport, err := client.ParseTransportMode(req.Transport)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	apiKey := req.APIKey
	if apiKey == config.MaskedAPIKey {
		existing, err := a.store.GetServer(id)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("masked api_key for unknown server %s", id))
			return
		}
		apiKey = existing.APIKey
	}

	srv := &client.Server{
		ID:                   id,
		Name:                 req.Name,
		URL:                  req.URL,
		APIKey:               apiKey,
		Transport:            transport,
		Enabled:              true,
		UseForDashboard:      req.UseForDashboard,
		ConversationField:    req.ConversationField,
		ConversationLocation: req.ConversationLocation,
	}

	if err := a.manager.AddServer(r.Context(), srv); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.store.SaveServer(srv); err != nil {
		a.manager.RemoveServer(srv.ID)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	a.logger.Info("MCP server added",
		zap.String("id", srv.ID),
		zap.String("name", srv.Name),
		zap.Int("tools", srv.ToolCount()))
	writeJSON(w, http.StatusCreated, config.Safe(srv))
}

func (a *API) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a.manager.RemoveServer(id)
	if err := a.store.DeleteServer(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (a *API) handleServerEnabled(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := a.store.SetServerEnabled(id, req.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	// Runtime toggle is best-effort: the server may not be registered
	// if its last connection attempt failed.
	if err := a.manager.SetServerEnabled(id, req.Enabled); err != nil {
		a.logger.Warn("server not registered, persisted toggle only",
			zap.String("id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "enabled": req.Enabled})
}

func (a *API) handleToolEnabled(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tool := r.PathValue("tool")
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := a.manager.SetToolEnabled(id, tool, req.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if srv, ok := a.manager.Server(id); ok {
		if err := a.store.SaveServer(srv); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"server_id": id, "tool": tool, "enabled": req.Enabled})
}

func (a *API) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.AllTools())
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Status())
}

func (a *API) handleDashboardNews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.dashboard.News(r.Context()))
}

func (a *API) handleDashboardReports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.dashboard.Reports(r.Context()))
}

func (a *API) handleDashboardDocument(w http.ResponseWriter, r *http.Request) {
	serverID := r.URL.Query().Get("server_id")
	index := r.URL.Query().Get("index")
	docID := r.URL.Query().Get("id")
	if serverID == "" || index == "" || docID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("server_id, index and id are required"))
		return
	}
	doc, err := a.dashboard.FullDocument(r.Context(), serverID, index, docID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="portfolio-pilot-settings.json"`)
	if err := a.store.Export(w); err != nil {
		a.logger.Error("settings export failed", zap.Error(err))
	}
}

// handleImport loads definitions into the store and reconnects each
// enabled one. Servers that cannot be reached are imported anyway and
// reported with their connection error.
func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	count, err := a.store.Import(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	errors := map[string]string{}
	servers, err := a.store.ListServers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		if err := a.manager.AddServer(r.Context(), srv); err != nil {
			a.logger.Warn("imported server failed to connect",
				zap.String("id", srv.ID), zap.Error(err))
			errors[srv.ID] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported": count,
		"errors":   errors,
	})
}

func (a *API) handleGetLogging(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"level": a.logLevel.Level().String()})
}

// handleSetLogging adjusts the log verbosity at runtime.
func (a *API) handleSetLogging(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(req.Level)); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid log level %q", req.Level))
		return
	}
	a.logLevel.SetLevel(lvl)
	a.logger.Info("log level changed", zap.String("level", lvl.String()))
	writeJSON(w, http.StatusOK, map[string]string{"level": lvl.String()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
