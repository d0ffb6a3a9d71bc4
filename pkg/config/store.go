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
// Package config persists MCP server definitions and their tool state.
package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/client"
)

// Store is a SQLite-backed store of server definitions. Registration
// order is durable: each server gets a position on first save and keeps
// it across restarts, so tool-name collision resolution is stable.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// Open opens or creates the store at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency between the API and background refresh.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS servers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		api_key TEXT,
		transport TEXT NOT NULL DEFAULT 'http-first',
		enabled INTEGER NOT NULL DEFAULT 1,
		use_for_dashboard INTEGER NOT NULL DEFAULT 0,
		conversation_field TEXT,
		conversation_location TEXT,
		tools_json TEXT NOT NULL DEFAULT '{}',
		position INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_servers_position ON servers(position);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveServer inserts or updates a server definition. New servers are
// appended at the end of the registration order; updates keep their
// position. Passing an API key of "***" keeps the stored key, so masked
// exports can be re-imported safely.
func (s *Store) SaveServer(srv *client.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if srv.ID == "" {
		return fmt.Errorf("server ID is required")
	}
	toolsJSON, err := json.Marshal(srv.Tools)
	if err != nil {
		return fmt.Errorf("failed to encode tools: %w", err)
	}

	apiKey := srv.APIKey
	if apiKey == MaskedAPIKey {
		var existing string
		err := s.db.QueryRow("SELECT api_key FROM servers WHERE id = ?", srv.ID).Scan(&existing)
		if err != nil {
			return fmt.Errorf("masked api key for unknown server %s", srv.ID)
		}
		apiKey = existing
	}

	now := time.Now().UTC().Unix()
	res, err := s.db.Exec(`
		UPDATE servers SET
			name = ?, url = ?, api_key = ?, transport = ?, enabled = ?,
			use_for_dashboard = ?, conversation_field = ?, conversation_location = ?,
			tools_json = ?, updated_at = ?
		WHERE id = ?`,
		srv.Name, srv.URL, apiKey, string(srv.Transport), boolToInt(srv.Enabled),
		boolToInt(srv.UseForDashboard), srv.ConversationField, srv.ConversationLocation,
		string(toolsJSON), now, srv.ID)
	if err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var next int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(position), -1) + 1 FROM servers").Scan(&next); err != nil {
		return fmt.Errorf("failed to allocate position: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO servers (
			id, name, url, api_key, transport, enabled, use_for_dashboard,
			conversation_field, conversation_location, tools_json, position,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.ID, srv.Name, srv.URL, apiKey, string(srv.Transport), boolToInt(srv.Enabled),
		boolToInt(srv.UseForDashboard), srv.ConversationField, srv.ConversationLocation,
		string(toolsJSON), next, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert server: %w", err)
	}
	s.logger.Info("saved server definition",
		zap.String("server", srv.Name),
		zap.Int("position", next))
	return nil
}

// ListServers returns all server definitions in registration order.
func (s *Store) ListServers() ([]*client.Server, error) {
	rows, err := s.db.Query(`
		SELECT id, name, url, api_key, transport, enabled, use_for_dashboard,
			conversation_field, conversation_location, tools_json
		FROM servers ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var out []*client.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

// GetServer fetches one server definition by ID.
func (s *Store) GetServer(id string) (*client.Server, error) {
	row := s.db.QueryRow(`
		SELECT id, name, url, api_key, transport, enabled, use_for_dashboard,
			conversation_field, conversation_location, tools_json
		FROM servers WHERE id = ?`, id)
	srv, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("server %s not found", id)
	}
	return srv, err
}

// DeleteServer removes a server definition. Positions of the remaining
// servers are untouched so their relative order never shifts.
func (s *Store) DeleteServer(id string) error {
	res, err := s.db.Exec("DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("server %s not found", id)
	}
	return nil
}

// SetServerEnabled flips a server's enabled flag.
func (s *Store) SetServerEnabled(id string, enabled bool) error {
	res, err := s.db.Exec("UPDATE servers SET enabled = ?, updated_at = ? WHERE id = ?",
		boolToInt(enabled), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("server %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanServer(row rowScanner) (*client.Server, error) {
	var (
		srv                      client.Server
		apiKey, convField        sql.NullString
		convLocation, toolsJSON  sql.NullString
		enabled, useForDashboard int
		transportMode            string
	)
	err := row.Scan(&srv.ID, &srv.Name, &srv.URL, &apiKey, &transportMode,
		&enabled, &useForDashboard, &convField, &convLocation, &toolsJSON)
	if err != nil {
		return nil, err
	}
	srv.APIKey = apiKey.String
	srv.Transport = client.TransportMode(transportMode)
	srv.Enabled = enabled != 0
	srv.UseForDashboard = useForDashboard != 0
	srv.ConversationField = convField.String
	srv.ConversationLocation = convLocation.String
	srv.ConnectionStatus = client.StatusUnknown
	srv.Tools = map[string]client.Tool{}
	if toolsJSON.String != "" {
		if err := json.Unmarshal([]byte(toolsJSON.String), &srv.Tools); err != nil {
			return nil, fmt.Errorf("failed to decode tools for server %s: %w", srv.ID, err)
		}
	}
	return &srv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
