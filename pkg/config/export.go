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
package config

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/client"
)

// MaskedAPIKey replaces stored API keys anywhere a definition leaves the
// process. SaveServer treats it as "keep the existing key".
const MaskedAPIKey = "***"

// SafeServer is a server definition with credentials masked. This is the
// only form in which definitions are returned over the API or exported.
type SafeServer struct {
	ID                   string                 `json:"id"`
	Name                 string                 `json:"name"`
	URL                  string                 `json:"url"`
	APIKey               string                 `json:"api_key,omitempty"`
	Transport            client.TransportMode   `json:"transport"`
	Enabled              bool                   `json:"enabled"`
	UseForDashboard      bool                   `json:"use_for_dashboard"`
	ConversationField    string                 `json:"conversation_field,omitempty"`
	ConversationLocation string                 `json:"conversation_location,omitempty"`
	Tools                map[string]client.Tool `json:"tools"`
}

// Safe masks a server definition for external consumption.
func Safe(srv *client.Server) SafeServer {
	out := SafeServer{
		ID:                   srv.ID,
		Name:                 srv.Name,
		URL:                  srv.URL,
		Transport:            srv.Transport,
		Enabled:              srv.Enabled,
		UseForDashboard:      srv.UseForDashboard,
		ConversationField:    srv.ConversationField,
		ConversationLocation: srv.ConversationLocation,
		Tools:                srv.Tools,
	}
	if srv.APIKey != "" {
		out.APIKey = MaskedAPIKey
	}
	return out
}

// SafeView masks a list of definitions, preserving order.
func SafeView(servers []*client.Server) []SafeServer {
	out := make([]SafeServer, 0, len(servers))
	for _, srv := range servers {
		out = append(out, Safe(srv))
	}
	return out
}

type exportDoc struct {
	Version int          `json:"version"`
	Servers []SafeServer `json:"servers"`
}

// Export writes all server definitions as JSON with API keys masked.
func (s *Store) Export(w io.Writer) error {
	servers, err := s.ListServers()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(exportDoc{Version: 1, Servers: SafeView(servers)})
}

// Import reads a JSON export and upserts every definition it contains.
// Masked API keys resolve to the stored key for servers that already
// exist; a masked key for a new server is rejected.
func (s *Store) Import(r io.Reader) (int, error) {
	var doc exportDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("failed to decode import: %w", err)
	}

	imported := 0
	for _, in := range doc.Servers {
		mode, err := client.ParseTransportMode(string(in.Transport))
		if err != nil {
			return imported, fmt.Errorf("server %s: %w", in.ID, err)
		}
		srv := &client.Server{
			ID:                   in.ID,
			Name:                 in.Name,
			URL:                  in.URL,
			APIKey:               in.APIKey,
			Transport:            mode,
			Enabled:              in.Enabled,
			UseForDashboard:      in.UseForDashboard,
			ConversationField:    in.ConversationField,
			ConversationLocation: in.ConversationLocation,
			Tools:                in.Tools,
		}
		if srv.Tools == nil {
			srv.Tools = map[string]client.Tool{}
		}
		if err := s.SaveServer(srv); err != nil {
			return imported, fmt.Errorf("server %s: %w", in.ID, err)
		}
		imported++
	}
	return imported, nil
}
