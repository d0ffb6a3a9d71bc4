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
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/client"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "config.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleServer(id string) *client.Server {
	return &client.Server{
		ID:        id,
		Name:      "server-" + id,
		URL:       "http://" + id + ":8080/mcp",
		APIKey:    "secret-" + id,
		Transport: client.TransportHTTPFirst,
		Enabled:   true,
		Tools: map[string]client.Tool{
			"nl_search": {Name: "nl_search", Description: "search", Enabled: true},
		},
	}
}

func TestSaveAndGetServer(t *testing.T) {
	s := openTestStore(t)

	srv := sampleServer("a")
	srv.ConversationField = "session_id"
	srv.ConversationLocation = client.ConversationInResponse
	require.NoError(t, s.SaveServer(srv))

	got, err := s.GetServer("a")
	require.NoError(t, err)
	assert.Equal(t, srv.Name, got.Name)
	assert.Equal(t, srv.URL, got.URL)
	assert.Equal(t, "secret-a", got.APIKey)
	assert.Equal(t, "session_id", got.ConversationField)
	assert.Equal(t, client.ConversationInResponse, got.ConversationLocation)
	assert.Equal(t, client.StatusUnknown, got.ConnectionStatus, "connection state is runtime-only")
	require.Contains(t, got.Tools, "nl_search")
	assert.True(t, got.Tools["nl_search"].Enabled)
}

func TestListServersPreservesRegistrationOrder(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.SaveServer(sampleServer(id)))
	}
	// Updating an early server must not move it.
	updated := sampleServer("c")
	updated.Name = "renamed"
	require.NoError(t, s.SaveServer(updated))

	servers, err := s.ListServers()
	require.NoError(t, err)
	require.Len(t, servers, 3)
	assert.Equal(t, "c", servers[0].ID)
	assert.Equal(t, "renamed", servers[0].Name)
	assert.Equal(t, "a", servers[1].ID)
	assert.Equal(t, "b", servers[2].ID)
}

func TestOrderSurvivesDelete(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveServer(sampleServer(id)))
	}
	require.NoError(t, s.DeleteServer("b"))

	servers, err := s.ListServers()
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "a", servers[0].ID)
	assert.Equal(t, "c", servers[1].ID)
}

func TestDeleteUnknownServer(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.DeleteServer("ghost"))
}

func TestSetServerEnabled(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveServer(sampleServer("a")))

	require.NoError(t, s.SetServerEnabled("a", false))
	got, err := s.GetServer("a")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	assert.Error(t, s.SetServerEnabled("ghost", true))
}

func TestSafeViewMasksAPIKeys(t *testing.T) {
	withKey := sampleServer("a")
	noKey := sampleServer("b")
	noKey.APIKey = ""

	view := SafeView([]*client.Server{withKey, noKey})
	require.Len(t, view, 2)
	assert.Equal(t, MaskedAPIKey, view[0].APIKey)
	assert.Empty(t, view[1].APIKey)
}

func TestSaveWithMaskedKeyKeepsStoredKey(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveServer(sampleServer("a")))

	update := sampleServer("a")
	update.APIKey = MaskedAPIKey
	update.URL = "http://moved:8080/mcp"
	require.NoError(t, s.SaveServer(update))

	got, err := s.GetServer("a")
	require.NoError(t, err)
	assert.Equal(t, "secret-a", got.APIKey)
	assert.Equal(t, "http://moved:8080/mcp", got.URL)

	// A masked key on a brand-new server has nothing to resolve to.
	fresh := sampleServer("new")
	fresh.APIKey = MaskedAPIKey
	assert.Error(t, s.SaveServer(fresh))
}

func TestExportImportRoundTrip(t *testing.T) {
	src := openTestStore(t)
	require.NoError(t, src.SaveServer(sampleServer("a")))
	require.NoError(t, src.SaveServer(sampleServer("b")))

	var buf bytes.Buffer
	require.NoError(t, src.Export(&buf))

	// Exported keys are masked.
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.NotContains(t, buf.String(), "secret-a")
	assert.Contains(t, buf.String(), MaskedAPIKey)

	// Re-importing into the same store keeps the real keys.
	n, err := src.Import(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	got, err := src.GetServer("a")
	require.NoError(t, err)
	assert.Equal(t, "secret-a", got.APIKey)

	// Importing into an empty store fails on the masked keys.
	dst := openTestStore(t)
	_, err = dst.Import(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)
}
