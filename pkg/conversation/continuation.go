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
package conversation

import (
	"encoding/json"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/client"
)

// maxScanDepth bounds the recursive continuation-identifier search.
// Tool responses nest payloads inside JSON-encoded strings, so the walk
// re-parses string values, but never past this depth.
const maxScanDepth = 5

// PrepareArguments returns a copy of args with the session's
// continuation identifier injected for servers that expect it as a
// parameter. Arguments the model already supplied are never overwritten.
func (s *Store) PrepareArguments(sessionID string, srv *client.Server, args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	if srv.ConversationField == "" || srv.ConversationLocation != client.ConversationInParams {
		return out
	}
	if _, exists := out[srv.ConversationField]; exists {
		return out
	}
	if v, ok := s.Continuation(sessionID, srv.ID); ok {
		out[srv.ConversationField] = v
	}
	return out
}

// HarvestContinuation scans a raw tool response for the server's
// continuation identifier and records it on the session. The previous
// identifier is kept when none is found.
func (s *Store) HarvestContinuation(sessionID string, srv *client.Server, raw interface{}) {
	if srv.ConversationField == "" || srv.ConversationLocation != client.ConversationInResponse {
		return
	}
	if v, ok := ExtractContinuationID(raw, srv.ConversationField); ok {
		s.SetContinuation(sessionID, srv.ID, v)
	}
}

// ExtractContinuationID searches data for a string value under the
// given field name. The walk descends through maps, slices, and
// JSON-encoded string payloads, depth-first, to a bounded depth.
func ExtractContinuationID(data interface{}, field string) (string, bool) {
	return extract(data, field, 0)
}

func extract(data interface{}, field string, depth int) (string, bool) {
	if depth > maxScanDepth {
		return "", false
	}
	switch v := data.(type) {
	case map[string]json.RawMessage:
		// Shape of a raw tool response body.
		if raw, ok := v[field]; ok {
			var str string
			if err := json.Unmarshal(raw, &str); err == nil && str != "" {
				return str, true
			}
		}
		for _, child := range v {
			if found, ok := extract(child, field, depth+1); ok {
				return found, true
			}
		}
	case map[string]interface{}:
		if raw, ok := v[field]; ok {
			if str, ok := raw.(string); ok && str != "" {
				return str, true
			}
		}
		for _, child := range v {
			if found, ok := extract(child, field, depth+1); ok {
				return found, true
			}
		}
	case []interface{}:
		for _, child := range v {
			if found, ok := extract(child, field, depth+1); ok {
				return found, true
			}
		}
	case json.RawMessage:
		var parsed interface{}
		if err := json.Unmarshal(v, &parsed); err == nil {
			return extract(parsed, field, depth+1)
		}
	case string:
		// Servers commonly embed JSON documents inside text content.
		var parsed interface{}
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			if _, isString := parsed.(string); !isString {
				return extract(parsed, field, depth+1)
			}
		}
	}
	return "", false
}
