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
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/client"
)

const maxItems = 10

// Sources is the slice of the connection manager the service consumes.
type Sources interface {
	DashboardServers() []*client.Server
	ExecuteToolOn(ctx context.Context, serverID, toolName string, arguments map[string]interface{}) <-chan client.Event
}

// Summary is the aggregated answer for one dashboard panel.
type Summary struct {
	Status     string `json:"status"`
	ServerUsed string `json:"server_used,omitempty"`
	Message    string `json:"message,omitempty"`
	Items      []Item `json:"items"`
}

// Service fetches news and report summaries for the main dashboard.
// Each designated server is tried in turn with a fixed ladder of tool
// strategies; the first strategy that yields items wins.
type Service struct {
	sources Sources
	logger  *zap.Logger
}

// NewService creates a dashboard service.
func NewService(sources Sources, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sources: sources, logger: logger}
}

// Reports aggregates recent financial reports.
func (s *Service) Reports(ctx context.Context) *Summary {
	return s.fetch(ctx, panel{
		index: "financial_reports",
		esqlQueries: []string{
			"FROM financial_reports | SORT published_date DESC | LIMIT 10 | KEEP title, symbol, published_date, summary",
			"FROM financial_reports | LIMIT 10 | KEEP title, symbol, published_date, summary, content",
		},
		nlQuery: "latest financial reports and analysis published in the last 30 days",
	})
}

// News aggregates recent market news.
func (s *Service) News(ctx context.Context) *Summary {
	return s.fetch(ctx, panel{
		index: "financial_news",
		esqlQueries: []string{
			"FROM financial_news | SORT published_date DESC | LIMIT 10 | KEEP title, symbol, published_date, summary",
			"FROM financial_news | LIMIT 10 | KEEP title, symbol, published_date, summary, content",
		},
		nlQuery: "latest market news from the last 7 days",
	})
}

// panel describes one dashboard data need.
type panel struct {
	index       string
	esqlQueries []string
	nlQuery     string
}

func (s *Service) fetch(ctx context.Context, p panel) *Summary {
	servers := s.sources.DashboardServers()
	if len(servers) == 0 {
		return &Summary{
			Status:  "no_data",
			Message: "no MCP servers are designated for dashboard data",
			Items:   []Item{},
		}
	}

	for _, srv := range servers {
		items := s.fromServer(ctx, srv, p)
		if len(items) > 0 {
			if len(items) > maxItems {
				items = items[:maxItems]
			}
			return &Summary{Status: "success", ServerUsed: srv.Name, Items: items}
		}
	}
	return &Summary{
		Status:  "no_data",
		Message: "MCP servers configured but unable to retrieve dashboard data",
		Items:   []Item{},
	}
}

// fromServer tries the strategy ladder against one server: ES|QL first
// (most reliable against the search backend), then natural-language
// search, then relevance search.
func (s *Service) fromServer(ctx context.Context, srv *client.Server, p panel) []Item {
	if srv.HasTool("execute_esql") {
		for _, query := range p.esqlQueries {
			items := s.runTool(ctx, srv, "execute_esql", map[string]interface{}{"query": query}, p.index)
			if len(items) > 0 {
				return items
			}
		}
	}
	if srv.HasTool("nl_search") {
		items := s.runTool(ctx, srv, "nl_search", map[string]interface{}{
			"query":          p.nlQuery,
			"index":          p.index,
			"size":           maxItems,
			"include_source": true,
		}, p.index)
		if len(items) > 0 {
			return items
		}
	}
	if srv.HasTool("relevance_search") {
		items := s.runTool(ctx, srv, "relevance_search", map[string]interface{}{
			"query": p.nlQuery,
			"index": p.index,
			"size":  maxItems,
		}, p.index)
		if len(items) > 0 {
			return items
		}
	}
	return nil
}

// runTool executes one tool call and extracts items from the first
// textual result.
func (s *Service) runTool(ctx context.Context, srv *client.Server, tool string, args map[string]interface{}, index string) []Item {
	for ev := range s.sources.ExecuteToolOn(ctx, srv.ID, tool, args) {
		if ev.Type == client.EventError {
			s.logger.Warn("dashboard tool failed",
				zap.String("server", srv.Name),
				zap.String("tool", tool),
				zap.String("error", ev.Err))
			return nil
		}
		if ev.Content == nil || ev.Content.Type != "text" {
			continue
		}
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(ev.Content.Text), &data); err != nil {
			s.logger.Warn("dashboard response is not JSON",
				zap.String("server", srv.Name),
				zap.String("tool", tool))
			return nil
		}
		items, ok := ExtractItems(data, index)
		if !ok {
			s.logger.Debug("unrecognized dashboard response shape",
				zap.String("server", srv.Name),
				zap.String("tool", tool))
			return nil
		}
		return items
	}
	return nil
}

// FullDocument retrieves one document by id for panel expansion.
func (s *Service) FullDocument(ctx context.Context, serverID, index, documentID string) (map[string]interface{}, error) {
	for ev := range s.sources.ExecuteToolOn(ctx, serverID, "execute_esql", map[string]interface{}{
		"query": fmt.Sprintf("FROM %s METADATA _id | WHERE _id == %q | LIMIT 1", index, documentID),
	}) {
		if ev.Type == client.EventError {
			return nil, fmt.Errorf("document fetch failed: %s", ev.Err)
		}
		if ev.Content == nil || ev.Content.Type != "text" {
			continue
		}
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(ev.Content.Text), &data); err != nil {
			return nil, fmt.Errorf("document response is not JSON: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("document %s not found in %s", documentID, index)
}
