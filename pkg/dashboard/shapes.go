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
// Package dashboard aggregates portfolio news and report summaries from
// MCP servers flagged as dashboard data sources.
package dashboard

import (
	"strconv"
	"strings"
)

// Item is one dashboard entry extracted from a tool response.
type Item struct {
	Title         string `json:"title"`
	Symbol        string `json:"symbol"`
	PublishedDate string `json:"published_date"`
	Summary       string `json:"summary"`
	SummaryFull   string `json:"summary_full"`
	DocumentID    string `json:"document_id"`
	Index         string `json:"index"`
}

const summaryDisplayLen = 100

// shapeParser recognizes one response shape and extracts items from it.
// Parsers are tried in a fixed order; a parser that does not recognize
// the payload reports false and the next one runs.
type shapeParser func(data map[string]interface{}, index string) ([]Item, bool)

// shapeParsers is the closed, ordered list of recognized shapes:
// search-results with highlights, standard nested hits, then columnar.
var shapeParsers = []shapeParser{
	parseSearchResults,
	parseNestedHits,
	parseColumnar,
}

// ExtractItems runs the shape parsers in order against a decoded tool
// response.
func ExtractItems(data map[string]interface{}, index string) ([]Item, bool) {
	for _, parse := range shapeParsers {
		if items, ok := parse(data, index); ok {
			return items, true
		}
	}
	return nil, false
}

// parseSearchResults handles {"result":{"results":[{"highlights":[...],"id":...}]}}.
func parseSearchResults(data map[string]interface{}, index string) ([]Item, bool) {
	result, ok := data["result"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	results, ok := result["results"].([]interface{})
	if !ok {
		return nil, false
	}

	var items []Item
	for i, raw := range results {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		var highlights []string
		if hl, ok := entry["highlights"].([]interface{}); ok {
			for _, h := range hl {
				if s, ok := h.(string); ok {
					highlights = append(highlights, s)
				}
			}
		}
		full := strings.Join(highlights, " ")
		if full == "" {
			full = "No summary available"
		}

		title := "Result " + strconv.Itoa(i+1)
		if len(highlights) > 0 {
			clean := strings.NewReplacer("<em>", "", "</em>", "").Replace(highlights[0])
			if len(clean) > 20 {
				title = truncate(clean, 60)
			}
		}

		items = append(items, Item{
			Title:       title,
			Summary:     truncate(full, summaryDisplayLen),
			SummaryFull: full,
			DocumentID:  stringField(entry, "id"),
			Index:       stringOr(stringField(entry, "index"), index),
		})
	}
	return items, len(items) > 0
}

// parseNestedHits handles {"result":{"hits":{"hits":[{"_source":{...}}]}}}.
func parseNestedHits(data map[string]interface{}, index string) ([]Item, bool) {
	result, ok := data["result"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	hitsWrap, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	hits, ok := hitsWrap["hits"].([]interface{})
	if !ok {
		return nil, false
	}

	var items []Item
	for _, raw := range hits {
		hit, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		source, _ := hit["_source"].(map[string]interface{})
		full := stringOr(stringField(source, "summary"), stringField(source, "content"))
		if full == "" {
			full = "No summary available"
		}
		items = append(items, Item{
			Title:         stringOr(stringField(source, "title"), "No title"),
			Symbol:        stringField(source, "symbol"),
			PublishedDate: stringField(source, "published_date"),
			Summary:       truncate(full, summaryDisplayLen),
			SummaryFull:   full,
			DocumentID:    stringField(hit, "_id"),
			Index:         index,
		})
	}
	return items, len(items) > 0
}

// parseColumnar handles ES|QL output: {"result":{"columns":[...],"values":[[...]]}}.
// Columns arrive as {"name":...} objects; values map positionally.
func parseColumnar(data map[string]interface{}, index string) ([]Item, bool) {
	result, ok := data["result"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	values, ok := result["values"].([]interface{})
	if !ok {
		return nil, false
	}

	colName := func(i int) string {
		cols, _ := result["columns"].([]interface{})
		if i >= len(cols) {
			return ""
		}
		if col, ok := cols[i].(map[string]interface{}); ok {
			return stringField(col, "name")
		}
		if s, ok := cols[i].(string); ok {
			return s
		}
		return ""
	}

	var items []Item
	for _, raw := range values {
		row, ok := raw.([]interface{})
		if !ok || len(row) == 0 {
			continue
		}
		fields := make(map[string]string, len(row))
		for i, cell := range row {
			if cell == nil {
				continue
			}
			name := colName(i)
			if name == "" {
				continue
			}
			if s, ok := cell.(string); ok {
				fields[name] = s
			}
		}
		full := stringOr(fields["summary"], fields["content"])
		if full == "" {
			full = "No summary available"
		}
		items = append(items, Item{
			Title:         stringOr(truncate(fields["title"], 100), "Untitled"),
			Symbol:        fields["symbol"],
			PublishedDate: fields["published_date"],
			Summary:       truncate(full, summaryDisplayLen),
			SummaryFull:   full,
			Index:         index,
		})
	}
	return items, len(items) > 0
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func stringOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// truncate caps s at n runes, never splitting a multibyte character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
