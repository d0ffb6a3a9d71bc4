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
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	return data
}

func TestParseSearchResultsShape(t *testing.T) {
	data := decode(t, `{
		"result": {
			"results": [
				{"id": "doc-1", "index": "financial_reports",
				 "highlights": ["<em>Apple</em> Q3 earnings beat expectations on services growth", "Revenue up 8%"]},
				{"id": "doc-2", "highlights": []}
			]
		}
	}`)

	items, ok := ExtractItems(data, "financial_reports")
	require.True(t, ok)
	require.Len(t, items, 2)

	assert.Equal(t, "Apple Q3 earnings beat expectations on services growth", items[0].Title)
	assert.Contains(t, items[0].SummaryFull, "Revenue up 8%")
	assert.Equal(t, "doc-1", items[0].DocumentID)
	assert.Equal(t, "financial_reports", items[0].Index)

	assert.Equal(t, "Result 2", items[1].Title)
	assert.Equal(t, "No summary available", items[1].SummaryFull)
}

func TestParseNestedHitsShape(t *testing.T) {
	data := decode(t, `{
		"result": {
			"hits": {
				"hits": [
					{"_id": "abc", "_source": {
						"title": "Fed holds rates",
						"symbol": "SPY",
						"published_date": "2026-08-20",
						"summary": "The Federal Reserve held rates steady."
					}},
					{"_id": "def", "_source": {"content": "Body only, no summary field."}}
				]
			}
		}
	}`)

	items, ok := ExtractItems(data, "financial_news")
	require.True(t, ok)
	require.Len(t, items, 2)

	assert.Equal(t, "Fed holds rates", items[0].Title)
	assert.Equal(t, "SPY", items[0].Symbol)
	assert.Equal(t, "2026-08-20", items[0].PublishedDate)
	assert.Equal(t, "abc", items[0].DocumentID)

	assert.Equal(t, "No title", items[1].Title)
	assert.Equal(t, "Body only, no summary field.", items[1].SummaryFull)
}

func TestParseColumnarShape(t *testing.T) {
	data := decode(t, `{
		"result": {
			"columns": [
				{"name": "title", "type": "text"},
				{"name": "symbol", "type": "keyword"},
				{"name": "published_date", "type": "date"},
				{"name": "summary", "type": "text"}
			],
			"values": [
				["MSFT guidance raised", "MSFT", "2026-08-19", "Cloud growth continues."],
				["NVDA supply update", "NVDA", "2026-08-18", null]
			]
		}
	}`)

	items, ok := ExtractItems(data, "financial_reports")
	require.True(t, ok)
	require.Len(t, items, 2)

	assert.Equal(t, "MSFT guidance raised", items[0].Title)
	assert.Equal(t, "MSFT", items[0].Symbol)
	assert.Equal(t, "Cloud growth continues.", items[0].SummaryFull)
	assert.Equal(t, "No summary available", items[1].SummaryFull)
}

func TestShapeOrderSearchResultsWins(t *testing.T) {
	// A payload carrying both recognized shapes resolves to the first
	// parser in the ladder.
	data := decode(t, `{
		"result": {
			"results": [{"id": "r1", "highlights": ["From the results array, a long enough highlight"]}],
			"hits": {"hits": [{"_id": "h1", "_source": {"title": "From hits"}}]}
		}
	}`)

	items, ok := ExtractItems(data, "x")
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "r1", items[0].DocumentID)
}

func TestUnrecognizedShape(t *testing.T) {
	data := decode(t, `{"something": "else"}`)
	_, ok := ExtractItems(data, "x")
	assert.False(t, ok)

	data = decode(t, `{"result": {"results": []}}`)
	_, ok = ExtractItems(data, "x")
	assert.False(t, ok, "empty results fall through")
}

func TestSummaryTruncation(t *testing.T) {
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'a'
	}
	data := map[string]interface{}{
		"result": map[string]interface{}{
			"hits": map[string]interface{}{
				"hits": []interface{}{
					map[string]interface{}{
						"_id":     "x",
						"_source": map[string]interface{}{"title": "t", "summary": string(long)},
					},
				},
			},
		},
	}

	items, ok := ExtractItems(data, "i")
	require.True(t, ok)
	assert.Len(t, items[0].Summary, summaryDisplayLen+3)
	assert.Len(t, items[0].SummaryFull, 150)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	long := strings.Repeat("é", summaryDisplayLen+20)
	got := truncate(long, summaryDisplayLen)

	assert.True(t, utf8.ValidString(got), "truncation must not split a multibyte rune")
	assert.Equal(t, strings.Repeat("é", summaryDisplayLen)+"...", got)

	short := "naïve"
	assert.Equal(t, short, truncate(short, summaryDisplayLen))
}
