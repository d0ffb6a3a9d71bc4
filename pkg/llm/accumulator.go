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
package llm

import "sort"

// ToolCallAccumulator assembles complete tool calls from streamed
// fragments. Fragments sharing an index belong to one call: argument
// text concatenates in arrival order, the last non-empty name wins, and
// the first non-empty id sticks.
type ToolCallAccumulator struct {
	calls map[int]*ToolCall
}

// NewToolCallAccumulator creates an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*ToolCall)}
}

// Add merges one fragment.
func (a *ToolCallAccumulator) Add(d ToolCallDelta) {
	tc, ok := a.calls[d.Index]
	if !ok {
		tc = &ToolCall{}
		a.calls[d.Index] = tc
	}
	if tc.ID == "" && d.ID != "" {
		tc.ID = d.ID
	}
	if d.Name != "" {
		tc.Name = d.Name
	}
	tc.Arguments += d.Arguments
}

// Empty reports whether no fragments have arrived.
func (a *ToolCallAccumulator) Empty() bool {
	return len(a.calls) == 0
}

// Calls returns the assembled calls in index order. Calls that never
// received a name are dropped; there is nothing to route them to.
func (a *ToolCallAccumulator) Calls() []ToolCall {
	indexes := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		tc := a.calls[idx]
		if tc.Name == "" {
			continue
		}
		out = append(out, *tc)
	}
	return out
}
