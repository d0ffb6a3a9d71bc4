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
// Package orchestrator runs the streaming tool-calling loop between the
// language model and the registered MCP servers.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/conversation"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/llm"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/client"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/manager"
)

// DefaultMaxTurns bounds model round-trips per query. A model that is
// still requesting tools on the last turn gets cut off silently.
const DefaultMaxTurns = 5

// DefaultSystemPrompt frames the assistant when no prompt is configured.
const DefaultSystemPrompt = "You are Portfolio Pilot, an AI assistant for a financial portfolio " +
	"dashboard. You help financial advisors analyze client portfolios, market conditions, and " +
	"news using the tools available to you. Prefer calling tools over guessing. Be concise and " +
	"cite concrete figures from tool results."

// ResultMode selects how multiple result events from one tool call
// collapse into the transcript entry fed back to the model.
type ResultMode int

const (
	// ResultModeFirst keeps only the first result event.
	ResultModeFirst ResultMode = iota

	// ResultModeConcat joins every result event with newlines.
	ResultModeConcat
)

// ToolRouter is the subset of the connection manager the loop needs.
type ToolRouter interface {
	EnabledTools() []manager.ToolInfo
	FindToolServer(toolName string) (string, bool)
	Server(id string) (*client.Server, bool)
	ExecuteToolOn(ctx context.Context, serverID, toolName string, arguments map[string]interface{}) <-chan client.Event
}

// Config holds orchestrator configuration.
type Config struct {
	Provider     llm.StreamProvider
	Router       ToolRouter
	Sessions     *conversation.Store
	SystemPrompt string
	MaxTurns     int
	ResultMode   ResultMode
	Logger       *zap.Logger
}

// Orchestrator drives multi-turn streaming conversations.
type Orchestrator struct {
	provider     llm.StreamProvider
	router       ToolRouter
	sessions     *conversation.Store
	systemPrompt string
	maxTurns     int
	resultMode   ResultMode
	logger       *zap.Logger
}

// New creates an orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if config.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if config.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultMaxTurns
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Orchestrator{
		provider:     config.Provider,
		router:       config.Router,
		sessions:     config.Sessions,
		systemPrompt: config.SystemPrompt,
		maxTurns:     config.MaxTurns,
		resultMode:   config.ResultMode,
		logger:       config.Logger,
	}, nil
}

// StreamQuery answers one user message as a stream of text chunks. The
// first chunk always announces the session so clients can thread
// follow-up queries; after that, chunks are model tokens. Failures
// surface in-stream as a final "Error: ..." chunk, never as a panic or
// an unclosed channel.
func (o *Orchestrator) StreamQuery(ctx context.Context, sessionID, query string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)

		emit := func(chunk string) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		sess := o.sessions.GetOrCreate(sessionID)
		if !emit(fmt.Sprintf("Session ID: %s\n\n", sess.ID)) {
			return
		}
		o.sessions.Append(sess.ID, llm.Message{Role: llm.RoleUser, Content: query})

		for turn := 0; turn < o.maxTurns; turn++ {
			toolCalls, err := o.runTurn(ctx, sess.ID, emit)
			if err != nil {
				emit(fmt.Sprintf("Error: %v", err))
				return
			}
			if len(toolCalls) == 0 {
				return
			}
			if !o.executeToolCalls(ctx, sess.ID, turn+1, toolCalls, emit) {
				return
			}
		}
		o.logger.Warn("query hit the turn limit",
			zap.String("session_id", sess.ID),
			zap.Int("max_turns", o.maxTurns))
	}()
	return out
}

// runTurn streams one model response, forwarding content chunks and
// collecting tool calls. The assistant message is appended to the
// transcript before returning.
func (o *Orchestrator) runTurn(ctx context.Context, sessionID string, emit func(string) bool) ([]llm.ToolCall, error) {
	messages := append(
		[]llm.Message{{Role: llm.RoleSystem, Content: o.systemPrompt}},
		o.sessions.Messages(sessionID)...,
	)

	deltas, err := o.provider.ChatStream(ctx, messages, o.toolDefinitions())
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	acc := llm.NewToolCallAccumulator()
	for d := range deltas {
		if d.Err != nil {
			return nil, d.Err
		}
		if d.Content != "" {
			content.WriteString(d.Content)
			if !emit(d.Content) {
				return nil, ctx.Err()
			}
		}
		for _, tc := range d.ToolCalls {
			acc.Add(tc)
		}
	}

	toolCalls := acc.Calls()
	for i := range toolCalls {
		if toolCalls[i].ID == "" {
			toolCalls[i].ID = fmt.Sprintf("call_%d", i)
		}
	}
	o.sessions.Append(sessionID, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   content.String(),
		ToolCalls: toolCalls,
	})
	return toolCalls, nil
}

// executeToolCalls runs each requested tool, feeds the results back into
// the transcript as tool messages, and streams a visible results block to
// the caller. Execution failures become result text for the model to
// react to; they never abort the stream. Returns false when the caller
// went away mid-stream.
func (o *Orchestrator) executeToolCalls(ctx context.Context, sessionID string, turn int, toolCalls []llm.ToolCall, emit func(string) bool) bool {
	results := make([]string, 0, len(toolCalls))
	for _, tc := range toolCalls {
		result := o.executeOne(ctx, sessionID, tc)
		results = append(results, result)
		o.sessions.Append(sessionID, llm.Message{
			Role:       llm.RoleTool,
			Content:    result,
			ToolCallID: tc.ID,
			Name:       tc.Name,
		})
	}

	if !emit(fmt.Sprintf("\n\n--- Tool Results (Turn %d) ---\n", turn)) {
		return false
	}
	for i, tc := range toolCalls {
		if !emit(fmt.Sprintf("**%s**: %s\n", tc.Name, results[i])) {
			return false
		}
	}
	return emit("\n")
}

func (o *Orchestrator) executeOne(ctx context.Context, sessionID string, tc llm.ToolCall) string {
	args := map[string]interface{}{}
	if tc.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			// The model produced malformed JSON; run the tool with no
			// arguments rather than dropping the call.
			o.logger.Warn("failed to parse tool arguments",
				zap.String("tool", tc.Name),
				zap.Error(err))
			args = map[string]interface{}{}
		}
	}

	serverID, ok := o.router.FindToolServer(tc.Name)
	if !ok {
		return fmt.Sprintf("Error: tool %q is not available", tc.Name)
	}
	srv, _ := o.router.Server(serverID)
	if srv != nil {
		args = o.sessions.PrepareArguments(sessionID, srv, args)
	}

	o.logger.Info("executing tool",
		zap.String("session_id", sessionID),
		zap.String("tool", tc.Name),
		zap.String("server_id", serverID))

	// The event stream is finite; drain it fully so continuation
	// identifiers are harvested even when only the first result is used.
	var results []string
	var errText string
	for ev := range o.router.ExecuteToolOn(ctx, serverID, tc.Name, args) {
		if ev.Type == client.EventError {
			if errText == "" {
				errText = "Error: " + ev.Err
			}
			continue
		}
		if srv != nil && ev.Raw != nil {
			o.sessions.HarvestContinuation(sessionID, srv, ev.Raw.Extra)
		}
		results = append(results, ev.ResultText())
	}
	if len(results) == 0 {
		if errText != "" {
			return errText
		}
		return "Error: tool returned no result"
	}
	if o.resultMode == ResultModeFirst {
		return results[0]
	}
	return strings.Join(results, "\n")
}

func (o *Orchestrator) toolDefinitions() []llm.ToolDefinition {
	infos := o.router.EnabledTools()
	out := make([]llm.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		out = append(out, llm.ToolDefinition{
			Name:        info.Tool.Name,
			Description: info.Tool.Description,
			Parameters:  info.Tool.Parameters,
		})
	}
	return out
}
