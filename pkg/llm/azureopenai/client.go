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
// Package azureopenai implements a streaming chat client for Azure
// OpenAI deployments.
package azureopenai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/llm"
)

// Client implements llm.StreamProvider for Azure OpenAI.
// Azure OpenAI uses deployment-based routing and api-key header auth.
type Client struct {
	endpoint     string // https://{resource}.openai.azure.com
	deploymentID string
	apiVersion   string
	apiKey       string
	maxTokens    int
	temperature  float64
	httpClient   *http.Client
	logger       *zap.Logger
}

// Config holds configuration for the Azure OpenAI client.
type Config struct {
	// Required: endpoint in the form https://{resource}.openai.azure.com
	Endpoint string

	// Required: deployment name (not the model name)
	DeploymentID string

	// Required: API key from the Azure portal
	APIKey string

	// API version (default: "2024-10-21")
	APIVersion string

	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0
	Timeout     time.Duration // Default: 5m; covers the whole stream
	Logger      *zap.Logger
}

// NewClient creates a new Azure OpenAI client.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.DeploymentID == "" {
		return nil, fmt.Errorf("deployment ID is required")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.APIVersion == "" {
		config.APIVersion = "2024-10-21"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Temperature == 0 {
		config.Temperature = 1.0
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Client{
		endpoint:     strings.TrimRight(config.Endpoint, "/"),
		deploymentID: config.DeploymentID,
		apiVersion:   config.APIVersion,
		apiKey:       config.APIKey,
		maxTokens:    config.MaxTokens,
		temperature:  config.Temperature,
		logger:       config.Logger,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return "azure-openai" }

// Model returns the deployment ID.
func (c *Client) Model() string { return c.deploymentID }

// Wire types for the chat completions API.

type chatRequest struct {
	Messages            []chatMessage `json:"messages"`
	Tools               []chatTool    `json:"tools,omitempty"`
	ToolChoice          string        `json:"tool_choice,omitempty"`
	Temperature         float64       `json:"temperature"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Stream              bool          `json:"stream"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string          `json:"type"`
	Function chatToolFuncDef `json:"function"`
}

type chatToolFuncDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ChatStream streams a chat completion as deltas. The channel closes
// when the server sends [DONE], the stream fails, or ctx is cancelled.
// An error object mid-stream aborts the stream with a single Err delta.
func (c *Client) ChatStream(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.Delta, error) {
	req := chatRequest{
		Messages:            convertMessages(messages),
		Temperature:         c.temperature,
		MaxCompletionTokens: c.maxTokens,
		Stream:              true,
	}
	if len(tools) > 0 {
		req.Tools = convertTools(tools)
		req.ToolChoice = "auto"
	}

	apiURL := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint,
		url.PathEscape(c.deploymentID),
		url.QueryEscape(c.apiVersion),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	deltas := make(chan llm.Delta)
	go func() {
		defer close(deltas)
		defer httpResp.Body.Close()

		emit := func(d llm.Delta) bool {
			select {
			case deltas <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			jsonData := strings.TrimPrefix(line, "data: ")
			if jsonData == "[DONE]" {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(jsonData), &chunk); err != nil {
				c.logger.Debug("skipping unparsable stream chunk", zap.Error(err))
				continue
			}

			if chunk.Error != nil {
				emit(llm.Delta{Err: fmt.Errorf("%s", chunk.Error.Message)})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			var d llm.Delta
			d.Content = choice.Delta.Content
			for _, tc := range choice.Delta.ToolCalls {
				d.ToolCalls = append(d.ToolCalls, llm.ToolCallDelta{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			d.FinishReason = choice.FinishReason
			if d.Content == "" && len(d.ToolCalls) == 0 && d.FinishReason == "" {
				continue
			}
			if !emit(d) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			emit(llm.Delta{Err: fmt.Errorf("error reading stream: %w", err)})
		}
	}()
	return deltas, nil
}

func convertMessages(messages []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		cm := chatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: chatFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func convertTools(tools []llm.ToolDefinition) []chatTool {
	out := make([]chatTool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, chatTool{
			Type: "function",
			Function: chatToolFuncDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

var _ llm.StreamProvider = (*Client)(nil)
