// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/docpilot/core/pkg/errs"
	"github.com/docpilot/core/pkg/httpclient"
	"github.com/docpilot/core/pkg/tool"
)

type anthropicProvider struct {
	cfg    ProviderConfig
	client *httpclient.Client
	url    string
}

func newAnthropicProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Model == "" {
		return nil, errs.Config("llm.anthropic", fmt.Errorf("model is required"))
	}
	url := cfg.BaseURL
	if url == "" {
		url = "https://api.anthropic.com/v1/messages"
	}
	return &anthropicProvider{
		cfg:    cfg,
		client: httpclient.New(),
		url:    url,
	}, nil
}

func (p *anthropicProvider) Name() string      { return "anthropic" }
func (p *anthropicProvider) ModelName() string { return p.cfg.Model }
func (p *anthropicProvider) Close() error      { return nil }

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// splitSystem pulls the system prompt (if any) out of the message list,
// since Anthropic takes it as a top-level field rather than a role.
func splitSystem(messages []Message) (string, []anthropicMessage) {
	var system string
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		role := string(m.Role)
		if m.Role == RoleTool {
			role = "user"
		}
		out = append(out, anthropicMessage{Role: role, Content: m.Content})
	}
	return system, out
}

func (p *anthropicProvider) doRequest(ctx context.Context, req anthropicRequest) (*anthropicResponse, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Analysis("llm.anthropic.marshal", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Transport("llm.anthropic.request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errs.Transport("llm.anthropic.do", err)
	}
	defer resp.Body.Close()

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Transport("llm.anthropic.decode", err)
	}
	if out.Error != nil {
		return nil, errs.Transport("llm.anthropic.api", fmt.Errorf("%s", out.Error.Message))
	}
	return &out, nil
}

func toAnthropicResponse(out *anthropicResponse) *Response {
	resp := &Response{Usage: Usage{
		PromptTokens:     out.Usage.InputTokens,
		CompletionTokens: out.Usage.OutputTokens,
		TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
	}}

	var textParts []string
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "thinking":
			resp.Thinking = &ThinkingBlock{Content: block.Text, Source: "field"}
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, tool.Call{ID: block.ID, Name: block.Name, Args: block.Input})
		}
	}
	resp.Content = strings.Join(textParts, "\n")

	if resp.Thinking == nil {
		if think, rest, ok := extractThinkTag(resp.Content); ok {
			resp.Thinking = &ThinkingBlock{Content: think, Source: "tag"}
			resp.Content = rest
		}
	}
	return resp
}

func (p *anthropicProvider) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Response, error) {
	system, msgs := splitSystem(messages)
	out, err := p.doRequest(ctx, anthropicRequest{
		Model:       p.cfg.Model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return toAnthropicResponse(out), nil
}

func (p *anthropicProvider) GenerateStructured(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	system, msgs := splitSystem(messages)
	schemaNote := fmt.Sprintf("\n\nRespond with ONLY a JSON object matching this schema, no prose: %v", map[string]any(opts.Schema))
	system += schemaNote

	out, err := p.doRequest(ctx, anthropicRequest{
		Model:       p.cfg.Model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	resp := toAnthropicResponse(out)
	if strings.TrimSpace(resp.Content) == "" {
		return "", errs.Analysis("llm.anthropic.structured", fmt.Errorf("empty structured response"))
	}
	return resp.Content, nil
}

func (p *anthropicProvider) invokeWithTools(ctx context.Context, messages []Message, tools []tool.Tool, opts GenerateOptions) (*Response, error) {
	system, msgs := splitSystem(messages)

	defs := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		def := anthropicTool{Name: t.Name(), Description: t.Description()}
		if ct, ok := t.(tool.CallableTool); ok {
			def.InputSchema = ct.Schema()
		}
		defs = append(defs, def)
	}

	out, err := p.doRequest(ctx, anthropicRequest{
		Model:       p.cfg.Model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Tools:       defs,
	})
	if err != nil {
		return nil, err
	}
	return toAnthropicResponse(out), nil
}

func (p *anthropicProvider) GenerateStreaming(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := p.Generate(ctx, messages, opts)
		if err != nil {
			ch <- StreamChunk{Type: "error", Err: err}
			return
		}
		ch <- StreamChunk{Type: "content", Text: resp.Content}
		ch <- StreamChunk{Type: "done", Usage: &resp.Usage}
	}()
	return ch, nil
}
