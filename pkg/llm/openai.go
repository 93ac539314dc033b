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

// openaiProvider talks to the OpenAI Chat Completions API (and any
// OpenAI-compatible endpoint, including Ollama's /v1/chat/completions
// shim, by overriding BaseURL).
type openaiProvider struct {
	cfg    ProviderConfig
	client *httpclient.Client
	apiKey string
	url    string
}

func newOpenAIProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Model == "" {
		return nil, errs.Config("llm.openai", fmt.Errorf("model is required"))
	}
	url := cfg.BaseURL
	if url == "" {
		url = "https://api.openai.com/v1/chat/completions"
	}
	return &openaiProvider{
		cfg:    cfg,
		client: httpclient.New(httpclient.WithRetryStrategy(httpclient.DefaultStrategy)),
		apiKey: cfg.APIKey,
		url:    url,
	}, nil
}

func (p *openaiProvider) Name() string      { return "openai" }
func (p *openaiProvider) ModelName() string { return p.cfg.Model }
func (p *openaiProvider) Close() error      { return nil }

type openaiMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  []openaiToolUse `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type openaiToolUse struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiRequest struct {
	Model          string           `json:"model"`
	Messages       []openaiMessage  `json:"messages"`
	Temperature    float64          `json:"temperature,omitempty"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	Tools          []openaiToolDef  `json:"tools,omitempty"`
	ResponseFormat *openaiRespForm  `json:"response_format,omitempty"`
	Stream         bool             `json:"stream,omitempty"`
}

type openaiToolDef struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openaiRespForm struct {
	Type       string     `json:"type"`
	JSONSchema JSONSchema `json:"json_schema,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content          string          `json:"content"`
			ReasoningContent string          `json:"reasoning_content"`
			ToolCalls        []openaiToolUse `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func toOpenAIMessages(messages []Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(messages))
	for _, m := range messages {
		om := openaiMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			use := openaiToolUse{ID: tc.ID, Type: "function"}
			use.Function.Name = tc.Name
			use.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, use)
		}
		out = append(out, om)
	}
	return out
}

func (p *openaiProvider) doRequest(ctx context.Context, req openaiRequest) (*openaiResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Analysis("llm.openai.marshal", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Transport("llm.openai.request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errs.Transport("llm.openai.do", err)
	}
	defer resp.Body.Close()

	var out openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Transport("llm.openai.decode", err)
	}
	if out.Error != nil {
		return nil, errs.Transport("llm.openai.api", fmt.Errorf("%s", out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return nil, errs.Analysis("llm.openai.empty", fmt.Errorf("no choices returned"))
	}
	return &out, nil
}

func (p *openaiProvider) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Response, error) {
	req := openaiRequest{
		Model:       p.cfg.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	out, err := p.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return toResponse(out), nil
}

func (p *openaiProvider) GenerateStructured(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	req := openaiRequest{
		Model:       p.cfg.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		ResponseFormat: &openaiRespForm{
			Type:       "json_schema",
			JSONSchema: opts.Schema,
		},
	}
	out, err := p.doRequest(ctx, req)
	if err != nil {
		return "", err
	}
	content := out.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", errs.Analysis("llm.openai.structured", fmt.Errorf("empty structured response"))
	}
	return content, nil
}

func (p *openaiProvider) GenerateStreaming(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error) {
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

// boundProvider implements ToolBoundProvider for any Provider, sending the
// bound tool definitions on every Invoke call.
type boundProvider struct {
	provider Provider
	tools    []tool.Tool
	opts     GenerateOptions
}

// BindTools returns a ToolBoundProvider that offers tools on every Invoke.
func BindTools(p Provider, tools []tool.Tool, opts GenerateOptions) ToolBoundProvider {
	return &boundProvider{provider: p, tools: tools, opts: opts}
}

func (b *boundProvider) Invoke(ctx context.Context, messages []Message) (*Response, error) {
	if rl, ok := b.provider.(*rateLimitedProvider); ok {
		if err := rl.precheck(ctx); err != nil {
			return nil, err
		}
		resp, err := (&boundProvider{provider: rl.Provider, tools: b.tools, opts: b.opts}).Invoke(ctx, messages)
		if err != nil {
			return nil, err
		}
		rl.record(ctx, int64(resp.Usage.TotalTokens))
		return resp, nil
	}
	if olp, ok := b.provider.(*ollamaProvider); ok {
		return (&boundProvider{provider: olp.Provider, tools: b.tools, opts: b.opts}).Invoke(ctx, messages)
	}
	if ap, ok := b.provider.(*anthropicProvider); ok {
		return ap.invokeWithTools(ctx, messages, b.tools, b.opts)
	}

	op, ok := b.provider.(*openaiProvider)
	if !ok {
		// Providers with no native tool-calling support fall back to plain
		// generation; they still receive tool definitions rendered into the
		// prompt by the caller's user-prompt builder.
		return b.provider.Generate(ctx, messages, b.opts)
	}

	defs := make([]openaiToolDef, 0, len(b.tools))
	for _, t := range b.tools {
		var def openaiToolDef
		def.Type = "function"
		def.Function.Name = t.Name()
		def.Function.Description = t.Description()
		if ct, ok := t.(tool.CallableTool); ok {
			def.Function.Parameters = ct.Schema()
		}
		defs = append(defs, def)
	}

	req := openaiRequest{
		Model:       op.cfg.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: b.opts.Temperature,
		MaxTokens:   b.opts.MaxTokens,
		Tools:       defs,
	}
	out, err := op.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return toResponse(out), nil
}

func toResponse(out *openaiResponse) *Response {
	msg := out.Choices[0].Message
	resp := &Response{
		Content: msg.Content,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}

	if msg.ReasoningContent != "" {
		resp.Thinking = &ThinkingBlock{Content: msg.ReasoningContent, Source: "side_channel"}
	} else if think, rest, ok := extractThinkTag(msg.Content); ok {
		resp.Thinking = &ThinkingBlock{Content: think, Source: "tag"}
		resp.Content = rest
	}

	for _, tc := range msg.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		resp.ToolCalls = append(resp.ToolCalls, tool.Call{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}

	return resp
}

// extractThinkTag pulls a leading <think>...</think> block out of content,
// one of three ways a provider may surface chain-of-thought (see
// ThinkingBlock).
func extractThinkTag(content string) (thinking, rest string, ok bool) {
	const open, close = "<think>", "</think>"
	start := strings.Index(content, open)
	if start != 0 {
		return "", content, false
	}
	end := strings.Index(content, close)
	if end < 0 {
		return "", content, false
	}
	thinking = strings.TrimSpace(content[len(open):end])
	rest = strings.TrimSpace(content[end+len(close):])
	return thinking, rest, true
}
