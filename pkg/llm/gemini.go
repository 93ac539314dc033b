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
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/docpilot/core/pkg/errs"
)

// geminiProvider wraps google.golang.org/genai, the official Go SDK for the
// Gemini API.
type geminiProvider struct {
	cfg    ProviderConfig
	client *genai.Client
}

func newGeminiProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Model == "" {
		return nil, errs.Config("llm.gemini", fmt.Errorf("model is required"))
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, errs.Config("llm.gemini.client", err)
	}

	return &geminiProvider{cfg: cfg, client: client}, nil
}

func (p *geminiProvider) Name() string      { return "gemini" }
func (p *geminiProvider) ModelName() string { return p.cfg.Model }
func (p *geminiProvider) Close() error      { return nil }

func toGeminiContents(messages []Message) (string, []*genai.Content) {
	var system string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return system, contents
}

func (p *geminiProvider) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Response, error) {
	system, contents := toGeminiContents(messages)

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	result, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, cfg)
	if err != nil {
		return nil, errs.Transport("llm.gemini.generate", err)
	}

	text := result.Text()
	thinking, rest, ok := extractThinkTag(text)
	resp := &Response{Content: text}
	if ok {
		resp.Thinking = &ThinkingBlock{Content: thinking, Source: "tag"}
		resp.Content = rest
	}
	if result.UsageMetadata != nil {
		resp.Usage = Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(result.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}

func (p *geminiProvider) GenerateStructured(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	system, contents := toGeminiContents(messages)

	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(opts.Temperature)),
		ResponseMIMEType: "application/json",
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	result, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, cfg)
	if err != nil {
		return "", errs.Transport("llm.gemini.structured", err)
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", errs.Analysis("llm.gemini.structured", fmt.Errorf("empty structured response"))
	}
	return text, nil
}

func (p *geminiProvider) GenerateStreaming(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error) {
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
