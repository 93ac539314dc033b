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

// Package llm adapts the two logical models the confirmation-loop engine
// depends on — a "large" model for structured reasoning and tool use, and a
// "small" model for cheap binary confirmation — behind a single interface,
// with concrete providers for OpenAI, Anthropic, Gemini, and an
// Ollama-compatible local endpoint.
package llm

import (
	"context"

	"github.com/docpilot/core/pkg/tool"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation sent to or received from a provider.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []tool.Call
	ToolCallID string // set on RoleTool messages, echoes the call this answers
	Name       string
}

// ThinkingBlock carries a model's extracted chain-of-thought, when the
// provider surfaces one (a `<think>` prefix, a reasoning-content
// side-channel field, or an alternate thinking field), separate from the
// visible response content.
type ThinkingBlock struct {
	Content string
	Source  string // "tag", "side_channel", or "field"
}

// Usage reports token accounting for a single call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a provider's reply to a Generate call.
type Response struct {
	Content   string
	ToolCalls []tool.Call
	Thinking  *ThinkingBlock
	Usage     Usage
}

// StreamChunk is one increment of a streamed response.
type StreamChunk struct {
	Type     string // "content", "thinking", "tool_call", "done", "error"
	Text     string
	ToolCall *tool.Call
	Usage    *Usage
	Err      error
}

// JSONSchema is a minimal JSON Schema document used to constrain structured
// output. Callers typically generate this via invopop/jsonschema from a Go
// struct and pass the resulting map.
type JSONSchema map[string]any

// GenerateOptions configures a single Generate/GenerateStructured call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	Schema      JSONSchema // when set, GenerateStructured requests this shape
}

// Provider is the interface every concrete LLM backend implements.
type Provider interface {
	// Name identifies the provider for logging ("openai", "anthropic", ...).
	Name() string

	// ModelName returns the configured model identifier.
	ModelName() string

	// Generate sends messages and returns the full response.
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*Response, error)

	// GenerateStructured sends messages with opts.Schema as the requested
	// response shape, returning the raw JSON text of the structured object.
	// The text is not validated against the schema; an empty response is
	// returned as an *errs.Error of KindAnalysis.
	GenerateStructured(ctx context.Context, messages []Message, opts GenerateOptions) (string, error)

	// GenerateStreaming streams the response incrementally.
	GenerateStreaming(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error)

	Close() error
}

// ToolBoundProvider is returned by BindTools; invoking it yields either a
// structured result (no tool calls requested) or a set of tool calls the
// caller must execute before looping back into the provider.
type ToolBoundProvider interface {
	Invoke(ctx context.Context, messages []Message) (*Response, error)
}
