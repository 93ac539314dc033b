// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tool defines interfaces for the read-only reference tools bound to
// the analysis model's tool-calling rounds.
//
// Every tool in this layer is synchronous, side-effect free against the DMS,
// and returns a plain-string rendering meant for re-ingestion into a prompt.
package tool

import (
	"context"
)

// Tool defines the base interface for a callable tool.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	// Used by the analysis model to decide when to invoke this tool.
	Description() string
}

// CallableTool extends Tool with synchronous execution capability.
type CallableTool interface {
	Tool

	// Call executes the tool with the given arguments and returns a
	// plain-string rendering of the result.
	Call(ctx Context, args map[string]any) (string, error)

	// Schema returns the JSON schema for the tool's parameters.
	Schema() map[string]any
}

// Context provides the execution context for a tool invocation. It carries
// only what a read-only reference tool can legitimately need: cancellation,
// deadlines, and the document id of the run the tool call belongs to (used to
// reject self-lookups of documents that are not yet fully processed).
type Context interface {
	context.Context

	// RunDocumentID is the id of the document the owning confirmation-loop
	// run is analyzing.
	RunDocumentID() int
}

// Toolset groups related tools and provides dynamic resolution.
type Toolset interface {
	// Name returns the name of this toolset.
	Name() string

	// Tools returns the available tools.
	Tools(ctx context.Context) ([]Tool, error)
}

// Predicate determines whether a tool should be available to the model.
type Predicate func(tool Tool) bool

// StringPredicate creates a Predicate that allows only named tools.
func StringPredicate(allowedTools []string) Predicate {
	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}

	return func(tool Tool) bool {
		return allowed[tool.Name()]
	}
}

// AllowAll returns a Predicate that allows all tools.
func AllowAll() Predicate {
	return func(tool Tool) bool { return true }
}

// DenyAll returns a Predicate that denies all tools.
func DenyAll() Predicate {
	return func(tool Tool) bool { return false }
}

// Combine combines multiple predicates with AND logic.
func Combine(predicates ...Predicate) Predicate {
	return func(tool Tool) bool {
		for _, p := range predicates {
			if !p(tool) {
				return false
			}
		}
		return true
	}
}

// Or combines multiple predicates with OR logic.
func Or(predicates ...Predicate) Predicate {
	return func(tool Tool) bool {
		for _, p := range predicates {
			if p(tool) {
				return true
			}
		}
		return false
	}
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return func(tool Tool) bool { return !p(tool) }
}

// Definition represents a tool definition for LLM function calling.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a tool to a Definition.
func ToDefinition(t Tool) Definition {
	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
	}

	if ct, ok := t.(CallableTool); ok {
		def.Parameters = ct.Schema()
	}

	return def
}

// Call represents a model's request to invoke a tool.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result represents the result of a tool invocation, rendered for
// re-ingestion into the conversation.
type Result struct {
	CallID  string
	Content string
	Error   string
}
