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

// Package agents implements the seven step-specific pipeline agents (OCR,
// summary, title, correspondent, document type, tags, custom fields). Each
// agent assembles its own prompt context, runs the confirmation-loop
// engine with its own schema, applies the result to the DMS and
// transitions the document's workflow tag on success, or writes a pending
// review and tags the document manual_review on failure.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docpilot/core/pkg/confirmloop"
	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/embedder"
	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/promptstore"
	"github.com/docpilot/core/pkg/store"
	"github.com/docpilot/core/pkg/tool"
	"github.com/docpilot/core/pkg/vector"
	"github.com/docpilot/core/pkg/workflow"
)

// Result is the common shape returned by every agent.
type Result struct {
	Success      bool
	Value        string
	Reasoning    string
	Confidence   float64
	Alternatives []string
	Attempts     int
	NeedsReview  bool
	Skipped      bool
}

// Settings is the subset of runtime settings agents need, re-read fresh on
// every call (never cached in a long-lived struct field) so an operator's
// change takes effect on the very next document processed.
type Settings interface {
	StepEnabled(step string) bool
	Language() string
	MaxConfirmAttempts() int
	MaxToolCalls() int
	CustomFieldsConfigured(ctx context.Context) (bool, error)
}

// Deps bundles every collaborator an agent needs. One Deps is shared by
// every agent instance; agents themselves are stateless between calls.
type Deps struct {
	DMS      *dms.Client
	Vector   vector.Provider
	Embedder embedder.Embedder
	Prompts  *promptstore.Store
	Store    *store.Store
	Large    llm.Provider
	Small    llm.Provider
	Tools    []tool.Tool
	Logger   confirmloop.Logger
	Settings Settings
}

// runContext is the concrete tool.Context bound to one document run.
type runContext struct {
	context.Context
	docID int
}

func (r runContext) RunDocumentID() int { return r.docID }

func newToolContext(ctx context.Context, docID int) tool.Context {
	return runContext{Context: ctx, docID: docID}
}

// docIDKey carries the document ID being processed so a shared
// confirmloop.Logger can attribute events without every agent building its
// own per-document logger.
type docIDKey struct{}

func withDocID(ctx context.Context, docID int) context.Context {
	return context.WithValue(ctx, docIDKey{}, docID)
}

// DocIDFromContext recovers the document ID set by withDocID, for
// confirmloop.Logger implementations that need to attribute an event to a
// document (see StoreLogger).
func DocIDFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(docIDKey{}).(int)
	return v, ok
}

// toolRunner resolves and invokes a tool.CallableTool by name from deps.Tools.
func toolRunner(tools []tool.Tool) func(ctx tool.Context, call tool.Call) (string, error) {
	return func(ctx tool.Context, call tool.Call) (string, error) {
		for _, t := range tools {
			if t.Name() != call.Name {
				continue
			}
			callable, ok := t.(tool.CallableTool)
			if !ok {
				return "", fmt.Errorf("tool %q is not callable", call.Name)
			}
			return callable.Call(ctx, call.Args)
		}
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

// similarDocsSummary renders up to limit near-duplicate titles for prompt
// grounding, via vector search over the document's own content.
func similarDocsSummary(ctx context.Context, d *Deps, content string, limit int) (string, error) {
	if d.Vector == nil || d.Embedder == nil || content == "" {
		return "", nil
	}
	vec, err := d.Embedder.Embed(ctx, content)
	if err != nil {
		return "", err
	}
	results, err := d.Vector.SearchWithFilter(ctx, "documents", vec, limit, map[string]any{"processed": "true"})
	if err != nil {
		return "", err
	}
	out := ""
	for _, r := range results {
		out += fmt.Sprintf("- %v (score=%.3f)\n", r.Metadata["title"], r.Score)
	}
	return out, nil
}

// entityNames extracts plain names from a list of entities, for prompt
// context (e.g. "existing_correspondents").
func entityNames(entities []dms.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.Name
	}
	return out
}

// filterBlocked removes any name blocked for kind (globally or specifically)
// from names.
func filterBlocked(ctx context.Context, st *store.Store, kind string, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		blocked, err := st.IsBlocked(ctx, kind, n)
		if err != nil {
			return nil, err
		}
		if !blocked {
			out = append(out, n)
		}
	}
	return out, nil
}

// curatedContextLines renders entities (tags or custom fields, per
// annotationKind) as existing-options prompt context: an entity flagged
// excluded by its curated annotation is dropped entirely (never considered
// in AI analysis), a blocked name is dropped same as filterBlocked, and a
// surviving entity with a curated description is rendered as
// "name (description)" so the curator's context reaches the prompt without
// a dedicated template placeholder.
func curatedContextLines(ctx context.Context, st *store.Store, annotationKind string, entities []dms.Entity) ([]string, error) {
	annotations, err := st.ListCuratedAnnotations(ctx, annotationKind)
	if err != nil {
		return nil, err
	}
	byTarget := make(map[int]store.CuratedAnnotation, len(annotations))
	for _, a := range annotations {
		byTarget[a.TargetID] = a
	}

	var lines []string
	for _, e := range entities {
		if a, ok := byTarget[e.ID]; ok && a.Excluded {
			continue
		}
		blocked, err := st.IsBlocked(ctx, annotationKind, e.Name)
		if err != nil {
			return nil, err
		}
		if blocked {
			continue
		}
		if a, ok := byTarget[e.ID]; ok && a.Description != "" {
			lines = append(lines, fmt.Sprintf("%s (%s)", e.Name, a.Description))
		} else {
			lines = append(lines, e.Name)
		}
	}
	return lines, nil
}

// reviewParams carries the fields an agent has on hand when a proposal
// needs operator attention. Kind and ProposedValue are the only required
// fields; the rest default to their zero value.
type reviewParams struct {
	Kind          string
	ProposedValue string
	Reasoning     string  // why the agent proposed this value
	Feedback      string  // last confirmation-loop rejection feedback, if any
	NextTag       string  // workflow tag to transition to on approval, if any
	Attempts      int     // confirmation-loop attempts spent before queueing
	Alternatives  []string
	Metadata      map[string]any // free-form context, e.g. a relevance score

	// SkipManualReview is set by steps that queue a review without the
	// step itself failing (e.g. a brand-new tag alongside other tags
	// that applied cleanly): the document should not be flagged
	// manual_review just because one sub-proposal needs approval.
	SkipManualReview bool
}

// queueReview writes a pending review for doc under p.Kind, enforcing
// invariant #3 by replacing any prior active review for the same
// (document, kind). Unless SkipManualReview is set, it also marks the
// document manual_review and leaves its workflow tag untouched so a retry
// of the same step is safe.
func queueReview(ctx context.Context, d *Deps, doc *dms.Document, p reviewParams) error {
	var metadataJSON string
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling review metadata: %w", err)
		}
		metadataJSON = string(b)
	}
	review := store.PendingReview{
		ID:            uuid.NewString(),
		Kind:          p.Kind,
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		ProposedValue: p.ProposedValue,
		Reasoning:     p.Reasoning,
		Feedback:      p.Feedback,
		NextTag:       p.NextTag,
		Attempts:      p.Attempts,
		Alternatives:  p.Alternatives,
		Metadata:      metadataJSON,
		CreatedAt:     time.Now(),
	}
	if err := d.Store.ReplacePendingReview(ctx, review); err != nil {
		return fmt.Errorf("writing pending review: %w", err)
	}
	if p.SkipManualReview {
		return nil
	}
	return d.DMS.AddTag(ctx, doc, workflow.ManualReview)
}

// runConfirmLoop wires a confirmation-loop run with the agent's schema and
// prompts, using deps' shared models, tools, and logger.
func runConfirmLoop(ctx context.Context, d *Deps, agentName string, schema llm.JSONSchema, systemAnalysis, systemConfirm string, buildAnalysis func(feedback string) string, buildConfirm func(analysisJSON string) string, docID int) (confirmloop.Result, error) {
	maxAttempts := 3
	maxTools := 5
	if d.Settings != nil {
		if n := d.Settings.MaxConfirmAttempts(); n > 0 {
			maxAttempts = n
		}
		if n := d.Settings.MaxToolCalls(); n > 0 {
			maxTools = n
		}
	}
	ctx = withDocID(ctx, docID)
	return confirmloop.Run(ctx, confirmloop.Config{
		AgentName:           agentName,
		Large:               d.Large,
		Small:               d.Small,
		Tools:               d.Tools,
		ToolRunner:          toolRunner(d.Tools),
		ToolContext:         newToolContext(ctx, docID),
		MaxToolCalls:        maxTools,
		AnalysisSchema:      schema,
		SystemAnalysis:      systemAnalysis,
		SystemConfirm:       systemConfirm,
		BuildAnalysisPrompt: buildAnalysis,
		BuildConfirmPrompt:  buildConfirm,
		MaxAttempts:         maxAttempts,
		Logger:              d.Logger,
	})
}
