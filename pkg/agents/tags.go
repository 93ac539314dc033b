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

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/store"
	"github.com/docpilot/core/pkg/workflow"
)

// TagsAgent proposes tags to add and remove. Existing-tag proposals are
// applied immediately; brand-new tag names always go to the review queue.
type TagsAgent struct{ deps *Deps }

// NewTagsAgent constructs the tags agent.
func NewTagsAgent(deps *Deps) *TagsAgent { return &TagsAgent{deps: deps} }

type suggestedTag struct {
	Name          string  `json:"name"`
	IsNew         bool    `json:"is_new"`
	ExistingTagID *int    `json:"existing_tag_id,omitempty"`
	Relevance     float64 `json:"relevance"`
}

type tagToRemove struct {
	TagName string `json:"tag_name"`
	Reason  string `json:"reason"`
}

type tagsAnalysis struct {
	SuggestedTags []suggestedTag `json:"suggested_tags"`
	TagsToRemove  []tagToRemove  `json:"tags_to_remove"`
	Reasoning     string         `json:"reasoning"`
	Confidence    float64        `json:"confidence"`
}

var tagsSchema = llm.JSONSchema{
	"type": "object",
	"properties": map[string]any{
		"suggested_tags": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":            map[string]any{"type": "string"},
					"is_new":          map[string]any{"type": "boolean"},
					"existing_tag_id": map[string]any{"type": "integer"},
					"relevance":       map[string]any{"type": "number"},
				},
				"required": []string{"name", "is_new", "relevance"},
			},
		},
		"tags_to_remove": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tag_name": map[string]any{"type": "string"},
					"reason":   map[string]any{"type": "string"},
				},
				"required": []string{"tag_name", "reason"},
			},
		},
		"reasoning":  map[string]any{"type": "string"},
		"confidence": map[string]any{"type": "number"},
	},
	"required": []string{"suggested_tags", "reasoning", "confidence"},
}

func isWorkflowTag(name string) bool {
	for _, t := range workflow.Precedence {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return strings.EqualFold(name, workflow.Failed) || strings.EqualFold(name, workflow.ManualReview)
}

// Run executes the tags step for doc.
func (a *TagsAgent) Run(ctx context.Context, doc *dms.Document) (Result, error) {
	d := a.deps
	if d.Settings != nil && !d.Settings.StepEnabled("tags") {
		return Result{Success: true, Skipped: true}, nil
	}

	lang := "en"
	if d.Settings != nil {
		lang = d.Settings.Language()
	}

	existingTags, err := d.DMS.EntitiesWithCounts(ctx, "tags")
	if err != nil {
		return Result{}, fmt.Errorf("tags agent: listing tags: %w", err)
	}
	existingTypes, err := d.DMS.EntitiesWithCounts(ctx, "document_types")
	if err != nil {
		return Result{}, fmt.Errorf("tags agent: listing document types: %w", err)
	}
	typeNames := make(map[string]bool, len(existingTypes))
	for _, t := range existingTypes {
		typeNames[strings.ToLower(t.Name)] = true
	}
	tagNames, err := curatedContextLines(ctx, d.Store, "tag", existingTags)
	if err != nil {
		return Result{}, fmt.Errorf("tags agent: filtering blocked/excluded names: %w", err)
	}

	buildAnalysis := func(feedback string) string {
		prompt, rerr := d.Prompts.Render(lang, "tags", "analysis", map[string]string{
			"document_content": doc.Content,
			"existing_tags":    joinLines(tagNames),
			"existing_types":   joinLines(entityNames(existingTypes)),
			"feedback":         feedback,
		})
		if rerr != nil {
			return fmt.Sprintf("Propose tags to add/remove. Content:\n%s\n\nExisting tags:\n%s\n\nFeedback: %s", doc.Content, joinLines(tagNames), feedback)
		}
		return prompt
	}
	buildConfirm := func(analysisJSON string) string {
		prompt, rerr := d.Prompts.Render(lang, "tags", "confirm", map[string]string{"analysis_result": analysisJSON})
		if rerr != nil {
			return "Confirm or reject this tag proposal:\n" + analysisJSON
		}
		return prompt
	}

	res, err := runConfirmLoop(ctx, d, "tags", tagsSchema,
		"You propose content tags for a document, never workflow tags and never a name matching an existing document type. Respond only with the requested structured JSON.",
		"You are a strict reviewer confirming proposed tag changes. Respond only with the requested structured JSON.",
		buildAnalysis, buildConfirm, doc.ID)
	if err != nil {
		return Result{}, err
	}

	var parsed tagsAnalysis
	if res.Applied {
		if jerr := json.Unmarshal([]byte(res.Analysis), &parsed); jerr != nil {
			res.NeedsReview = true
			res.Applied = false
		}
	}
	if !res.Applied {
		if err := queueReview(ctx, d, doc, reviewParams{Kind: "tag", Feedback: res.ErrorMessage, NextTag: workflow.TagsDone, Attempts: res.Attempts}); err != nil {
			return Result{}, fmt.Errorf("tags agent: queueing review: %w", err)
		}
		return Result{Success: false, NeedsReview: true, Attempts: res.Attempts, Reasoning: res.ErrorMessage}, nil
	}

	// The step is succeeding this run, so any stale "tag" review left
	// over from a prior incomplete run no longer applies. Clear it
	// before queueing this run's own new-tag proposals, or it would
	// delete the proposal it just created.
	if err := clearStaleTagReview(ctx, d.Store, doc.ID); err != nil {
		return Result{}, fmt.Errorf("tags agent: clearing stale review: %w", err)
	}

	var applied, queuedNew []string
	for _, st := range parsed.SuggestedTags {
		if isWorkflowTag(st.Name) || typeNames[strings.ToLower(st.Name)] {
			continue // invariant: never propose a workflow-tag name or a document-type name
		}
		if st.IsNew || st.ExistingTagID == nil {
			if err := queueReview(ctx, d, doc, reviewParams{
				Kind: "tag", ProposedValue: st.Name, Reasoning: parsed.Reasoning, Attempts: res.Attempts,
				Metadata: map[string]any{"relevance": st.Relevance}, SkipManualReview: true,
			}); err != nil {
				return Result{}, fmt.Errorf("tags agent: queueing new tag %q: %w", st.Name, err)
			}
			queuedNew = append(queuedNew, st.Name)
			continue
		}
		if err := d.DMS.AddTag(ctx, doc, st.Name); err != nil {
			return Result{}, fmt.Errorf("tags agent: applying tag %q: %w", st.Name, err)
		}
		applied = append(applied, st.Name)
	}

	for _, r := range parsed.TagsToRemove {
		if isWorkflowTag(r.TagName) {
			continue // invariant: removals never affect workflow tags
		}
		if err := d.DMS.RemoveTag(ctx, doc, r.TagName); err != nil {
			return Result{}, fmt.Errorf("tags agent: removing tag %q: %w", r.TagName, err)
		}
	}

	if err := d.DMS.TransitionTag(ctx, doc, workflow.DocumentTypeDone, workflow.TagsDone); err != nil {
		return Result{}, fmt.Errorf("tags agent: transitioning tag: %w", err)
	}
	if err := removeManualReviewIfPresent(ctx, d, doc); err != nil {
		return Result{}, fmt.Errorf("tags agent: clearing manual_review: %w", err)
	}

	return Result{
		Success: true, Reasoning: parsed.Reasoning, Confidence: parsed.Confidence,
		Value: strings.Join(applied, ", "), Alternatives: queuedNew, Attempts: res.Attempts,
	}, nil
}

// clearStaleTagReview removes any existing pending review of kind "tag" for
// doc, since the tags step just ran to completion and superseded it.
func clearStaleTagReview(ctx context.Context, st *store.Store, docID int) error {
	reviews, err := st.ListPendingReviews(ctx, "tag")
	if err != nil {
		return err
	}
	for _, r := range reviews {
		if r.DocumentID == docID {
			if err := st.DeletePendingReview(ctx, r.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func removeManualReviewIfPresent(ctx context.Context, d *Deps, doc *dms.Document) error {
	has, err := d.DMS.DocumentHasTag(ctx, doc, workflow.ManualReview)
	if err != nil || !has {
		return err
	}
	return d.DMS.RemoveTag(ctx, doc, workflow.ManualReview)
}
