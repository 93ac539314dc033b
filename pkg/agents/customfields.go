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
	"strconv"
	"strings"

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/workflow"
)

// CustomFieldsAgent proposes values for configured custom fields. It is
// optional: with no custom fields configured, it returns skipped, and it
// still moves the document from tags_done to processed, since this step
// also serves as the pipeline's finalizer. It never blocks the pipeline on
// failure — a failed run still succeeds with needs_review set.
type CustomFieldsAgent struct{ deps *Deps }

// NewCustomFieldsAgent constructs the custom-fields agent.
func NewCustomFieldsAgent(deps *Deps) *CustomFieldsAgent { return &CustomFieldsAgent{deps: deps} }

type customFieldProposal struct {
	FieldID   int    `json:"field_id"`
	Value     string `json:"value"`
	Reasoning string `json:"reasoning"`
}

type customFieldsAnalysis struct {
	Fields []customFieldProposal `json:"fields"`
}

var customFieldsSchema = llm.JSONSchema{
	"type": "object",
	"properties": map[string]any{
		"fields": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"field_id":  map[string]any{"type": "integer"},
					"value":     map[string]any{"type": "string"},
					"reasoning": map[string]any{"type": "string"},
				},
				"required": []string{"field_id", "value"},
			},
		},
	},
	"required": []string{"fields"},
}

// Run executes the custom-fields step for doc.
func (a *CustomFieldsAgent) Run(ctx context.Context, doc *dms.Document) (Result, error) {
	d := a.deps
	if d.Settings != nil && !d.Settings.StepEnabled("custom_fields") {
		return a.finalize(ctx, doc, Result{Success: true, Skipped: true})
	}

	fields, err := d.DMS.ListCustomFields(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("custom fields agent: listing fields: %w", err)
	}
	if len(fields) == 0 {
		return a.finalize(ctx, doc, Result{Success: true, Skipped: true})
	}

	lang := "en"
	if d.Settings != nil {
		lang = d.Settings.Language()
	}

	annotations, err := d.Store.ListCuratedAnnotations(ctx, "custom_field")
	if err != nil {
		return Result{}, fmt.Errorf("custom fields agent: listing curated annotations: %w", err)
	}
	byTarget := make(map[int]bool, len(annotations))
	descByTarget := make(map[int]string, len(annotations))
	for _, a := range annotations {
		byTarget[a.TargetID] = a.Excluded
		descByTarget[a.TargetID] = a.Description
	}

	var fieldLines strings.Builder
	considered := fields[:0:0]
	for _, f := range fields {
		if byTarget[f.ID] {
			continue // curator flagged this field excluded from AI analysis
		}
		considered = append(considered, f)
		if desc := descByTarget[f.ID]; desc != "" {
			fmt.Fprintf(&fieldLines, "- id=%d name=%q description=%q\n", f.ID, f.Name, desc)
		} else {
			fmt.Fprintf(&fieldLines, "- id=%d name=%q\n", f.ID, f.Name)
		}
	}
	fields = considered
	if len(fields) == 0 {
		return a.finalize(ctx, doc, Result{Success: true, Skipped: true})
	}

	buildAnalysis := func(feedback string) string {
		prompt, rerr := d.Prompts.Render(lang, "custom_fields", "analysis", map[string]string{
			"document_content": doc.Content,
			"custom_fields":    fieldLines.String(),
			"feedback":         feedback,
		})
		if rerr != nil {
			return fmt.Sprintf("Propose values for these custom fields. Content:\n%s\n\nFields:\n%s\n\nFeedback: %s", doc.Content, fieldLines.String(), feedback)
		}
		return prompt
	}
	buildConfirm := func(analysisJSON string) string {
		prompt, rerr := d.Prompts.Render(lang, "custom_fields", "confirm", map[string]string{"analysis_result": analysisJSON})
		if rerr != nil {
			return "Confirm or reject these custom field values:\n" + analysisJSON
		}
		return prompt
	}

	res, err := runConfirmLoop(ctx, d, "custom_fields", customFieldsSchema,
		"You propose values for a document's configured custom fields, grounded strictly in its content. Respond only with the requested structured JSON.",
		"You are a strict reviewer confirming proposed custom field values. Respond only with the requested structured JSON.",
		buildAnalysis, buildConfirm, doc.ID)
	if err != nil {
		return Result{}, err
	}

	if !res.Applied {
		// Never blocks the pipeline: still succeeds, flagged for review.
		return a.finalize(ctx, doc, Result{Success: true, NeedsReview: true, Attempts: res.Attempts, Reasoning: res.ErrorMessage})
	}

	var parsed customFieldsAnalysis
	if jerr := json.Unmarshal([]byte(res.Analysis), &parsed); jerr != nil {
		return a.finalize(ctx, doc, Result{Success: true, NeedsReview: true, Attempts: res.Attempts, Reasoning: "malformed analysis: " + jerr.Error()})
	}

	patch := dms.DocumentPatch{}
	var applied []string
	for _, p := range parsed.Fields {
		patch.CustomFields = append(patch.CustomFields, dms.CustomFieldValue{Field: p.FieldID, Value: p.Value})
		applied = append(applied, strconv.Itoa(p.FieldID)+"="+p.Value)
	}
	if len(patch.CustomFields) > 0 {
		if _, err := d.DMS.UpdateDocument(ctx, doc.ID, patch); err != nil {
			return Result{}, fmt.Errorf("custom fields agent: applying fields: %w", err)
		}
	}

	return a.finalize(ctx, doc, Result{Success: true, Value: strings.Join(applied, ", "), Attempts: res.Attempts})
}

// finalize transitions doc to the terminal processed tag, since this step
// is always the pipeline's last one regardless of whether it ran, was
// skipped, or failed non-blockingly.
func (a *CustomFieldsAgent) finalize(ctx context.Context, doc *dms.Document, r Result) (Result, error) {
	if err := a.deps.DMS.TransitionTag(ctx, doc, workflow.TagsDone, workflow.Processed); err != nil {
		return Result{}, fmt.Errorf("custom fields agent: transitioning to processed: %w", err)
	}
	return r, nil
}
