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
	"time"

	"github.com/google/uuid"

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/store"
	"github.com/docpilot/core/pkg/workflow"
)

// SummaryAgent produces a short abstract of the document, stored as a
// metadata annotation rather than a DMS custom field (it has no
// first-class home on the document). Optional: skipped entirely if
// disabled in settings.
type SummaryAgent struct{ deps *Deps }

// NewSummaryAgent constructs the summary agent.
func NewSummaryAgent(deps *Deps) *SummaryAgent { return &SummaryAgent{deps: deps} }

type summaryAnalysis struct {
	Summary    string  `json:"summary"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

var summarySchema = llm.JSONSchema{
	"type": "object",
	"properties": map[string]any{
		"summary":    map[string]any{"type": "string"},
		"reasoning":  map[string]any{"type": "string"},
		"confidence": map[string]any{"type": "number"},
	},
	"required": []string{"summary", "confidence"},
}

// Run executes the summary step for doc.
func (a *SummaryAgent) Run(ctx context.Context, doc *dms.Document) (Result, error) {
	d := a.deps
	if d.Settings != nil && !d.Settings.StepEnabled("summary") {
		return a.transition(ctx, doc, Result{Success: true, Skipped: true})
	}

	lang := "en"
	if d.Settings != nil {
		lang = d.Settings.Language()
	}

	buildAnalysis := func(feedback string) string {
		prompt, rerr := d.Prompts.Render(lang, "summary", "analysis", map[string]string{
			"document_content": doc.Content,
			"feedback":         feedback,
		})
		if rerr != nil {
			return fmt.Sprintf("Summarize this document in two or three sentences. Content:\n%s\n\nFeedback: %s", doc.Content, feedback)
		}
		return prompt
	}
	buildConfirm := func(analysisJSON string) string {
		prompt, rerr := d.Prompts.Render(lang, "summary", "confirm", map[string]string{"analysis_result": analysisJSON})
		if rerr != nil {
			return "Confirm or reject this summary:\n" + analysisJSON
		}
		return prompt
	}

	res, err := runConfirmLoop(ctx, d, "summary", summarySchema,
		"You write a short, faithful abstract of a document. Respond only with the requested structured JSON.",
		"You are a strict reviewer confirming a proposed document summary. Respond only with the requested structured JSON.",
		buildAnalysis, buildConfirm, doc.ID)
	if err != nil {
		return Result{}, err
	}

	if !res.Applied {
		if err := queueReview(ctx, d, doc, reviewParams{Kind: "summary", Feedback: res.ErrorMessage, NextTag: workflow.SummaryDone, Attempts: res.Attempts}); err != nil {
			return Result{}, fmt.Errorf("summary agent: queueing review: %w", err)
		}
		return Result{Success: false, NeedsReview: true, Attempts: res.Attempts, Reasoning: res.ErrorMessage}, nil
	}

	var parsed summaryAnalysis
	if jerr := json.Unmarshal([]byte(res.Analysis), &parsed); jerr != nil {
		return a.transition(ctx, doc, Result{Success: true, NeedsReview: true, Reasoning: "malformed analysis: " + jerr.Error()})
	}

	if err := d.Store.PutMetadataAnnotation(ctx, store.MetadataAnnotation{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Step:       "summary",
		Field:      "summary",
		Value:      parsed.Summary,
		Confidence: parsed.Confidence,
		CreatedAt:  time.Now(),
	}); err != nil {
		return Result{}, fmt.Errorf("summary agent: recording annotation: %w", err)
	}

	return a.transition(ctx, doc, Result{
		Success: true, Value: parsed.Summary, Reasoning: parsed.Reasoning,
		Confidence: parsed.Confidence, Attempts: res.Attempts,
	})
}

func (a *SummaryAgent) transition(ctx context.Context, doc *dms.Document, r Result) (Result, error) {
	if err := a.deps.DMS.TransitionTag(ctx, doc, workflow.OCRDone, workflow.SummaryDone); err != nil {
		return Result{}, fmt.Errorf("summary agent: transitioning tag: %w", err)
	}
	return r, nil
}
