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

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/workflow"
)

// TitleAgent proposes a document title grounded in similar previously
// processed documents.
type TitleAgent struct{ deps *Deps }

// NewTitleAgent constructs the title agent.
func NewTitleAgent(deps *Deps) *TitleAgent { return &TitleAgent{deps: deps} }

type titleAnalysis struct {
	SuggestedTitle string   `json:"suggested_title"`
	Reasoning      string   `json:"reasoning"`
	Confidence     float64  `json:"confidence"`
	BasedOnSimilar []string `json:"based_on_similar"`
}

var titleSchema = llm.JSONSchema{
	"type": "object",
	"properties": map[string]any{
		"suggested_title":  map[string]any{"type": "string"},
		"reasoning":        map[string]any{"type": "string"},
		"confidence":       map[string]any{"type": "number"},
		"based_on_similar": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"suggested_title", "reasoning", "confidence"},
}

// Run executes the title step for doc.
func (a *TitleAgent) Run(ctx context.Context, doc *dms.Document) (Result, error) {
	if a.deps.Settings != nil && !a.deps.Settings.StepEnabled("title") {
		return Result{Success: true, Skipped: true}, nil
	}

	lang := "en"
	if a.deps.Settings != nil {
		lang = a.deps.Settings.Language()
	}
	similar, err := similarDocsSummary(ctx, a.deps, doc.Content, 5)
	if err != nil {
		return Result{}, fmt.Errorf("title agent: similar docs: %w", err)
	}

	buildAnalysis := func(feedback string) string {
		prompt, rerr := a.deps.Prompts.Render(lang, "title", "analysis", map[string]string{
			"document_content": doc.Content,
			"similar_docs":      similar,
			"feedback":          feedback,
		})
		if rerr != nil {
			return fmt.Sprintf("Propose a title for this document. Content:\n%s\n\nSimilar documents:\n%s\n\nFeedback: %s", doc.Content, similar, feedback)
		}
		return prompt
	}
	buildConfirm := func(analysisJSON string) string {
		prompt, rerr := a.deps.Prompts.Render(lang, "title", "confirm", map[string]string{
			"analysis_result": analysisJSON,
		})
		if rerr != nil {
			return "Confirm or reject this title proposal:\n" + analysisJSON
		}
		return prompt
	}

	res, err := runConfirmLoop(ctx, a.deps, "title", titleSchema,
		"You verify and propose document titles for a document management system. Respond only with the requested structured JSON.",
		"You are a strict reviewer confirming a proposed document title. Respond only with the requested structured JSON.",
		buildAnalysis, buildConfirm, doc.ID)
	if err != nil {
		return Result{}, err
	}

	var parsed titleAnalysis
	if res.Applied {
		if jerr := json.Unmarshal([]byte(res.Analysis), &parsed); jerr != nil {
			res.NeedsReview = true
			res.Applied = false
		}
	}

	if res.Applied && parsed.SuggestedTitle != "" {
		newTitle := parsed.SuggestedTitle
		if _, err := a.deps.DMS.UpdateDocument(ctx, doc.ID, dms.DocumentPatch{Title: &newTitle}); err != nil {
			return Result{}, fmt.Errorf("title agent: applying title: %w", err)
		}
		if err := a.deps.DMS.TransitionTag(ctx, doc, workflow.SummaryDone, workflow.TitleDone); err != nil {
			return Result{}, fmt.Errorf("title agent: transitioning tag: %w", err)
		}
		return Result{
			Success: true, Value: parsed.SuggestedTitle, Reasoning: parsed.Reasoning,
			Confidence: parsed.Confidence, Alternatives: parsed.BasedOnSimilar, Attempts: res.Attempts,
		}, nil
	}

	if err := queueReview(ctx, a.deps, doc, reviewParams{
		Kind: "title", ProposedValue: parsed.SuggestedTitle, Reasoning: parsed.Reasoning,
		Feedback: res.ErrorMessage, NextTag: workflow.TitleDone, Attempts: res.Attempts,
	}); err != nil {
		return Result{}, fmt.Errorf("title agent: queueing review: %w", err)
	}
	return Result{Success: false, NeedsReview: true, Attempts: res.Attempts, Reasoning: res.ErrorMessage}, nil
}
