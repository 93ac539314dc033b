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
)

// entityProposalAnalysis is the shared analysis shape for correspondent
// and document-type agents: propose an existing entity by id, or a brand
// new name. New names are never auto-created — they always fall through
// to the review queue.
type entityProposalAnalysis struct {
	SuggestedName string  `json:"suggested_name"`
	IsNew         bool    `json:"is_new"`
	ExistingID    *int    `json:"existing_id,omitempty"`
	Reasoning     string  `json:"reasoning"`
	Confidence    float64 `json:"confidence"`
}

var entityProposalSchema = llm.JSONSchema{
	"type": "object",
	"properties": map[string]any{
		"suggested_name": map[string]any{"type": "string"},
		"is_new":         map[string]any{"type": "boolean"},
		"existing_id":    map[string]any{"type": "integer"},
		"reasoning":      map[string]any{"type": "string"},
		"confidence":     map[string]any{"type": "number"},
	},
	"required": []string{"suggested_name", "is_new", "reasoning", "confidence"},
}

// entityProposalConfig parameterizes the shared correspondent/document-type
// flow: which entity kind it talks to, which patch field and workflow
// tags it uses.
type entityProposalConfig struct {
	kind           string // "correspondents" or "document_types"
	stepName       string // "correspondent" or "document_type"
	templateName   string
	inTag, outTag  string
	existingTitle  string // prompt placeholder key, e.g. "existing_correspondents"
	applyPatch     func(entityID int) dms.DocumentPatch
}

func runEntityProposal(ctx context.Context, d *Deps, doc *dms.Document, cfg entityProposalConfig) (Result, error) {
	if d.Settings != nil && !d.Settings.StepEnabled(cfg.stepName) {
		return Result{Success: true, Skipped: true}, nil
	}

	lang := "en"
	if d.Settings != nil {
		lang = d.Settings.Language()
	}

	existing, err := d.DMS.EntitiesWithCounts(ctx, cfg.kind)
	if err != nil {
		return Result{}, fmt.Errorf("%s agent: listing existing entities: %w", cfg.stepName, err)
	}
	names, err := filterBlocked(ctx, d.Store, cfg.stepName, entityNames(existing))
	if err != nil {
		return Result{}, fmt.Errorf("%s agent: filtering blocked names: %w", cfg.stepName, err)
	}

	buildAnalysis := func(feedback string) string {
		prompt, rerr := d.Prompts.Render(lang, cfg.templateName, "analysis", map[string]string{
			"document_content": doc.Content,
			cfg.existingTitle:  joinLines(names),
			"feedback":         feedback,
		})
		if rerr != nil {
			return fmt.Sprintf("Propose a %s for this document. Content:\n%s\n\nExisting options:\n%s\n\nFeedback: %s", cfg.stepName, doc.Content, joinLines(names), feedback)
		}
		return prompt
	}
	buildConfirm := func(analysisJSON string) string {
		prompt, rerr := d.Prompts.Render(lang, cfg.templateName, "confirm", map[string]string{"analysis_result": analysisJSON})
		if rerr != nil {
			return "Confirm or reject this proposal:\n" + analysisJSON
		}
		return prompt
	}

	res, err := runConfirmLoop(ctx, d, cfg.stepName, entityProposalSchema,
		fmt.Sprintf("You propose a %s for a document, preferring an existing option when it genuinely matches. Respond only with the requested structured JSON.", cfg.stepName),
		"You are a strict reviewer confirming a proposed classification. Respond only with the requested structured JSON.",
		buildAnalysis, buildConfirm, doc.ID)
	if err != nil {
		return Result{}, err
	}

	var parsed entityProposalAnalysis
	if res.Applied {
		if jerr := json.Unmarshal([]byte(res.Analysis), &parsed); jerr != nil {
			res.NeedsReview = true
			res.Applied = false
		}
	}

	if res.Applied && !parsed.IsNew && parsed.ExistingID != nil {
		patch := cfg.applyPatch(*parsed.ExistingID)
		if _, err := d.DMS.UpdateDocument(ctx, doc.ID, patch); err != nil {
			return Result{}, fmt.Errorf("%s agent: applying patch: %w", cfg.stepName, err)
		}
		if err := d.DMS.TransitionTag(ctx, doc, cfg.inTag, cfg.outTag); err != nil {
			return Result{}, fmt.Errorf("%s agent: transitioning tag: %w", cfg.stepName, err)
		}
		return Result{
			Success: true, Value: parsed.SuggestedName, Reasoning: parsed.Reasoning,
			Confidence: parsed.Confidence, Attempts: res.Attempts,
		}, nil
	}

	// Either a brand-new entity (never auto-created) or a failed run: both
	// fall through to the review queue without advancing the workflow tag.
	if err := queueReview(ctx, d, doc, reviewParams{
		Kind: cfg.stepName, ProposedValue: parsed.SuggestedName, Reasoning: parsed.Reasoning,
		Feedback: res.ErrorMessage, NextTag: cfg.outTag, Attempts: res.Attempts,
	}); err != nil {
		return Result{}, fmt.Errorf("%s agent: queueing review: %w", cfg.stepName, err)
	}
	return Result{Success: false, NeedsReview: true, Attempts: res.Attempts, Value: parsed.SuggestedName, Reasoning: parsed.Reasoning}, nil
}

func joinLines(names []string) string {
	out := ""
	for _, n := range names {
		out += "- " + n + "\n"
	}
	return out
}
