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

// Package pipeline orchestrates a single pipeline step per call: it
// derives the next step from a document's workflow tags (or runs a
// caller-specified step directly), dispatches to the matching agent, and
// streams typed progress events on the streaming path.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/docpilot/core/pkg/agents"
	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/workflow"
)

// Settings is the subset of runtime settings the orchestrator needs to
// skip disabled steps without invoking their agent.
type Settings interface {
	StepEnabled(step string) bool
}

// Orchestrator sequences the seven-agent pipeline for one document at a
// time. It never advances more than one step per ProcessDocument call.
type Orchestrator struct {
	dms      *dms.Client
	settings Settings

	ocr           *agents.OCRAgent
	summary       *agents.SummaryAgent
	title         *agents.TitleAgent
	correspondent *agents.CorrespondentAgent
	documentType  *agents.DocumentTypeAgent
	tags          *agents.TagsAgent
	customFields  *agents.CustomFieldsAgent
}

// New builds an Orchestrator from a fully-wired agents.Deps.
func New(dmsClient *dms.Client, settings Settings, deps *agents.Deps) *Orchestrator {
	return &Orchestrator{
		dms:           dmsClient,
		settings:      settings,
		ocr:           agents.NewOCRAgent(deps),
		summary:       agents.NewSummaryAgent(deps),
		title:         agents.NewTitleAgent(deps),
		correspondent: agents.NewCorrespondentAgent(deps),
		documentType:  agents.NewDocumentTypeAgent(deps),
		tags:          agents.NewTagsAgent(deps),
		customFields:  agents.NewCustomFieldsAgent(deps),
	}
}

// StepResult is the outcome of a single ProcessDocument call.
type StepResult struct {
	DocumentID int
	Step       string
	Completed  bool // true if the document was already fully processed
	agents.Result
}

// Event is one increment of a streamed pipeline run.
type Event struct {
	Type      string // pipeline_start, step_start, analyzing, thinking, confirming, step_complete, step_error, needs_review, pipeline_complete
	Step      string
	Data      string
	Timestamp time.Time
}

// docTags snapshots a document's workflow tag membership, resolving tag
// ids to names via the DMS's own tag listing so state derivation can work
// off names rather than ids.
func docTags(ctx context.Context, d *dms.Client, doc *dms.Document) (map[string]bool, error) {
	out := make(map[string]bool, len(doc.Tags))
	for _, name := range workflow.Precedence {
		has, err := d.DocumentHasTag(ctx, doc, name)
		if err != nil {
			return nil, err
		}
		if has {
			out[name] = true
		}
	}
	return out, nil
}

// stepResolution is resolveStep's outcome: either a step to dispatch to its
// agent, a single disabled-step auto-transition already applied (no agent
// invoked), or the document is already fully processed.
type stepResolution struct {
	step      string
	skipped   bool // true: step was disabled, its tag transition already ran, no agent invoked
	completed bool // true: document is already in the processed state
}

// resolveStep picks the step to run: the caller-specified one if given
// (bypassing tag-based gating), otherwise the next step derived from the
// document's current state. If that next step is disabled, it performs
// exactly that one step's auto-transition and returns without looking
// further ahead, so each ProcessDocument call advances the document by at
// most one workflow tag and the scheduler can observe every intermediate
// state.
func (o *Orchestrator) resolveStep(ctx context.Context, doc *dms.Document, step string) (stepResolution, error) {
	if step != "" {
		return stepResolution{step: step}, nil
	}
	tags, err := docTags(ctx, o.dms, doc)
	if err != nil {
		return stepResolution{}, err
	}
	state := workflow.StateOf(tags)
	if state == workflow.Processed {
		return stepResolution{completed: true}, nil
	}
	next, ok := workflow.NextStep(state)
	if !ok {
		return stepResolution{completed: true}, nil
	}
	if o.settings == nil || o.settings.StepEnabled(next) {
		return stepResolution{step: next}, nil
	}
	s, _ := workflow.StepByName(next)
	if err := o.dms.TransitionTag(ctx, doc, s.InTag, s.OutTag); err != nil {
		return stepResolution{}, err
	}
	return stepResolution{step: next, skipped: true}, nil
}

// ProcessDocument fetches doc once, resolves the step to run (or runs the
// caller-specified one directly), dispatches to its agent, and returns
// that one step's result. It never advances more than one step per call.
func (o *Orchestrator) ProcessDocument(ctx context.Context, docID int, step string) (StepResult, error) {
	doc, err := o.dms.GetDocument(ctx, docID)
	if err != nil {
		return StepResult{}, fmt.Errorf("pipeline: fetching document %d: %w", docID, err)
	}

	resolution, err := o.resolveStep(ctx, doc, step)
	if err != nil {
		return StepResult{}, fmt.Errorf("pipeline: resolving step for document %d: %w", docID, err)
	}
	if resolution.completed {
		return StepResult{DocumentID: docID, Completed: true}, nil
	}
	if resolution.skipped {
		return StepResult{DocumentID: docID, Step: resolution.step, Result: agents.Result{Success: true, Skipped: true}}, nil
	}

	result, err := o.runStep(ctx, doc, resolution.step)
	if err != nil {
		return StepResult{}, fmt.Errorf("pipeline: running step %q for document %d: %w", resolution.step, docID, err)
	}
	return StepResult{DocumentID: docID, Step: resolution.step, Result: result}, nil
}

func (o *Orchestrator) runStep(ctx context.Context, doc *dms.Document, step string) (agents.Result, error) {
	switch step {
	case "ocr":
		return o.ocr.Run(ctx, doc)
	case "summary":
		return o.summary.Run(ctx, doc)
	case "title":
		return o.title.Run(ctx, doc)
	case "correspondent":
		return o.correspondent.Run(ctx, doc)
	case "document_type":
		return o.documentType.Run(ctx, doc)
	case "tags":
		return o.tags.Run(ctx, doc)
	case "custom_fields":
		return o.customFields.Run(ctx, doc)
	default:
		return agents.Result{}, fmt.Errorf("unknown pipeline step %q", step)
	}
}

// ProcessDocumentStream runs ProcessDocument but emits a stream of typed
// events on evts as the run progresses, closing the channel when the run
// terminates. The channel is buffered so a slow consumer cannot stall the
// run itself.
func (o *Orchestrator) ProcessDocumentStream(ctx context.Context, docID int, step string) <-chan Event {
	evts := make(chan Event, 16)
	go func() {
		defer close(evts)
		emit := func(typ, stepName, data string) {
			select {
			case evts <- Event{Type: typ, Step: stepName, Data: data, Timestamp: time.Now()}:
			case <-ctx.Done():
			}
		}

		emit("pipeline_start", step, fmt.Sprintf("document %d", docID))
		emit("step_start", step, "")
		emit("analyzing", step, "")

		result, err := o.ProcessDocument(ctx, docID, step)
		if err != nil {
			emit("step_error", step, err.Error())
			return
		}
		if result.Completed {
			emit("pipeline_complete", step, "already processed")
			return
		}

		emit("confirming", result.Step, "")
		switch {
		case result.NeedsReview:
			emit("needs_review", result.Step, result.Reasoning)
		case result.Success:
			emit("step_complete", result.Step, result.Value)
		default:
			emit("step_error", result.Step, result.Reasoning)
		}
		emit("pipeline_complete", result.Step, "")
	}()
	return evts
}
