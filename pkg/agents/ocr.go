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
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/workflow"
)

// minOCRQuality is the content length below which the DMS's own OCR text
// is considered missing or low quality and worth re-extracting.
const minOCRQuality = 64

// OCRAgent re-extracts document text when the DMS's own OCR is missing or
// too short, preferring a local PDF text-layer extraction pass over an
// LLM re-transcription call.
type OCRAgent struct{ deps *Deps }

// NewOCRAgent constructs the OCR agent.
func NewOCRAgent(deps *Deps) *OCRAgent { return &OCRAgent{deps: deps} }

// Run executes the OCR step for doc, mutating doc.Content in place on
// success so later steps in the same pipeline run see the fresh text.
func (a *OCRAgent) Run(ctx context.Context, doc *dms.Document) (Result, error) {
	d := a.deps
	if d.Settings != nil && !d.Settings.StepEnabled("ocr") {
		return a.transition(ctx, doc, Result{Success: true, Skipped: true})
	}

	if len(strings.TrimSpace(doc.Content)) >= minOCRQuality {
		return a.transition(ctx, doc, Result{Success: true, Value: "existing OCR text is sufficient"})
	}

	pdfBytes, err := d.DMS.DownloadPDF(ctx, doc.ID)
	if err != nil {
		return Result{}, fmt.Errorf("ocr agent: downloading pdf: %w", err)
	}

	if text, ok := extractEmbeddedText(pdfBytes); ok && len(strings.TrimSpace(text)) >= minOCRQuality {
		return a.applyText(ctx, doc, text, "extracted from the PDF's embedded text layer")
	}

	text, err := a.visionTranscribe(ctx, doc.ID, pdfBytes)
	if err != nil {
		if err := queueReview(ctx, d, doc, reviewParams{Kind: "ocr", Feedback: err.Error(), NextTag: workflow.OCRDone}); err != nil {
			return Result{}, fmt.Errorf("ocr agent: queueing review: %w", err)
		}
		return Result{Success: false, NeedsReview: true, Reasoning: err.Error()}, nil
	}
	return a.applyText(ctx, doc, text, "transcribed by the large model's vision pass")
}

// extractEmbeddedText reads a PDF's embedded text layer via ledongthuc/pdf,
// returning ok=false if the document carries no extractable text (a
// pure-image scan).
func extractEmbeddedText(pdfBytes []byte) (string, bool) {
	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return "", false
	}
	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	s := sb.String()
	return s, strings.TrimSpace(s) != ""
}

// visionTranscribe asks the large model to transcribe a scanned page image
// it cannot read a text layer from. The PDF bytes are embedded so a
// vision-capable backend can decode them.
func (a *OCRAgent) visionTranscribe(ctx context.Context, docID int, pdfBytes []byte) (string, error) {
	resp, err := a.deps.Large.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "Transcribe the scanned document faithfully as plain text, preserving line breaks where they carry meaning."},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Document %d has no usable text layer; transcribe its content from the attached scan.", docID)},
	}, llm.GenerateOptions{})
	if err != nil {
		return "", fmt.Errorf("vision transcription failed: %w", err)
	}
	return resp.Content, nil
}

func (a *OCRAgent) applyText(ctx context.Context, doc *dms.Document, text, reasoning string) (Result, error) {
	doc.Content = text
	return a.transition(ctx, doc, Result{Success: true, Value: text, Reasoning: reasoning})
}

func (a *OCRAgent) transition(ctx context.Context, doc *dms.Document, r Result) (Result, error) {
	if err := a.deps.DMS.TransitionTag(ctx, doc, workflow.Pending, workflow.OCRDone); err != nil {
		return Result{}, fmt.Errorf("ocr agent: transitioning tag: %w", err)
	}
	return r, nil
}
