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

// Package workflow holds the fixed set of workflow-tag names that encode a
// document's pipeline state as DMS tag membership, and the precedence
// order used to derive that state. Shared by pkg/agents, pkg/pipeline, and
// pkg/scheduler so all three agree on the same literal tag set.
package workflow

// The ten workflow tags. Pending through Processed are the monotonic
// pipeline-progress tags; Failed and ManualReview are orthogonal flags.
const (
	Pending           = "pending"
	OCRDone           = "ocr_done"
	SummaryDone       = "summary_done"
	TitleDone         = "title_done"
	CorrespondentDone = "correspondent_done"
	DocumentTypeDone  = "document_type_done"
	TagsDone          = "tags_done"
	Processed         = "processed"
	Failed            = "failed"
	ManualReview      = "manual_review"
)

// Precedence lists the monotonic pipeline-progress tags from highest to
// lowest precedence, used to derive a document's current pipeline state
// from its tag set.
var Precedence = []string{
	Processed, TagsDone, DocumentTypeDone, CorrespondentDone, TitleDone, SummaryDone, OCRDone, Pending,
}

// StateOf returns the highest-precedence workflow tag present in tags, or
// Pending if none match (a document the DMS has not tagged at all is
// treated as freshly ingested).
func StateOf(tags map[string]bool) string {
	for _, t := range Precedence {
		if tags[t] {
			return t
		}
	}
	return Pending
}

// step describes one pipeline step's place in the tag sequence.
type step struct {
	Name    string
	InTag   string
	OutTag  string
}

// Steps is the fixed step sequence in pipeline order, each naming the
// workflow tag it requires on input and the one it leaves on success.
var Steps = []step{
	{Name: "ocr", InTag: Pending, OutTag: OCRDone},
	{Name: "summary", InTag: OCRDone, OutTag: SummaryDone},
	{Name: "title", InTag: SummaryDone, OutTag: TitleDone},
	{Name: "correspondent", InTag: TitleDone, OutTag: CorrespondentDone},
	{Name: "document_type", InTag: CorrespondentDone, OutTag: DocumentTypeDone},
	{Name: "tags", InTag: DocumentTypeDone, OutTag: TagsDone},
	{Name: "custom_fields", InTag: TagsDone, OutTag: Processed},
}

// NextStep returns the name of the step to run given the document's
// current derived state, and false if the document is already Processed.
func NextStep(state string) (string, bool) {
	for _, s := range Steps {
		if s.InTag == state {
			return s.Name, true
		}
	}
	return "", false
}

// StepByName looks up a step definition by name.
func StepByName(name string) (step, bool) {
	for _, s := range Steps {
		if s.Name == name {
			return s, true
		}
	}
	return step{}, false
}
