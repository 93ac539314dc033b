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

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/workflow"
)

// DocumentTypeAgent proposes an existing or new document type. A new
// document type is always queued for review rather than auto-created.
type DocumentTypeAgent struct{ deps *Deps }

// NewDocumentTypeAgent constructs the document-type agent.
func NewDocumentTypeAgent(deps *Deps) *DocumentTypeAgent { return &DocumentTypeAgent{deps: deps} }

// Run executes the document-type step for doc.
func (a *DocumentTypeAgent) Run(ctx context.Context, doc *dms.Document) (Result, error) {
	return runEntityProposal(ctx, a.deps, doc, entityProposalConfig{
		kind:          "document_types",
		stepName:      "document_type",
		templateName:  "document_type",
		inTag:         workflow.CorrespondentDone,
		outTag:        workflow.DocumentTypeDone,
		existingTitle: "existing_types",
		applyPatch: func(id int) dms.DocumentPatch {
			return dms.DocumentPatch{DocumentType: &id}
		},
	})
}
