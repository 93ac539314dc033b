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

// CorrespondentAgent proposes an existing or new correspondent. A new
// correspondent is always queued for review rather than auto-created.
type CorrespondentAgent struct{ deps *Deps }

// NewCorrespondentAgent constructs the correspondent agent.
func NewCorrespondentAgent(deps *Deps) *CorrespondentAgent { return &CorrespondentAgent{deps: deps} }

// Run executes the correspondent step for doc.
func (a *CorrespondentAgent) Run(ctx context.Context, doc *dms.Document) (Result, error) {
	return runEntityProposal(ctx, a.deps, doc, entityProposalConfig{
		kind:          "correspondents",
		stepName:      "correspondent",
		templateName:  "correspondent",
		inTag:         workflow.TitleDone,
		outTag:        workflow.CorrespondentDone,
		existingTitle: "existing_correspondents",
		applyPatch: func(id int) dms.DocumentPatch {
			return dms.DocumentPatch{Correspondent: &id}
		},
	})
}
