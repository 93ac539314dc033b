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

// Package confirmloop implements the generic analyze/tools/confirm state
// machine shared by every pipeline agent: a large model proposes a
// structured analysis (optionally using tools), a small model confirms or
// rejects it, and rejection retries the analysis with feedback up to a
// configured attempt limit before falling back to a human review queue.
package confirmloop

import (
	"strings"

	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/tokenbudget"
)

// phase is the engine's internal state.
type phase string

const (
	phaseAnalyze     phase = "analyze"
	phaseTools       phase = "tools"
	phaseConfirm     phase = "confirm"
	phaseApply       phase = "apply"
	phaseQueueReview phase = "queue_review"
)

// runState carries everything mutated across the engine's phase
// transitions for a single document run. Ownership mirrors the teacher's
// reasoning state: the engine owns iteration/budget bookkeeping, the
// caller-supplied context is read-only once the run starts.
type runState struct {
	messages []llm.Message

	attempt     int
	maxAttempts int

	feedback string // confirmation rejection feedback fed back into the next analyze round

	lastAnalysis string // raw structured-output JSON from the most recent analyze phase

	toolCache map[string]string // canonical "tool_name:args" -> rendered result, for duplicate suppression

	budget *tokenbudget.RunBudget
}

// newRunState creates the state for one document run.
func newRunState(maxAttempts, maxToolCalls int) *runState {
	return &runState{
		maxAttempts: maxAttempts,
		toolCache:   make(map[string]string),
		budget:      tokenbudget.NewRunBudget(maxToolCalls),
	}
}

// cacheKey builds the duplicate-tool-call suppression key: tool name plus
// canonical (sorted-key) JSON of its arguments.
func cacheKey(name string, canonicalArgsJSON string) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte(':')
	sb.WriteString(canonicalArgsJSON)
	return sb.String()
}
