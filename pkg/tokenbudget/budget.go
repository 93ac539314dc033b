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

// Package tokenbudget tracks per-document-run token and tool-call spend
// against the confirmation-loop engine's bounds, on top of the teacher's
// tiktoken-based counter.
package tokenbudget

import (
	"sync"

	"github.com/docpilot/core/pkg/utils"
)

// Counter wraps utils.TokenCounter, resolving it once per model name and
// caching the result (utils.NewTokenCounter already caches the underlying
// tiktoken encoding; this layer just spares callers the error check).
type Counter struct {
	mu       sync.Mutex
	counters map[string]*utils.TokenCounter
}

// NewCounter creates an empty per-model counter cache.
func NewCounter() *Counter {
	return &Counter{counters: make(map[string]*utils.TokenCounter)}
}

// Count returns the token count of text for the given model, falling back
// to a rough 4-chars-per-token estimate if the model's encoding can't be
// resolved.
func (c *Counter) Count(model, text string) int {
	c.mu.Lock()
	tc, ok := c.counters[model]
	if !ok {
		var err error
		tc, err = utils.NewTokenCounter(model)
		if err != nil {
			c.mu.Unlock()
			return utils.EstimateTokens(text)
		}
		c.counters[model] = tc
	}
	c.mu.Unlock()
	return tc.Count(text)
}

// RunBudget tracks the per-document-run tool-call ceiling described by the
// confirmation-loop engine: a fixed number of tool-call rounds shared
// across every analyze/tools cycle of one document run.
type RunBudget struct {
	mu          sync.Mutex
	maxToolCalls int
	spent       int
}

// NewRunBudget creates a budget allowing up to maxToolCalls tool
// invocations. A non-positive value disables tool use entirely.
func NewRunBudget(maxToolCalls int) *RunBudget {
	return &RunBudget{maxToolCalls: maxToolCalls}
}

// Spend charges n tool calls against the budget and reports whether the
// budget is exhausted (no room for another round) after this charge.
func (b *RunBudget) Spend(n int) (exhausted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent += n
	return b.spent >= b.maxToolCalls
}

// Remaining reports how many tool calls are left.
func (b *RunBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.maxToolCalls - b.spent
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Exhausted reports whether the budget has been fully spent.
func (b *RunBudget) Exhausted() bool {
	return b.Remaining() <= 0
}
