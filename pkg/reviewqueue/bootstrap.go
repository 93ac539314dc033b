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

package reviewqueue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/store"
)

// bootstrapCategories is the fixed set of entity kinds the analyzer can
// scan, in the order "all" walks them.
var bootstrapCategories = []string{"correspondents", "document_types", "tags"}

// substringSimilarity and exactSimilarity are the two non-Levenshtein
// similarity tiers the spec fixes as constants.
const (
	exactSimilarity     = 1.0
	substringSimilarity = 0.8
	levenshteinThreshold = 0.7
	levenshteinMaxLen    = 20
)

// ProgressStatus is the bootstrap job's lifecycle state.
type ProgressStatus string

const (
	ProgressIdle      ProgressStatus = "idle"
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressCancelled ProgressStatus = "cancelled"
	ProgressError     ProgressStatus = "error"
)

// Progress is a snapshot of the bootstrap analyzer's state, safe to copy.
type Progress struct {
	Status             ProgressStatus
	CategoryTotal      int
	CategoriesDone     int
	TotalSuggestions   int
	ByKind             map[string]int
	CurrentPhase       string
	CurrentEntityCount int
	AvgSecsPerCategory float64
	ETASeconds         float64
	Error              string
}

// Bootstrap runs the schema-cleanup similarity analyzer as a single
// cancellable background job. Only one run may be active at a time.
type Bootstrap struct {
	dms *dms.Client
	st  *store.Store

	mu       sync.RWMutex
	progress Progress
	cancel   context.CancelFunc
}

// NewBootstrap builds a Bootstrap analyzer.
func NewBootstrap(dmsClient *dms.Client, st *store.Store) *Bootstrap {
	return &Bootstrap{dms: dmsClient, st: st, progress: Progress{Status: ProgressIdle, ByKind: map[string]int{}}}
}

// Status returns a snapshot of the current run.
func (b *Bootstrap) Status() Progress {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.progress
}

// Cancel cooperatively stops an in-flight run; a no-op if none is running.
func (b *Bootstrap) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

// Start launches the analyzer over scope ("all", "correspondents",
// "document_types", "tags") in a detached goroutine so the caller can
// return immediately. Returns an error if a run is already in progress.
func (b *Bootstrap) Start(ctx context.Context, scope string) error {
	b.mu.Lock()
	if b.progress.Status == ProgressRunning {
		b.mu.Unlock()
		return fmt.Errorf("reviewqueue: bootstrap already running")
	}
	categories := bootstrapCategories
	if scope != "" && scope != "all" {
		categories = []string{scope}
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.progress = Progress{Status: ProgressRunning, CategoryTotal: len(categories), ByKind: map[string]int{}}
	b.mu.Unlock()

	go b.run(runCtx, categories)
	return nil
}

func (b *Bootstrap) run(ctx context.Context, categories []string) {
	var categoryDurations []time.Duration

	for _, kind := range categories {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.progress.Status = ProgressCancelled
			b.mu.Unlock()
			return
		default:
		}

		start := time.Now()
		b.mu.Lock()
		b.progress.CurrentPhase = kind
		b.mu.Unlock()

		count, err := b.scanCategory(ctx, kind)
		if err != nil {
			b.mu.Lock()
			b.progress.Status = ProgressError
			b.progress.Error = err.Error()
			b.mu.Unlock()
			return
		}

		categoryDurations = append(categoryDurations, time.Since(start))
		var total time.Duration
		for _, d := range categoryDurations {
			total += d
		}
		avg := total.Seconds() / float64(len(categoryDurations))

		b.mu.Lock()
		b.progress.CategoriesDone++
		b.progress.ByKind[kind] += count
		b.progress.TotalSuggestions += count
		b.progress.AvgSecsPerCategory = avg
		remaining := len(categories) - b.progress.CategoriesDone
		b.progress.ETASeconds = avg * float64(remaining)
		b.mu.Unlock()
	}

	b.mu.Lock()
	b.progress.Status = ProgressCompleted
	b.progress.ETASeconds = 0
	b.mu.Unlock()
}

// scanCategory fetches every entity of kind and emits merge/delete pending
// reviews, returning the number of suggestions it produced.
func (b *Bootstrap) scanCategory(ctx context.Context, kind string) (int, error) {
	entities, err := b.dms.EntitiesWithCounts(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("reviewqueue: listing %s: %w", kind, err)
	}
	b.mu.Lock()
	b.progress.CurrentEntityCount = len(entities)
	b.mu.Unlock()

	count := 0

	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			sim := similarity(entities[i].Name, entities[j].Name)
			if sim < levenshteinThreshold {
				continue
			}
			source, target := entities[i], entities[j]
			if source.DocumentCount > target.DocumentCount ||
				(source.DocumentCount == target.DocumentCount && i > j) {
				source, target = target, source
			}
			if err := b.st.PutPendingReview(ctx, store.PendingReview{
				ID:            uuid.NewString(),
				Kind:          "schema_merge",
				DocumentID:    0,
				ProposedValue: mergeValue(kind, source.ID, target.ID),
				Reasoning:     fmt.Sprintf("%q and %q are %.0f%% similar", source.Name, target.Name, sim*100),
				CreatedAt:     time.Now(),
			}); err != nil {
				return count, fmt.Errorf("reviewqueue: recording merge candidate: %w", err)
			}
			count++
		}
	}

	if kind != "tags" {
		for _, e := range entities {
			if e.DocumentCount != 0 {
				continue
			}
			if err := b.st.PutPendingReview(ctx, store.PendingReview{
				ID:            uuid.NewString(),
				Kind:          "schema_delete",
				DocumentID:    0,
				ProposedValue: deleteValue(kind, e.ID),
				Reasoning:     fmt.Sprintf("%q has no referencing documents", e.Name),
				CreatedAt:     time.Now(),
			}); err != nil {
				return count, fmt.Errorf("reviewqueue: recording delete candidate: %w", err)
			}
			count++
		}
	}

	return count, nil
}

// normalize lowercases and collapses whitespace, the first step of every
// similarity comparison.
func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// similarity scores two entity names per the bootstrap analyzer's fixed
// tiers: 1.0 for an exact match after normalization, 0.8 when one is a
// substring of the other, otherwise a Levenshtein-derived score (computed
// only when both names are short enough to bound the cost).
func similarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == nb {
		return exactSimilarity
	}
	if na == "" || nb == "" {
		return 0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return substringSimilarity
	}
	if len(na) > levenshteinMaxLen || len(nb) > levenshteinMaxLen {
		return 0
	}
	dist := levenshtein(na, nb)
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(dist)/float64(maxLen)
}

// levenshtein computes the classic edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
