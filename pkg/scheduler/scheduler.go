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

// Package scheduler runs the single-flight auto-processing loop: it scans
// workflow tags for the next eligible document, runs exactly one pipeline
// step on it, and repeats immediately while work remains, falling back to
// an interruptible interval sleep once the queue is empty. State is
// guarded by a sync.RWMutex, following the locking discipline of the
// teacher's pkg/registry.BaseRegistry.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/pipeline"
	"github.com/docpilot/core/pkg/workflow"
)

// eligibilityScanTags is the fixed tag scan order: every workflow tag
// short of Processed, in pipeline order.
var eligibilityScanTags = []string{
	workflow.Pending, workflow.OCRDone, workflow.SummaryDone, workflow.TitleDone,
	workflow.CorrespondentDone, workflow.DocumentTypeDone, workflow.TagsDone,
}

// eligibilityBatchSize caps how many documents per tag the scan fetches
// before checking whether any of them is still unprocessed.
const eligibilityBatchSize = 10

// Settings is the subset of runtime settings the scheduler re-reads on
// every loop iteration.
type Settings interface {
	AutoProcessingEnabled() bool
	PollIntervalMinutes() int
}

// Status is a point-in-time snapshot of the scheduler's state, safe to
// copy and hand to callers of GetStatus.
type Status struct {
	Running       bool
	CurrentDocID  int
	CurrentStep   string
	LastCheckAt   time.Time
	Processed     int
	Errors        int
}

// Scheduler runs the auto-processing loop in a detached goroutine. Its
// state is owned by that goroutine and mutated only from it or through
// Start/Stop/Trigger; all other readers use GetStatus.
type Scheduler struct {
	dms      *dms.Client
	orch     *pipeline.Orchestrator
	settings Settings

	mu      sync.RWMutex
	status  Status
	running bool
	cancel  context.CancelFunc
	trigger chan struct{} // one-shot; non-nil only while the loop is sleeping
}

// New builds a Scheduler bound to the given DMS client, pipeline
// orchestrator, and settings provider.
func New(dmsClient *dms.Client, orch *pipeline.Orchestrator, settings Settings) *Scheduler {
	return &Scheduler{dms: dmsClient, orch: orch, settings: settings}
}

// Start launches the loop goroutine if it is not already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.status.Running = true
	s.mu.Unlock()

	go s.loop(loopCtx)
}

// Stop clears the running flag, signals any outstanding trigger, and
// cancels the loop goroutine.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.status.Running = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.trigger != nil {
		close(s.trigger)
		s.trigger = nil
	}
}

// Trigger delivers a one-shot signal to the loop iff it is currently
// sleeping between polls; otherwise it is a no-op.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trigger == nil {
		return
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// GetStatus returns a snapshot of the scheduler's current state.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.settings == nil || !s.settings.AutoProcessingEnabled() {
			if !s.sleepOrTrigger(ctx, 5*time.Second) {
				return
			}
			continue
		}

		doc, step, err := s.findEligibleDocument(ctx)
		s.mu.Lock()
		s.status.LastCheckAt = time.Now()
		s.mu.Unlock()
		if err != nil {
			slog.Error("scheduler: eligibility scan failed", "error", err)
			s.mu.Lock()
			s.status.Errors++
			s.mu.Unlock()
			if !s.sleepOrTrigger(ctx, 5*time.Second) {
				return
			}
			continue
		}

		if doc == 0 {
			interval := time.Minute
			if s.settings != nil {
				if m := s.settings.PollIntervalMinutes(); m > 0 {
					interval = time.Duration(m) * time.Minute
				}
			}
			if !s.sleepOrTrigger(ctx, interval) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.status.CurrentDocID = doc
		s.status.CurrentStep = step
		s.mu.Unlock()

		if _, err := s.orch.ProcessDocument(ctx, doc, ""); err != nil {
			slog.Error("scheduler: processing document failed", "doc_id", doc, "error", err)
			s.mu.Lock()
			s.status.Errors++
			s.mu.Unlock()
		} else {
			s.mu.Lock()
			s.status.Processed++
			s.mu.Unlock()
		}

		s.mu.Lock()
		s.status.CurrentDocID = 0
		s.status.CurrentStep = ""
		s.mu.Unlock()
		// Immediate re-poll: don't sleep while work may remain.
	}
}

// sleepOrTrigger waits for d or an incoming Trigger signal, whichever
// comes first, returning false if the context was cancelled meanwhile.
func (s *Scheduler) sleepOrTrigger(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	ch := make(chan struct{}, 1)
	s.trigger = ch
	s.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case _, ok := <-ch:
		if !ok {
			return false // Stop closed the channel
		}
	}

	s.mu.Lock()
	if s.trigger == ch {
		s.trigger = nil
	}
	s.mu.Unlock()
	return true
}

// findEligibleDocument walks eligibilityScanTags in pipeline order and
// returns the first document that carries that tag but not Processed,
// along with the step name that tag corresponds to.
func (s *Scheduler) findEligibleDocument(ctx context.Context) (int, string, error) {
	for _, tag := range eligibilityScanTags {
		docs, err := s.dms.ListByTag(ctx, tag, eligibilityBatchSize)
		if err != nil {
			return 0, "", err
		}
		for _, d := range docs {
			processed, err := s.dms.DocumentHasTag(ctx, &d, workflow.Processed)
			if err != nil {
				return 0, "", err
			}
			if !processed {
				step, _ := workflow.NextStep(tag)
				return d.ID, step, nil
			}
		}
	}
	return 0, "", nil
}
