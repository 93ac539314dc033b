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

package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docpilot/core/pkg/agents"
	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/pipeline"
	"github.com/docpilot/core/pkg/workflow"
)

// fakeDMS backs the scheduler's eligibility scan (tags__id filtered
// document listing) plus the tag-transition surface the pipeline's
// disabled-step auto-transitions exercise.
type fakeDMS struct {
	mu        sync.Mutex
	documents map[int]*dms.Document
	tags      map[int]*dms.Entity
	nextID    int
}

func newFakeDMS() *fakeDMS {
	return &fakeDMS{documents: map[int]*dms.Document{}, tags: map[int]*dms.Entity{}, nextID: 1}
}

func (f *fakeDMS) addDocument(id int, d *dms.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = id
	f.documents[id] = d
}

// preregisterWorkflowTags seeds every workflow tag as an existing DMS
// entity, as a live DMS would already have them from prior runs — the
// scheduler's eligibility scan treats a missing tag as a hard error, not
// an empty result, so tests must not rely on lazy creation for tags it
// scans rather than transitions into.
func (f *fakeDMS) preregisterWorkflowTags() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range []string{
		workflow.Pending, workflow.OCRDone, workflow.SummaryDone, workflow.TitleDone,
		workflow.CorrespondentDone, workflow.DocumentTypeDone, workflow.TagsDone, workflow.Processed,
	} {
		f.tags[f.nextID] = &dms.Entity{ID: f.nextID, Name: name}
		f.nextID++
	}
}

func (f *fakeDMS) tagID(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, e := range f.tags {
		if e.Name == name {
			return id
		}
	}
	return 0
}

func (f *fakeDMS) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/documents/", f.handleDocuments)
	mux.HandleFunc("/api/tags/", f.handleTags)
	return httptest.NewServer(mux)
}

func (f *fakeDMS) handleDocuments(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/documents/"), "/")
	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "unsupported", http.StatusMethodNotAllowed)
			return
		}
		tagID := r.URL.Query().Get("tags__id")
		var matched []dms.Document
		for _, d := range f.documents {
			if tagID != "" {
				id, _ := strconv.Atoi(tagID)
				if !containsInt(d.Tags, id) {
					continue
				}
			}
			matched = append(matched, *d)
		}
		writeJSON(w, page{Count: len(matched), Results: matched})
		return
	}
	id, err := strconv.Atoi(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	doc, ok := f.documents[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, doc)
	case http.MethodPatch:
		var patch dms.DocumentPatch
		_ = json.NewDecoder(r.Body).Decode(&patch)
		if patch.Tags != nil {
			doc.Tags = patch.Tags
		}
		writeJSON(w, doc)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func (f *fakeDMS) handleTags(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/tags/"), "/")
	if path != "" {
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
		return
	}
	switch r.Method {
	case http.MethodGet:
		name := r.URL.Query().Get("name__iexact")
		var matched []dms.Entity
		for _, t := range f.tags {
			if strings.EqualFold(t.Name, name) {
				matched = append(matched, *t)
			}
		}
		writeJSON(w, entityPage{Count: len(matched), Results: matched})
	case http.MethodPost:
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		e := &dms.Entity{ID: f.nextID, Name: body["name"]}
		f.nextID++
		f.tags[e.ID] = e
		writeJSON(w, e)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

type page struct {
	Count    int           `json:"count"`
	Next     *string       `json:"next"`
	Previous *string       `json:"previous"`
	Results  []dms.Document `json:"results"`
}

type entityPage struct {
	Count    int          `json:"count"`
	Next     *string      `json:"next"`
	Previous *string      `json:"previous"`
	Results  []dms.Entity `json:"results"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// fakeSettings implements both scheduler.Settings and pipeline.Settings.
type fakeSettings struct {
	autoProcessing bool
	pollMinutes    int
}

func (f fakeSettings) AutoProcessingEnabled() bool  { return f.autoProcessing }
func (f fakeSettings) PollIntervalMinutes() int     { return f.pollMinutes }
func (f fakeSettings) StepEnabled(step string) bool { return false } // every step disabled: no agent invoked
func (f fakeSettings) Language() string             { return "en" }
func (f fakeSettings) MaxConfirmAttempts() int       { return 3 }
func (f fakeSettings) MaxToolCalls() int             { return 5 }
func (f fakeSettings) CustomFieldsConfigured(ctx context.Context) (bool, error) {
	return false, nil
}

// TestScheduler_ProcessesSingleDocumentToCompletion drives a Pending
// document through every disabled-step auto-transition via the scheduler's
// single-flight immediate-repoll loop, ending at Processed.
func TestScheduler_ProcessesSingleDocumentToCompletion(t *testing.T) {
	fake := newFakeDMS()
	fake.preregisterWorkflowTags()
	fake.addDocument(17, &dms.Document{Title: "doc", Tags: []int{fake.tagID(workflow.Pending)}})
	srv := fake.server()
	t.Cleanup(srv.Close)

	dmsClient := dms.New(dms.Config{BaseURL: srv.URL, Token: "t"})
	settings := fakeSettings{autoProcessing: true, pollMinutes: 60}
	deps := &agents.Deps{DMS: dmsClient, Settings: settings}
	orch := pipeline.New(dmsClient, settings, deps)
	sched := New(dmsClient, orch, settings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	deadline := time.After(5 * time.Second)
	for {
		doc, err := dmsClient.GetDocument(context.Background(), 17)
		if err != nil {
			t.Fatalf("GetDocument: %v", err)
		}
		processed, err := dmsClient.DocumentHasTag(context.Background(), doc, "processed")
		if err != nil {
			t.Fatalf("DocumentHasTag: %v", err)
		}
		if processed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for the document to reach processed, tags=%v", doc.Tags)
		case <-time.After(10 * time.Millisecond):
		}
	}

	status := sched.GetStatus()
	if status.Processed == 0 {
		t.Fatalf("expected the scheduler to record at least one processed step, got %+v", status)
	}
}

// TestScheduler_TriggerNoOpBeforeStart checks Trigger never panics or
// blocks on a scheduler that hasn't started sleeping yet.
func TestScheduler_TriggerNoOpBeforeStart(t *testing.T) {
	sched := New(nil, nil, fakeSettings{})
	sched.Trigger() // must be a no-op: no sleeping loop to wake
}

// TestScheduler_TriggerWakesSleepingLoop is the spirit of scenario 5: a
// scheduler sitting in its poll-interval sleep (no eligible documents)
// wakes promptly on Trigger rather than waiting out the full interval.
func TestScheduler_TriggerWakesSleepingLoop(t *testing.T) {
	fake := newFakeDMS() // tags exist but no documents: every scan comes up empty
	fake.preregisterWorkflowTags()
	srv := fake.server()
	t.Cleanup(srv.Close)

	dmsClient := dms.New(dms.Config{BaseURL: srv.URL, Token: "t"})
	settings := fakeSettings{autoProcessing: true, pollMinutes: 60} // sleep would otherwise last an hour
	deps := &agents.Deps{DMS: dmsClient, Settings: settings}
	orch := pipeline.New(dmsClient, settings, deps)
	sched := New(dmsClient, orch, settings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	// Wait for the loop to reach its first sleep.
	deadline := time.After(2 * time.Second)
	for sched.GetStatus().LastCheckAt.IsZero() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for the first eligibility scan")
		case <-time.After(5 * time.Millisecond):
		}
	}
	before := sched.GetStatus().LastCheckAt

	sched.Trigger()

	deadline = time.After(2 * time.Second)
	for !sched.GetStatus().LastCheckAt.After(before) {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for Trigger to wake the sleeping loop early")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
