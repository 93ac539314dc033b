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

package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/docpilot/core/pkg/agents"
	"github.com/docpilot/core/pkg/dms"
)

// minimalFakeDMS is a tags-only in-memory DMS, just enough surface for the
// orchestrator's resolveStep/docTags logic: documents and tags, nothing
// agents would need to actually run (every test here keeps every step
// disabled so no agent is ever invoked).
type minimalFakeDMS struct {
	mu        sync.Mutex
	documents map[int]*dms.Document
	tags      map[int]*dms.Entity
	nextID    int
}

func newMinimalFakeDMS() *minimalFakeDMS {
	return &minimalFakeDMS{documents: map[int]*dms.Document{}, tags: map[int]*dms.Entity{}, nextID: 1}
}

func (f *minimalFakeDMS) addDocument(d *dms.Document) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	d.ID = id
	f.documents[id] = d
	return id
}

func (f *minimalFakeDMS) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/documents/", f.handleDocuments)
	mux.HandleFunc("/api/tags/", f.handleTags)
	return httptest.NewServer(mux)
}

func (f *minimalFakeDMS) handleDocuments(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/documents/"), "/")
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

func (f *minimalFakeDMS) handleTags(w http.ResponseWriter, r *http.Request) {
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
		writeJSON(w, struct {
			Count    int          `json:"count"`
			Next     *string      `json:"next"`
			Previous *string      `json:"previous"`
			Results  []dms.Entity `json:"results"`
		}{Count: len(matched), Results: matched})
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

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// fakeSettings disables every step, satisfying both pipeline.Settings and
// agents.Settings so the orchestrator never actually invokes an agent.
type fakeSettings struct{ enabled map[string]bool }

func (f fakeSettings) StepEnabled(step string) bool                             { return f.enabled[step] }
func (f fakeSettings) Language() string                                        { return "en" }
func (f fakeSettings) MaxConfirmAttempts() int                                  { return 3 }
func (f fakeSettings) MaxToolCalls() int                                        { return 5 }
func (f fakeSettings) CustomFieldsConfigured(ctx context.Context) (bool, error) { return false, nil }

// TestProcessDocument_SingleStepPerCall is the engine-level half of
// scenario 1: with every step disabled, each ProcessDocument call must
// advance the document by exactly one workflow tag rather than cascading
// through several disabled steps in one call, so ocr_done is an
// observable resting state.
func TestProcessDocument_SingleStepPerCall(t *testing.T) {
	fake := newMinimalFakeDMS()
	docID := fake.addDocument(&dms.Document{Title: "doc"})
	srv := fake.server()
	t.Cleanup(srv.Close)

	dmsClient := dms.New(dms.Config{BaseURL: srv.URL, Token: "t"})
	settings := fakeSettings{enabled: map[string]bool{}} // every step disabled
	deps := &agents.Deps{DMS: dmsClient, Settings: settings}
	orch := New(dmsClient, settings, deps)

	ctx := context.Background()

	res, err := orch.ProcessDocument(ctx, docID, "")
	if err != nil {
		t.Fatalf("ProcessDocument (1st call): %v", err)
	}
	if res.Step != "ocr" || !res.Skipped {
		t.Fatalf("expected step=ocr skipped=true on first call, got %+v", res)
	}

	doc, err := dmsClient.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	has, err := dmsClient.DocumentHasTag(ctx, doc, "ocr_done")
	if err != nil || !has {
		t.Fatalf("expected ocr_done tag present after first call, has=%v err=%v", has, err)
	}
	has, err = dmsClient.DocumentHasTag(ctx, doc, "summary_done")
	if err != nil || has {
		t.Fatalf("expected the run to stop at ocr_done, not also reach summary_done in the same call, has=%v err=%v", has, err)
	}

	res, err = orch.ProcessDocument(ctx, docID, "")
	if err != nil {
		t.Fatalf("ProcessDocument (2nd call): %v", err)
	}
	if res.Step != "summary" || !res.Skipped {
		t.Fatalf("expected the second call to resolve the next step (summary), got %+v", res)
	}
}

// TestProcessDocument_CompletedWhenProcessed checks a document already
// carrying the terminal tag reports Completed without attempting a step.
func TestProcessDocument_CompletedWhenProcessed(t *testing.T) {
	fake := newMinimalFakeDMS()
	processedTag := &dms.Entity{ID: 1, Name: "processed"}
	fake.tags[1] = processedTag
	fake.nextID = 2
	docID := fake.addDocument(&dms.Document{Title: "doc", Tags: []int{1}})
	srv := fake.server()
	t.Cleanup(srv.Close)

	dmsClient := dms.New(dms.Config{BaseURL: srv.URL, Token: "t"})
	settings := fakeSettings{enabled: map[string]bool{}}
	deps := &agents.Deps{DMS: dmsClient, Settings: settings}
	orch := New(dmsClient, settings, deps)

	res, err := orch.ProcessDocument(context.Background(), docID, "")
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if !res.Completed {
		t.Fatalf("expected Completed=true for an already-processed document, got %+v", res)
	}
}
