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
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/docpilot/core/pkg/confirmloop"
	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/promptstore"
	"github.com/docpilot/core/pkg/store"
	"github.com/docpilot/core/pkg/workflow"
)

// fakeProvider is a scripted llm.Provider, mirroring the one in
// pkg/confirmloop's own tests: each call to GenerateStructured consumes
// the next scripted response (or error).
type fakeProvider struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeProvider) Name() string      { return "fake" }
func (f *fakeProvider) ModelName() string { return "fake-model" }
func (f *fakeProvider) Close() error      { return nil }

func (f *fakeProvider) Generate(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	out, err := f.GenerateStructured(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: out}, nil
}

func (f *fakeProvider) GenerateStructured(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[i], nil
}

func (f *fakeProvider) GenerateStreaming(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func confirmJSON(confirmed bool, feedback string) string {
	b, _ := json.Marshal(confirmloop.ConfirmResult{Confirmed: confirmed, Feedback: feedback})
	return string(b)
}

// fakeSettings lets each test enable exactly the steps it exercises.
type fakeSettings struct {
	enabled     map[string]bool
	maxAttempts int
}

func (f fakeSettings) StepEnabled(step string) bool { return f.enabled[step] }
func (f fakeSettings) Language() string             { return "en" }
func (f fakeSettings) MaxConfirmAttempts() int {
	if f.maxAttempts == 0 {
		return 3
	}
	return f.maxAttempts
}
func (f fakeSettings) MaxToolCalls() int { return 5 }
func (f fakeSettings) CustomFieldsConfigured(ctx context.Context) (bool, error) {
	return false, nil
}

// testDMS is a minimal in-memory DMS covering documents, tags, and
// document_types — the surface the title and tags agents exercise.
type testDMS struct {
	mu        sync.Mutex
	documents map[int]*dms.Document
	entities  map[string]map[int]*dms.Entity // kind -> id -> entity
	nextID    int
}

func newTestDMS() *testDMS {
	return &testDMS{
		documents: map[int]*dms.Document{},
		entities:  map[string]map[int]*dms.Entity{"tags": {}, "document_types": {}, "correspondents": {}},
		nextID:    1,
	}
}

func (f *testDMS) addDocument(id int, d *dms.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = id
	f.documents[id] = d
}

func (f *testDMS) addEntity(kind string, id int, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[kind][id] = &dms.Entity{ID: id, Name: name}
	if id >= f.nextID {
		f.nextID = id + 1
	}
}

func (f *testDMS) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/documents/", f.handleDocuments)
	for _, kind := range []string{"tags", "document_types", "correspondents"} {
		mux.HandleFunc("/api/"+kind+"/", f.handleEntities(kind))
	}
	return httptest.NewServer(mux)
}

func (f *testDMS) handleDocuments(w http.ResponseWriter, r *http.Request) {
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
		if patch.Title != nil {
			doc.Title = *patch.Title
		}
		writeJSON(w, doc)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func (f *testDMS) handleEntities(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/"+kind+"/"), "/")
		if path != "" {
			http.Error(w, "unsupported", http.StatusMethodNotAllowed)
			return
		}
		switch r.Method {
		case http.MethodGet:
			name := r.URL.Query().Get("name__iexact")
			var matched []dms.Entity
			for _, e := range f.entities[kind] {
				if name != "" && !strings.EqualFold(e.Name, name) {
					continue
				}
				matched = append(matched, *e)
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
			f.entities[kind][e.ID] = e
			writeJSON(w, e)
		default:
			http.Error(w, "unsupported", http.StatusMethodNotAllowed)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("opening in-memory sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := store.Open(db, "sqlite")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return s
}

func testPrompts(t *testing.T) *promptstore.Store {
	t.Helper()
	s, err := promptstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("promptstore.New: %v", err)
	}
	return s
}

// TestTitleAgent_MaxRetryQueuesReview is spec scenario 3: every title
// analysis is rejected, and after max_retries the title is left unchanged,
// title_done is never added, manual_review is added, and exactly one
// pending review of kind "title" exists with attempts == max_retries.
func TestTitleAgent_MaxRetryQueuesReview(t *testing.T) {
	fake := newTestDMS()
	fake.addDocument(99, &dms.Document{Title: "Scan 0099", Content: "some receipt text"})
	srv := fake.server()
	t.Cleanup(srv.Close)

	dmsClient := dms.New(dms.Config{BaseURL: srv.URL, Token: "t"})
	large := &fakeProvider{responses: []string{
		`{"suggested_title":"Invoice 0006","reasoning":"r1","confidence":0.5}`,
		`{"suggested_title":"Invoice 0007","reasoning":"r2","confidence":0.5}`,
		`{"suggested_title":"Invoice 0008","reasoning":"r3","confidence":0.5}`,
	}}
	small := &fakeProvider{responses: []string{
		confirmJSON(false, "merchant name missing"),
		confirmJSON(false, "merchant name missing"),
		confirmJSON(false, "merchant name missing"),
	}}
	st := testStore(t)
	settings := fakeSettings{enabled: map[string]bool{"title": true}, maxAttempts: 3}
	deps := &Deps{DMS: dmsClient, Store: st, Prompts: testPrompts(t), Large: large, Small: small, Settings: settings}

	agent := NewTitleAgent(deps)
	ctx := context.Background()
	res, err := agent.Run(ctx, fake.documents[99])
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Fatalf("expected title proposal not to apply, got %+v", res)
	}
	if !res.NeedsReview {
		t.Fatalf("expected NeedsReview=true, got %+v", res)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected Attempts=3 (max_retries), got %d", res.Attempts)
	}

	doc, err := dmsClient.GetDocument(ctx, 99)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Title != "Scan 0099" {
		t.Fatalf("expected title left unchanged, got %q", doc.Title)
	}
	has, err := dmsClient.DocumentHasTag(ctx, doc, workflow.TitleDone)
	if err != nil || has {
		t.Fatalf("expected title_done not added, has=%v err=%v", has, err)
	}
	has, err = dmsClient.DocumentHasTag(ctx, doc, workflow.ManualReview)
	if err != nil || !has {
		t.Fatalf("expected manual_review added, has=%v err=%v", has, err)
	}

	reviews, err := st.ListPendingReviews(ctx, "title")
	if err != nil {
		t.Fatalf("ListPendingReviews: %v", err)
	}
	var forDoc []store.PendingReview
	for _, r := range reviews {
		if r.DocumentID == 99 {
			forDoc = append(forDoc, r)
		}
	}
	if len(forDoc) != 1 {
		t.Fatalf("expected exactly one pending title review for doc 99, got %d", len(forDoc))
	}
	if forDoc[0].Attempts != 3 {
		t.Fatalf("expected pending review attempts=3, got %d", forDoc[0].Attempts)
	}
}

// TestTagsAgent_NewTagGoesToReviewExistingApplies is spec scenario 4: a
// mixed proposal (one brand-new tag, one existing tag by id) applies the
// existing tag immediately, queues the new tag for review without
// flagging manual_review, and still advances tags_done.
func TestTagsAgent_NewTagGoesToReviewExistingApplies(t *testing.T) {
	fake := newTestDMS()
	fake.addEntity("tags", 12, "Electronics")
	fake.addDocument(51, &dms.Document{Title: "Receipt", Content: "warranty card for a tv", Tags: nil})
	srv := fake.server()
	t.Cleanup(srv.Close)

	dmsClient := dms.New(dms.Config{BaseURL: srv.URL, Token: "t"})
	analysis := `{"suggested_tags":[{"name":"Warranty","is_new":true,"relevance":0.9},{"name":"Electronics","is_new":false,"existing_tag_id":12,"relevance":0.8}],"tags_to_remove":[],"reasoning":"matches a warranty card","confidence":0.8}`
	large := &fakeProvider{responses: []string{analysis}}
	small := &fakeProvider{responses: []string{confirmJSON(true, "")}}
	st := testStore(t)
	settings := fakeSettings{enabled: map[string]bool{"tags": true}}
	deps := &Deps{DMS: dmsClient, Store: st, Prompts: testPrompts(t), Large: large, Small: small, Settings: settings}

	agent := NewTagsAgent(deps)
	ctx := context.Background()
	res, err := agent.Run(ctx, fake.documents[51])
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected a successful run (existing tag applied), got %+v", res)
	}

	doc, err := dmsClient.GetDocument(ctx, 51)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if !containsID(doc.Tags, 12) {
		t.Fatalf("expected tag 12 (Electronics) added, got %v", doc.Tags)
	}
	has, err := dmsClient.DocumentHasTag(ctx, doc, "Warranty")
	if err != nil || has {
		t.Fatalf("expected Warranty NOT added to the DMS, has=%v err=%v", has, err)
	}
	has, err = dmsClient.DocumentHasTag(ctx, doc, workflow.TagsDone)
	if err != nil || !has {
		t.Fatalf("expected tags_done added, has=%v err=%v", has, err)
	}
	has, err = dmsClient.DocumentHasTag(ctx, doc, workflow.ManualReview)
	if err != nil || has {
		t.Fatalf("expected manual_review NOT added, has=%v err=%v", has, err)
	}

	reviews, err := st.ListPendingReviews(ctx, "tag")
	if err != nil {
		t.Fatalf("ListPendingReviews: %v", err)
	}
	var forDoc []store.PendingReview
	for _, r := range reviews {
		if r.DocumentID == 51 {
			forDoc = append(forDoc, r)
		}
	}
	if len(forDoc) != 1 || forDoc[0].ProposedValue != "Warranty" {
		t.Fatalf("expected exactly one pending tag review proposing Warranty, got %+v", forDoc)
	}
}

func containsID(ids []int, v int) bool {
	for _, id := range ids {
		if id == v {
			return true
		}
	}
	return false
}
