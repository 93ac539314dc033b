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
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/store"
)

// fakeDMS backs the Approve/Reject tests: documents, tags, and
// correspondents, with per-entity document counts the schema_delete
// re-check reads.
type fakeDMS struct {
	mu        sync.Mutex
	documents map[int]*dms.Document
	entities  map[string]map[int]*dms.Entity
	nextID    int
}

func newFakeDMS() *fakeDMS {
	return &fakeDMS{
		documents: map[int]*dms.Document{},
		entities:  map[string]map[int]*dms.Entity{"tags": {}, "correspondents": {}, "document_types": {}},
		nextID:    1,
	}
}

func (f *fakeDMS) addDocument(id int, d *dms.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = id
	f.documents[id] = d
}

func (f *fakeDMS) addEntity(kind string, id int, name string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[kind][id] = &dms.Entity{ID: id, Name: name, DocumentCount: count}
	if id >= f.nextID {
		f.nextID = id + 1
	}
}

func (f *fakeDMS) setDocumentCount(kind string, id, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[kind][id].DocumentCount = count
}

func (f *fakeDMS) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/documents/", f.handleDocuments)
	for _, kind := range []string{"tags", "correspondents", "document_types"} {
		mux.HandleFunc("/api/"+kind+"/", f.handleEntities(kind))
	}
	return httptest.NewServer(mux)
}

func (f *fakeDMS) handleDocuments(w http.ResponseWriter, r *http.Request) {
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

func (f *fakeDMS) handleEntities(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/"+kind+"/"), "/")
		if path != "" {
			id, err := strconv.Atoi(path)
			if err != nil {
				http.NotFound(w, r)
				return
			}
			switch r.Method {
			case http.MethodDelete:
				delete(f.entities[kind], id)
				w.WriteHeader(http.StatusNoContent)
			default:
				http.Error(w, "unsupported", http.StatusMethodNotAllowed)
			}
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

// TestApprove_SchemaDeleteRechecksUsageFirst is the Comment 8 fix: approval
// must re-read the entity's current document count immediately before
// deleting rather than trusting the count captured when the review was
// queued, so a document tagged in the meantime blocks the delete.
func TestApprove_SchemaDeleteRechecksUsageFirst(t *testing.T) {
	fake := newFakeDMS()
	fake.addEntity("correspondents", 3, "Zeta Co", 0)
	srv := fake.server()
	t.Cleanup(srv.Close)

	dmsClient := dms.New(dms.Config{BaseURL: srv.URL, Token: "t"})
	st := testStore(t)
	q := New(dmsClient, st)
	ctx := context.Background()

	review := store.PendingReview{ID: "d1", Kind: "schema_delete", ProposedValue: "correspondents:3", CreatedAt: time.Now()}
	if err := st.ReplacePendingReview(ctx, review); err != nil {
		t.Fatalf("ReplacePendingReview: %v", err)
	}

	// A document gets tagged with this correspondent after the review was
	// queued but before it's approved.
	fake.setDocumentCount("correspondents", 3, 2)

	if err := q.Approve(ctx, "d1", ""); err == nil {
		t.Fatalf("expected Approve to refuse deleting a now-referenced entity")
	}
	got, err := st.GetPendingReview(ctx, "d1")
	if err != nil {
		t.Fatalf("GetPendingReview: %v", err)
	}
	if got == nil {
		t.Fatalf("expected the pending review to survive a refused delete")
	}
}

// TestApprove_SchemaDeleteSucceedsWhenStillUnused is the same review
// approved when the re-check confirms the entity is still unused.
func TestApprove_SchemaDeleteSucceedsWhenStillUnused(t *testing.T) {
	fake := newFakeDMS()
	fake.addEntity("correspondents", 3, "Zeta Co", 0)
	srv := fake.server()
	t.Cleanup(srv.Close)

	dmsClient := dms.New(dms.Config{BaseURL: srv.URL, Token: "t"})
	st := testStore(t)
	q := New(dmsClient, st)
	ctx := context.Background()

	review := store.PendingReview{ID: "d2", Kind: "schema_delete", ProposedValue: "correspondents:3", CreatedAt: time.Now()}
	if err := st.ReplacePendingReview(ctx, review); err != nil {
		t.Fatalf("ReplacePendingReview: %v", err)
	}

	if err := q.Approve(ctx, "d2", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	got, err := st.GetPendingReview(ctx, "d2")
	if err != nil {
		t.Fatalf("GetPendingReview: %v", err)
	}
	if got != nil {
		t.Fatalf("expected the approved review to be removed")
	}
}

// TestApprove_TagAssignsAndTransitions checks the plain "tag" approval
// path: the entity is get-or-created, assigned to the document, and the
// review's NextTag is added if not already present.
func TestApprove_TagAssignsAndTransitions(t *testing.T) {
	fake := newFakeDMS()
	fake.addDocument(51, &dms.Document{Title: "doc"})
	srv := fake.server()
	t.Cleanup(srv.Close)

	dmsClient := dms.New(dms.Config{BaseURL: srv.URL, Token: "t"})
	st := testStore(t)
	q := New(dmsClient, st)
	ctx := context.Background()

	review := store.PendingReview{ID: "t1", Kind: "tag", DocumentID: 51, ProposedValue: "Warranty", NextTag: "tags_done", CreatedAt: time.Now()}
	if err := st.ReplacePendingReview(ctx, review); err != nil {
		t.Fatalf("ReplacePendingReview: %v", err)
	}

	if err := q.Approve(ctx, "t1", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	doc, err := dmsClient.GetDocument(ctx, 51)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	has, err := dmsClient.DocumentHasTag(ctx, doc, "Warranty")
	if err != nil || !has {
		t.Fatalf("expected Warranty tag assigned, has=%v err=%v", has, err)
	}
	has, err = dmsClient.DocumentHasTag(ctx, doc, "tags_done")
	if err != nil || !has {
		t.Fatalf("expected tags_done added, has=%v err=%v", has, err)
	}
}

// TestRejectWithFeedback_BlocksFutureProposals confirms a rejection with
// feedback both removes the review and records a blocked-suggestion entry
// at the requested scope.
func TestRejectWithFeedback_BlocksFutureProposals(t *testing.T) {
	st := testStore(t)
	q := New(nil, st)
	ctx := context.Background()

	review := store.PendingReview{ID: "r1", Kind: "correspondent", DocumentID: 1, ProposedValue: "Spam Corp", CreatedAt: time.Now()}
	if err := st.ReplacePendingReview(ctx, review); err != nil {
		t.Fatalf("ReplacePendingReview: %v", err)
	}

	if err := q.RejectWithFeedback(ctx, "r1", RejectFeedback{Scope: "global", Reason: "not a real business"}); err != nil {
		t.Fatalf("RejectWithFeedback: %v", err)
	}

	got, err := st.GetPendingReview(ctx, "r1")
	if err != nil {
		t.Fatalf("GetPendingReview: %v", err)
	}
	if got != nil {
		t.Fatalf("expected the review to be removed")
	}
	blocked, err := st.IsBlocked(ctx, "correspondent", "Spam Corp")
	if err != nil || !blocked {
		t.Fatalf("expected the name to be blocked going forward, blocked=%v err=%v", blocked, err)
	}
}
