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

package dms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeDMS is an in-memory stand-in for the external document-management
// service, serving exactly the REST surface Client calls against. It backs
// every adapter test in this file via httptest, so the adapter's own HTTP
// plumbing (request building, pagination, status classification) runs for
// real against a fake transport instead of a mocked Client.
type fakeDMS struct {
	mu            sync.Mutex
	documents     map[int]*Document
	nextDocID     int
	entities      map[string]map[int]*Entity // kind -> id -> entity
	nextEntityID  int
	customFields  []Entity
	pageSize      int
}

func newFakeDMS() *fakeDMS {
	return &fakeDMS{
		documents:    map[int]*Document{},
		nextDocID:    1,
		entities:     map[string]map[int]*Entity{"tags": {}, "correspondents": {}, "document_types": {}},
		nextEntityID: 1,
		pageSize:     100,
	}
}

func (f *fakeDMS) addDocument(d *Document) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextDocID
	f.nextDocID++
	d.ID = id
	f.documents[id] = d
	return id
}

func (f *fakeDMS) addEntity(kind, name string, count int) *Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextEntityID
	f.nextEntityID++
	e := &Entity{ID: id, Name: name, DocumentCount: count}
	f.entities[kind][id] = e
	return e
}

func (f *fakeDMS) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/documents/", f.handleDocuments)
	for _, kind := range []string{"tags", "correspondents", "document_types"} {
		mux.HandleFunc("/api/"+kind+"/", f.handleEntities(kind))
	}
	mux.HandleFunc("/api/custom_fields/", f.handleCustomFields)
	return httptest.NewServer(mux)
}

func (f *fakeDMS) handleDocuments(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	path = strings.TrimSuffix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			f.listDocuments(w, r)
		default:
			http.Error(w, "unsupported", http.StatusMethodNotAllowed)
		}
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
		var patch DocumentPatch
		_ = json.NewDecoder(r.Body).Decode(&patch)
		if patch.Tags != nil {
			doc.Tags = patch.Tags
		}
		if patch.Correspondent != nil {
			doc.Correspondent = patch.Correspondent
		}
		if patch.DocumentType != nil {
			doc.DocumentType = patch.DocumentType
		}
		if patch.Title != nil {
			doc.Title = *patch.Title
		}
		if patch.CustomFields != nil {
			doc.CustomFields = patch.CustomFields
		}
		writeJSON(w, doc)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func (f *fakeDMS) listDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var matched []Document
	for _, d := range f.documents {
		if tagID := q.Get("tags__id"); tagID != "" {
			id, _ := strconv.Atoi(tagID)
			if !containsInt(d.Tags, id) {
				continue
			}
		}
		if tagIDs := q.Get("tags__id__in"); tagIDs != "" {
			match := false
			for _, s := range strings.Split(tagIDs, ",") {
				id, _ := strconv.Atoi(s)
				if containsInt(d.Tags, id) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if corr := q.Get("correspondent"); corr != "" {
			id, _ := strconv.Atoi(corr)
			if d.Correspondent == nil || *d.Correspondent != id {
				continue
			}
		}
		matched = append(matched, *d)
	}
	writeJSON(w, page[Document]{Count: len(matched), Results: matched})
}

func (f *fakeDMS) handleEntities(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, "/api/"+kind+"/")
		path = strings.TrimSuffix(path, "/")

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
			case http.MethodPatch:
				e, ok := f.entities[kind][id]
				if !ok {
					http.NotFound(w, r)
					return
				}
				var body map[string]string
				_ = json.NewDecoder(r.Body).Decode(&body)
				if c, ok := body["color"]; ok {
					e.Color = c
				}
				writeJSON(w, e)
			default:
				http.Error(w, "unsupported", http.StatusMethodNotAllowed)
			}
			return
		}

		switch r.Method {
		case http.MethodGet:
			f.listEntities(kind, w, r)
		case http.MethodPost:
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			e := &Entity{ID: f.nextEntityID, Name: body["name"]}
			f.nextEntityID++
			f.entities[kind][e.ID] = e
			writeJSON(w, e)
		default:
			http.Error(w, "unsupported", http.StatusMethodNotAllowed)
		}
	}
}

func (f *fakeDMS) listEntities(kind string, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var matched []Entity
	for _, e := range f.entities[kind] {
		if name := q.Get("name__iexact"); name != "" && !strings.EqualFold(e.Name, name) {
			continue
		}
		matched = append(matched, *e)
	}
	writeJSON(w, page[Entity]{Count: len(matched), Results: matched})
}

func (f *fakeDMS) handleCustomFields(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, page[Entity]{Count: len(f.customFields), Results: f.customFields})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "test-token"})
}

func TestClient_AddTag_IdempotentAndCreatesOnDemand(t *testing.T) {
	fake := newFakeDMS()
	docID := fake.addDocument(&Document{Title: "doc"})
	c := testClient(t, fake.server())

	doc, err := c.GetDocument(context.Background(), docID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if err := c.AddTag(context.Background(), doc, "Warranty"); err != nil {
		t.Fatalf("AddTag: %v", err)
	}
	if len(doc.Tags) != 1 {
		t.Fatalf("expected 1 tag after AddTag, got %v", doc.Tags)
	}
	// Adding the same tag again must be a no-op, not a duplicate.
	if err := c.AddTag(context.Background(), doc, "Warranty"); err != nil {
		t.Fatalf("AddTag (repeat): %v", err)
	}
	if len(doc.Tags) != 1 {
		t.Fatalf("expected AddTag to stay idempotent, got %v", doc.Tags)
	}
}

func TestClient_TransitionTag_MovesFromToAndIsIdempotent(t *testing.T) {
	fake := newFakeDMS()
	pending := fake.addEntity("tags", "pending", 0)
	docID := fake.addDocument(&Document{Title: "doc", Tags: []int{pending.ID}})
	c := testClient(t, fake.server())
	ctx := context.Background()

	doc, err := c.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if err := c.TransitionTag(ctx, doc, "pending", "ocr_done"); err != nil {
		t.Fatalf("TransitionTag: %v", err)
	}
	has, err := c.DocumentHasTag(ctx, doc, "ocr_done")
	if err != nil || !has {
		t.Fatalf("expected ocr_done present, has=%v err=%v", has, err)
	}
	has, err = c.DocumentHasTag(ctx, doc, "pending")
	if err != nil || has {
		t.Fatalf("expected pending removed, has=%v err=%v", has, err)
	}

	// Repeating the same transition must be a no-op (already in target state).
	before := append([]int{}, doc.Tags...)
	if err := c.TransitionTag(ctx, doc, "pending", "ocr_done"); err != nil {
		t.Fatalf("TransitionTag (repeat): %v", err)
	}
	if len(doc.Tags) != len(before) {
		t.Fatalf("expected TransitionTag to be idempotent, got %v vs %v", doc.Tags, before)
	}
}

func TestClient_MergeEntities_ReassignsThenDeletesSource(t *testing.T) {
	fake := newFakeDMS()
	source := fake.addEntity("tags", "Electroniks", 1)
	target := fake.addEntity("tags", "Electronics", 3)
	docID := fake.addDocument(&Document{Title: "doc", Tags: []int{source.ID}})
	c := testClient(t, fake.server())
	ctx := context.Background()

	if err := c.MergeEntities(ctx, "tags", source.ID, target.ID); err != nil {
		t.Fatalf("MergeEntities: %v", err)
	}
	doc, err := c.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if containsInt(doc.Tags, source.ID) {
		t.Fatalf("expected source tag removed from document, got %v", doc.Tags)
	}
	if !containsInt(doc.Tags, target.ID) {
		t.Fatalf("expected target tag assigned to document, got %v", doc.Tags)
	}

	_, err = c.findEntity(ctx, "tags", "Electroniks")
	if err == nil {
		t.Fatalf("expected source entity to be deleted after merge")
	}
}

func TestClient_EntitiesWithCounts_ListsAllWithCounts(t *testing.T) {
	fake := newFakeDMS()
	for i := 0; i < 5; i++ {
		fake.addEntity("tags", fmt.Sprintf("tag-%d", i), 0)
	}
	c := testClient(t, fake.server())
	entities, err := c.EntitiesWithCounts(context.Background(), "tags")
	if err != nil {
		t.Fatalf("EntitiesWithCounts: %v", err)
	}
	if len(entities) != 5 {
		t.Fatalf("expected 5 entities, got %d", len(entities))
	}
}

func TestClient_GetDocument_NotFound(t *testing.T) {
	fake := newFakeDMS()
	c := testClient(t, fake.server())
	_, err := c.GetDocument(context.Background(), 999)
	if err == nil {
		t.Fatalf("expected an error for a missing document")
	}
}
