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

package store

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("opening in-memory sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := Open(db, "sqlite")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

// TestReplacePendingReview_EnforcesOnePerDocumentKind is invariant #3: a
// retried step must never accumulate a second review for the same
// (document, kind) pair.
func TestReplacePendingReview_EnforcesOnePerDocumentKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := PendingReview{ID: "r1", Kind: "title", DocumentID: 99, ProposedValue: "first", Attempts: 1, CreatedAt: time.Now()}
	if err := s.ReplacePendingReview(ctx, first); err != nil {
		t.Fatalf("first ReplacePendingReview: %v", err)
	}
	second := PendingReview{ID: "r2", Kind: "title", DocumentID: 99, ProposedValue: "second", Attempts: 3, CreatedAt: time.Now()}
	if err := s.ReplacePendingReview(ctx, second); err != nil {
		t.Fatalf("second ReplacePendingReview: %v", err)
	}

	reviews, err := s.ListPendingReviews(ctx, "title")
	if err != nil {
		t.Fatalf("ListPendingReviews: %v", err)
	}
	var forDoc []PendingReview
	for _, r := range reviews {
		if r.DocumentID == 99 {
			forDoc = append(forDoc, r)
		}
	}
	if len(forDoc) != 1 {
		t.Fatalf("expected exactly one review for (doc=99, kind=title), got %d", len(forDoc))
	}
	if forDoc[0].ProposedValue != "second" || forDoc[0].Attempts != 3 {
		t.Fatalf("expected the replacement to win, got %+v", forDoc[0])
	}
}

// TestReplacePendingReview_SentinelDocumentIDCoexists confirms bootstrap's
// document_id=0 schema_merge/schema_delete rows are exempt from the
// per-document uniqueness invariant and may coexist for the same kind.
func TestReplacePendingReview_SentinelDocumentIDCoexists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3"} {
		r := PendingReview{ID: id, Kind: "schema_merge", DocumentID: 0, ProposedValue: "candidate", CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := s.ReplacePendingReview(ctx, r); err != nil {
			t.Fatalf("ReplacePendingReview %s: %v", id, err)
		}
	}

	reviews, err := s.ListPendingReviews(ctx, "schema_merge")
	if err != nil {
		t.Fatalf("ListPendingReviews: %v", err)
	}
	if len(reviews) != 3 {
		t.Fatalf("expected all 3 sentinel-document schema_merge rows to coexist, got %d", len(reviews))
	}
}

// TestPendingReview_RoundTripsExtendedFields checks the fields added for
// the maintainer review (attempts, feedback, alternatives, document title,
// free-form metadata) survive a write/read round trip.
func TestPendingReview_RoundTripsExtendedFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := PendingReview{
		ID: "r1", Kind: "tag", DocumentID: 51, DocumentTitle: "Warranty Card",
		ProposedValue: "Warranty", Reasoning: "looks like a warranty doc",
		Feedback: "retry with more context", Alternatives: []string{"Electronics", "Receipt"},
		Attempts: 2, Metadata: `{"relevance":0.8}`, CreatedAt: time.Now(),
	}
	if err := s.ReplacePendingReview(ctx, r); err != nil {
		t.Fatalf("ReplacePendingReview: %v", err)
	}

	got, err := s.GetPendingReview(ctx, "r1")
	if err != nil {
		t.Fatalf("GetPendingReview: %v", err)
	}
	if got.DocumentTitle != r.DocumentTitle || got.Feedback != r.Feedback || got.Attempts != r.Attempts || got.Metadata != r.Metadata {
		t.Fatalf("round trip lost fields: got %+v, want %+v", got, r)
	}
	if len(got.Alternatives) != 2 || got.Alternatives[0] != "Electronics" {
		t.Fatalf("expected alternatives to round-trip, got %v", got.Alternatives)
	}
}

func TestIsBlocked_GlobalAndKindScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutBlockedSuggestion(ctx, BlockedSuggestion{ID: "b1", Kind: "tag", Name: "Spam", Scope: "kind", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("PutBlockedSuggestion: %v", err)
	}
	if err := s.PutBlockedSuggestion(ctx, BlockedSuggestion{ID: "b2", Kind: "correspondent", Name: "Acme", Scope: "global", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("PutBlockedSuggestion: %v", err)
	}

	blocked, err := s.IsBlocked(ctx, "tag", "Spam")
	if err != nil || !blocked {
		t.Fatalf("expected kind-scoped block to match, got blocked=%v err=%v", blocked, err)
	}
	blocked, err = s.IsBlocked(ctx, "tag", "Acme")
	if err != nil || !blocked {
		t.Fatalf("expected global block to match any kind, got blocked=%v err=%v", blocked, err)
	}
	blocked, err = s.IsBlocked(ctx, "tag", "Unrelated")
	if err != nil || blocked {
		t.Fatalf("expected unrelated name to be unblocked, got blocked=%v err=%v", blocked, err)
	}
}

// TestCuratedAnnotation_ExclusionAndDescription exercises the curated
// annotation store end to end: create, list (filtered by kind), update via
// PutCuratedAnnotation (upsert), and delete.
func TestCuratedAnnotation_ExclusionAndDescription(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := CuratedAnnotation{ID: "a1", Kind: "tag", TargetID: 12, Name: "Electronics", Description: "consumer electronics purchases", CreatedAt: time.Now()}
	if err := s.PutCuratedAnnotation(ctx, a); err != nil {
		t.Fatalf("PutCuratedAnnotation: %v", err)
	}

	got, err := s.GetCuratedAnnotation(ctx, "tag", 12)
	if err != nil || got == nil {
		t.Fatalf("GetCuratedAnnotation: %v, %v", got, err)
	}
	if got.Description != a.Description || got.Excluded {
		t.Fatalf("unexpected annotation: %+v", got)
	}

	// Upsert: same (kind, target_id) updates in place rather than duplicating.
	a.Excluded = true
	a.Description = "excluded from analysis"
	if err := s.PutCuratedAnnotation(ctx, a); err != nil {
		t.Fatalf("PutCuratedAnnotation (update): %v", err)
	}
	list, err := s.ListCuratedAnnotations(ctx, "tag")
	if err != nil {
		t.Fatalf("ListCuratedAnnotations: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected upsert not to duplicate, got %d rows", len(list))
	}
	if !list[0].Excluded {
		t.Fatalf("expected excluded flag to persist after update")
	}

	if err := s.DeleteCuratedAnnotation(ctx, "tag", 12); err != nil {
		t.Fatalf("DeleteCuratedAnnotation: %v", err)
	}
	got, err = s.GetCuratedAnnotation(ctx, "tag", 12)
	if err != nil {
		t.Fatalf("GetCuratedAnnotation after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %+v", got)
	}
}
