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
	"strings"
	"time"
)

// PendingReview is a suggestion awaiting operator approval.
type PendingReview struct {
	ID            string
	Kind          string // "correspondent", "document_type", "tag", "title", "schema_merge", "schema_delete"
	DocumentID    int
	DocumentTitle string // snapshot of the document title at proposal time
	ProposedValue string
	Reasoning     string
	Feedback      string   // last confirmation-loop rejection feedback, if any
	NextTag       string   // workflow tag to transition to on approval, if any
	MergeIDs      []string // for schema_merge: the set of pending review ids being collapsed
	Alternatives  []string // other values the agent considered alongside ProposedValue
	Attempts      int      // confirmation-loop attempts spent before this review was queued
	Metadata      string   // free-form JSON, e.g. a relevance or confidence score
	CreatedAt     time.Time
}

const pendingReviewColumns = `id, kind, document_id, document_title, proposed_value, reasoning, feedback, next_tag, merge_ids, alternatives, attempts, metadata, created_at`

func scanPendingReview(row interface{ Scan(...any) error }) (PendingReview, error) {
	var r PendingReview
	var mergeIDs, alternatives string
	if err := row.Scan(&r.ID, &r.Kind, &r.DocumentID, &r.DocumentTitle, &r.ProposedValue, &r.Reasoning, &r.Feedback, &r.NextTag, &mergeIDs, &alternatives, &r.Attempts, &r.Metadata, &r.CreatedAt); err != nil {
		return PendingReview{}, err
	}
	if mergeIDs != "" {
		r.MergeIDs = strings.Split(mergeIDs, ",")
	}
	if alternatives != "" {
		r.Alternatives = strings.Split(alternatives, ",")
	}
	return r, nil
}

// PutPendingReview inserts a pending review unconditionally. Used by the
// bootstrap schema-cleanup analyzer and the review-queue merge operation,
// which legitimately insert multiple schema_merge/schema_delete rows
// sharing document_id 0 — outside the per-document uniqueness invariant.
func (s *Store) PutPendingReview(ctx context.Context, r PendingReview) error {
	_, err := s.exec(ctx, `
		INSERT INTO pending_reviews (`+pendingReviewColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.DocumentID, r.DocumentTitle, r.ProposedValue, r.Reasoning, r.Feedback, r.NextTag,
		strings.Join(r.MergeIDs, ","), strings.Join(r.Alternatives, ","), r.Attempts, r.Metadata, r.CreatedAt)
	return err
}

// ReplacePendingReview enforces invariant #3 (at most one active pending
// review per (document_id, kind) pair) for document-scoped kinds: it
// deletes any existing review sharing r's document id and kind before
// inserting r. Bootstrap's schema_merge/schema_delete rows use document id
// 0 as a sentinel meaning "not document-scoped" and are exempt, since many
// of them legitimately coexist for the same kind.
func (s *Store) ReplacePendingReview(ctx context.Context, r PendingReview) error {
	if r.DocumentID != 0 {
		if _, err := s.exec(ctx, `DELETE FROM pending_reviews WHERE document_id = ? AND kind = ?`, r.DocumentID, r.Kind); err != nil {
			return err
		}
	}
	return s.PutPendingReview(ctx, r)
}

// ListPendingReviews returns reviews, optionally filtered by kind.
func (s *Store) ListPendingReviews(ctx context.Context, kind string) ([]PendingReview, error) {
	var rows *sql.Rows
	var err error
	if kind == "" {
		rows, err = s.query(ctx, `SELECT `+pendingReviewColumns+` FROM pending_reviews ORDER BY created_at`)
	} else {
		rows, err = s.query(ctx, `SELECT `+pendingReviewColumns+` FROM pending_reviews WHERE kind = ? ORDER BY created_at`, kind)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingReview
	for rows.Next() {
		r, err := scanPendingReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetPendingReview fetches a single review by id.
func (s *Store) GetPendingReview(ctx context.Context, id string) (*PendingReview, error) {
	row := s.queryRow(ctx, `SELECT `+pendingReviewColumns+` FROM pending_reviews WHERE id = ?`, id)
	r, err := scanPendingReview(row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeletePendingReview removes a review by id.
func (s *Store) DeletePendingReview(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM pending_reviews WHERE id = ?`, id)
	return err
}

// CountPendingReviews returns the number of pending reviews per kind.
func (s *Store) CountPendingReviews(ctx context.Context) (map[string]int, error) {
	rows, err := s.query(ctx, `SELECT kind, COUNT(*) FROM pending_reviews GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		out[kind] = count
	}
	return out, rows.Err()
}

// BlockedSuggestion records a name an operator has rejected, scoped either
// globally or to the kind it was rejected under.
type BlockedSuggestion struct {
	ID        string
	Kind      string
	Name      string
	Scope     string // "global" or "kind"
	Reason    string
	Category  string
	CreatedAt time.Time
}

// PutBlockedSuggestion inserts a blocked-suggestion record.
func (s *Store) PutBlockedSuggestion(ctx context.Context, b BlockedSuggestion) error {
	_, err := s.exec(ctx, `
		INSERT INTO blocked_suggestions (id, kind, name, scope, reason, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Kind, b.Name, b.Scope, b.Reason, b.Category, b.CreatedAt)
	return err
}

// IsBlocked reports whether name is blocked for kind, either because it was
// blocked globally or specifically for this kind.
func (s *Store) IsBlocked(ctx context.Context, kind, name string) (bool, error) {
	row := s.queryRow(ctx, `
		SELECT COUNT(*) FROM blocked_suggestions
		WHERE name = ? AND (scope = 'global' OR kind = ?)`, name, kind)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListBlockedSuggestions returns every blocked-suggestion record that applies
// to kind (global-scope records plus those recorded under kind), used by
// agents to filter their own proposal lists without a per-name query.
func (s *Store) ListBlockedSuggestions(ctx context.Context, kind string) ([]BlockedSuggestion, error) {
	rows, err := s.query(ctx, `
		SELECT id, kind, name, scope, reason, category, created_at FROM blocked_suggestions
		WHERE scope = 'global' OR kind = ?`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlockedSuggestion
	for rows.Next() {
		var b BlockedSuggestion
		if err := rows.Scan(&b.ID, &b.Kind, &b.Name, &b.Scope, &b.Reason, &b.Category, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
