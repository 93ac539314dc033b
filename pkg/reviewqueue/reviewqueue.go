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

// Package reviewqueue implements the durable review queue business logic
// (list/approve/reject/merge of pending LLM proposals) layered over
// pkg/store, plus the bootstrap schema-cleanup analyzer that mines the DMS
// for merge and delete candidates.
package reviewqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/store"
)

// Queue wires review-queue operations to a DMS client and the store.
type Queue struct {
	dms *dms.Client
	st  *store.Store
}

// New builds a Queue.
func New(dmsClient *dms.Client, st *store.Store) *Queue {
	return &Queue{dms: dmsClient, st: st}
}

// List returns every pending review, optionally filtered by kind.
func (q *Queue) List(ctx context.Context, kind string) ([]store.PendingReview, error) {
	return q.st.ListPendingReviews(ctx, kind)
}

// Counts returns the number of pending reviews per kind.
func (q *Queue) Counts(ctx context.Context) (map[string]int, error) {
	return q.st.CountPendingReviews(ctx)
}

// Approve applies the proposal in review id. For correspondent/document_type
// and new-tag proposals it get-or-creates the entity, assigns it, and
// transitions the document's workflow tag to NextTag if set. For
// schema_merge/schema_delete it calls the matching DMS adapter primitive.
// Approval is idempotent against the DMS; on success the pending review is
// removed.
func (q *Queue) Approve(ctx context.Context, id string, selectedValue string) error {
	r, err := q.st.GetPendingReview(ctx, id)
	if err != nil {
		return fmt.Errorf("reviewqueue: fetching review %s: %w", id, err)
	}
	value := r.ProposedValue
	if selectedValue != "" {
		value = selectedValue
	}

	switch r.Kind {
	case "correspondent":
		if err := q.approveEntityAssignment(ctx, r, "correspondents", value); err != nil {
			return err
		}
	case "document_type":
		if err := q.approveEntityAssignment(ctx, r, "document_types", value); err != nil {
			return err
		}
	case "tag":
		entity, err := q.dms.GetOrCreateTag(ctx, value)
		if err != nil {
			return fmt.Errorf("reviewqueue: get_or_create tag %q: %w", value, err)
		}
		doc, err := q.dms.GetDocument(ctx, r.DocumentID)
		if err != nil {
			return fmt.Errorf("reviewqueue: fetching document %d: %w", r.DocumentID, err)
		}
		if err := q.dms.AddTag(ctx, doc, entity.Name); err != nil {
			return fmt.Errorf("reviewqueue: assigning tag %q: %w", entity.Name, err)
		}
		if r.NextTag != "" {
			if err := q.transitionIfPresentTag(ctx, doc, r.NextTag); err != nil {
				return err
			}
		}
	case "title":
		if _, err := q.dms.UpdateDocument(ctx, r.DocumentID, dms.DocumentPatch{Title: &value}); err != nil {
			return fmt.Errorf("reviewqueue: applying title: %w", err)
		}
	case "schema_merge":
		kind, sourceID, targetID, perr := parseMergeValue(value)
		if perr != nil {
			return fmt.Errorf("reviewqueue: parsing merge value %q: %w", value, perr)
		}
		if err := q.dms.MergeEntities(ctx, kind, sourceID, targetID); err != nil {
			return fmt.Errorf("reviewqueue: merging entities: %w", err)
		}
	case "schema_delete":
		kind, entityID, perr := parseDeleteValue(value)
		if perr != nil {
			return fmt.Errorf("reviewqueue: parsing delete value %q: %w", value, perr)
		}
		entities, err := q.dms.EntitiesWithCounts(ctx, kind)
		if err != nil {
			return fmt.Errorf("reviewqueue: re-checking %s usage: %w", kind, err)
		}
		for _, e := range entities {
			if e.ID == entityID && e.DocumentCount != 0 {
				return fmt.Errorf("reviewqueue: %s %d is now referenced by %d document(s), skipping delete", kind, entityID, e.DocumentCount)
			}
		}
		if err := q.dms.DeleteEntity(ctx, kind, entityID); err != nil {
			return fmt.Errorf("reviewqueue: deleting entity: %w", err)
		}
	default:
		return fmt.Errorf("reviewqueue: unknown review kind %q", r.Kind)
	}

	return q.st.DeletePendingReview(ctx, id)
}

func (q *Queue) approveEntityAssignment(ctx context.Context, r *store.PendingReview, kind, value string) error {
	var entity *dms.Entity
	var err error
	switch kind {
	case "correspondents":
		entity, err = q.dms.GetOrCreateCorrespondent(ctx, value)
	case "document_types":
		entity, err = q.dms.GetOrCreateDocumentType(ctx, value)
	}
	if err != nil {
		return fmt.Errorf("reviewqueue: get_or_create %s %q: %w", kind, value, err)
	}
	patch := dms.DocumentPatch{}
	if kind == "correspondents" {
		patch.Correspondent = &entity.ID
	} else {
		patch.DocumentType = &entity.ID
	}
	if _, err := q.dms.UpdateDocument(ctx, r.DocumentID, patch); err != nil {
		return fmt.Errorf("reviewqueue: applying %s: %w", kind, err)
	}
	if r.NextTag != "" {
		doc, err := q.dms.GetDocument(ctx, r.DocumentID)
		if err != nil {
			return fmt.Errorf("reviewqueue: fetching document %d: %w", r.DocumentID, err)
		}
		if err := q.transitionIfPresentTag(ctx, doc, r.NextTag); err != nil {
			return err
		}
	}
	return nil
}

// transitionIfPresentTag adds toTag to doc if doc does not already carry
// it, making tag-transition approval idempotent against retries.
func (q *Queue) transitionIfPresentTag(ctx context.Context, doc *dms.Document, toTag string) error {
	has, err := q.dms.DocumentHasTag(ctx, doc, toTag)
	if err != nil {
		return fmt.Errorf("reviewqueue: checking tag %q: %w", toTag, err)
	}
	if has {
		return nil
	}
	return q.dms.AddTag(ctx, doc, toTag)
}

// Reject removes the pending review without recording a block.
func (q *Queue) Reject(ctx context.Context, id string) error {
	return q.st.DeletePendingReview(ctx, id)
}

// RejectFeedback describes a rejection that should also suppress the
// suggestion from being proposed again.
type RejectFeedback struct {
	Scope    string // "global" or "kind"
	Reason   string
	Category string
}

// RejectWithFeedback removes the pending review and records a
// blocked-suggestion entry so the name is filtered from future proposals at
// the requested scope. Use Reject to remove a review without blocking it.
func (q *Queue) RejectWithFeedback(ctx context.Context, id string, fb RejectFeedback) error {
	r, err := q.st.GetPendingReview(ctx, id)
	if err != nil {
		return fmt.Errorf("reviewqueue: fetching review %s: %w", id, err)
	}
	if err := q.st.PutBlockedSuggestion(ctx, store.BlockedSuggestion{
		ID:        uuid.NewString(),
		Kind:      r.Kind,
		Name:      r.ProposedValue,
		Scope:     fb.Scope,
		Reason:    fb.Reason,
		Category:  fb.Category,
		CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("reviewqueue: recording block: %w", err)
	}
	return q.st.DeletePendingReview(ctx, id)
}

// Merge collapses the listed pending reviews into a single record under
// finalName, referencing the union of their document ids.
func (q *Queue) Merge(ctx context.Context, ids []string, finalName string) error {
	if len(ids) == 0 {
		return fmt.Errorf("reviewqueue: merge requires at least one review id")
	}
	var kind string
	docIDs := make(map[int]bool)
	var reasoning []string
	for i, id := range ids {
		r, err := q.st.GetPendingReview(ctx, id)
		if err != nil {
			return fmt.Errorf("reviewqueue: fetching review %s: %w", id, err)
		}
		if i == 0 {
			kind = r.Kind
		} else if r.Kind != kind {
			return fmt.Errorf("reviewqueue: cannot merge reviews of different kinds (%s vs %s)", kind, r.Kind)
		}
		docIDs[r.DocumentID] = true
		if r.Reasoning != "" {
			reasoning = append(reasoning, r.Reasoning)
		}
		if err := q.st.DeletePendingReview(ctx, id); err != nil {
			return fmt.Errorf("reviewqueue: deleting merged review %s: %w", id, err)
		}
	}

	var primaryDoc int
	for id := range docIDs {
		primaryDoc = id
		break
	}
	return q.st.PutPendingReview(ctx, store.PendingReview{
		ID:            uuid.NewString(),
		Kind:          kind,
		DocumentID:    primaryDoc,
		ProposedValue: finalName,
		Reasoning:     strings.Join(reasoning, "; "),
		MergeIDs:      ids,
		CreatedAt:     time.Now(),
	})
}

// mergeValue renders a schema_merge proposal's value as
// "kind:sourceID>targetID", the inverse of parseMergeValue.
func mergeValue(kind string, source, target int) string {
	return fmt.Sprintf("%s:%d>%d", kind, source, target)
}

// parseMergeValue parses a schema_merge proposal's value, encoded by the
// bootstrap analyzer as "kind:sourceID>targetID" since PendingReview has no
// dedicated column for the target entity kind.
func parseMergeValue(value string) (kind string, source, target int, err error) {
	kind, rest, ok := strings.Cut(value, ":")
	if !ok {
		return "", 0, 0, fmt.Errorf("expected \"kind:sourceID>targetID\"")
	}
	parts := strings.SplitN(rest, ">", 2)
	if len(parts) != 2 {
		return "", 0, 0, fmt.Errorf("expected \"kind:sourceID>targetID\"")
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &source); err != nil {
		return "", 0, 0, err
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &target); err != nil {
		return "", 0, 0, err
	}
	return kind, source, target, nil
}

// deleteValue renders a schema_delete proposal's value as "kind:entityID".
func deleteValue(kind string, id int) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// parseDeleteValue parses a schema_delete proposal's value, encoded as
// "kind:entityID".
func parseDeleteValue(value string) (kind string, id int, err error) {
	kind, rest, ok := strings.Cut(value, ":")
	if !ok {
		return "", 0, fmt.Errorf("expected \"kind:entityID\"")
	}
	_, err = fmt.Sscanf(rest, "%d", &id)
	return kind, id, err
}
