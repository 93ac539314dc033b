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
	"time"
)

// LogEntry is one event in a document's processing history: a prompt
// built, a raw model response, extracted thinking, a tool call or result,
// a confirmation decision, a retry trigger, or a final result/error. Events
// form a tree via ParentID so a consumer can render the reasoning trace of
// a confirmation-loop run.
type LogEntry struct {
	ID         string
	DocumentID int
	ParentID   string
	Event      string
	Payload    string
	CreatedAt  time.Time
}

// AppendLog records a processing-log entry. The engine never blocks on
// this call failing; callers should log-and-continue on error rather than
// aborting a run over a logging failure.
func (s *Store) AppendLog(ctx context.Context, e LogEntry) error {
	_, err := s.exec(ctx, `
		INSERT INTO processing_log (id, document_id, parent_id, event, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.DocumentID, e.ParentID, e.Event, e.Payload, e.CreatedAt)
	return err
}

// ListLog returns every log entry for a document, oldest first.
func (s *Store) ListLog(ctx context.Context, documentID int) ([]LogEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, document_id, parent_id, event, payload, created_at
		FROM processing_log WHERE document_id = ? ORDER BY created_at`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.ParentID, &e.Event, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MetadataAnnotation records a per-document, per-step inferred value (the
// summary agent's abstract, an OCR confidence score, etc.) that has no
// first-class home on the DMS document itself.
type MetadataAnnotation struct {
	ID         string
	DocumentID int
	Step       string
	Field      string
	Value      string
	Confidence float64
	CreatedAt  time.Time
}

// PutMetadataAnnotation inserts a metadata annotation.
func (s *Store) PutMetadataAnnotation(ctx context.Context, a MetadataAnnotation) error {
	_, err := s.exec(ctx, `
		INSERT INTO metadata_annotations (id, document_id, step, field, value, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DocumentID, a.Step, a.Field, a.Value, a.Confidence, a.CreatedAt)
	return err
}

// ListMetadataAnnotations returns every annotation recorded for a document.
func (s *Store) ListMetadataAnnotations(ctx context.Context, documentID int) ([]MetadataAnnotation, error) {
	rows, err := s.query(ctx, `
		SELECT id, document_id, step, field, value, confidence, created_at
		FROM metadata_annotations WHERE document_id = ? ORDER BY created_at`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetadataAnnotation
	for rows.Next() {
		var a MetadataAnnotation
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.Step, &a.Field, &a.Value, &a.Confidence, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
