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
	"time"
)

// CuratedAnnotation is a human-curated description attached to a tag or
// custom field, kept outside the DMS since the DMS has no such field.
// Excluded marks the target as one the agents must never consider when
// building their analysis context — its description still exists for
// operator reference, but neither the name nor the description reaches a
// prompt.
type CuratedAnnotation struct {
	ID          string
	Kind        string // "tag" or "custom_field"
	TargetID    int
	Name        string
	Description string
	Category    string
	Excluded    bool
	CreatedAt   time.Time
}

// PutCuratedAnnotation upserts the annotation for (kind, target_id).
func (s *Store) PutCuratedAnnotation(ctx context.Context, a CuratedAnnotation) error {
	existing, err := s.GetCuratedAnnotation(ctx, a.Kind, a.TargetID)
	if err != nil {
		return err
	}
	if existing != nil {
		_, err := s.exec(ctx, `
			UPDATE curated_annotations
			SET name = ?, description = ?, category = ?, excluded = ?, created_at = ?
			WHERE kind = ? AND target_id = ?`,
			a.Name, a.Description, a.Category, a.Excluded, a.CreatedAt, a.Kind, a.TargetID)
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO curated_annotations (id, kind, target_id, name, description, category, excluded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Kind, a.TargetID, a.Name, a.Description, a.Category, a.Excluded, a.CreatedAt)
	return err
}

// GetCuratedAnnotation returns the annotation for (kind, target_id), or nil
// if none has been set.
func (s *Store) GetCuratedAnnotation(ctx context.Context, kind string, targetID int) (*CuratedAnnotation, error) {
	row := s.queryRow(ctx, `
		SELECT id, kind, target_id, name, description, category, excluded, created_at
		FROM curated_annotations WHERE kind = ? AND target_id = ?`, kind, targetID)
	var a CuratedAnnotation
	if err := row.Scan(&a.ID, &a.Kind, &a.TargetID, &a.Name, &a.Description, &a.Category, &a.Excluded, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// ListCuratedAnnotations returns every curated annotation of kind.
func (s *Store) ListCuratedAnnotations(ctx context.Context, kind string) ([]CuratedAnnotation, error) {
	rows, err := s.query(ctx, `
		SELECT id, kind, target_id, name, description, category, excluded, created_at
		FROM curated_annotations WHERE kind = ? ORDER BY name`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CuratedAnnotation
	for rows.Next() {
		var a CuratedAnnotation
		if err := rows.Scan(&a.ID, &a.Kind, &a.TargetID, &a.Name, &a.Description, &a.Category, &a.Excluded, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteCuratedAnnotation removes the annotation for (kind, target_id), if any.
func (s *Store) DeleteCuratedAnnotation(ctx context.Context, kind string, targetID int) error {
	_, err := s.exec(ctx, `DELETE FROM curated_annotations WHERE kind = ? AND target_id = ?`, kind, targetID)
	return err
}
