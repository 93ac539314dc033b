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

// GetSetting returns the raw value stored under key, or ("", false) if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	row := s.queryRow(ctx, `SELECT value FROM settings_kv WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// PutSetting upserts key to value.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	now := time.Now()
	switch s.dialect {
	case "postgres":
		_, err := s.exec(ctx, `
			INSERT INTO settings_kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			key, value, now)
		return err
	case "mysql":
		_, err := s.exec(ctx, `
			INSERT INTO settings_kv (key, value, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`,
			key, value, now)
		return err
	default: // sqlite
		_, err := s.exec(ctx, `INSERT OR REPLACE INTO settings_kv (key, value, updated_at) VALUES (?, ?, ?)`, key, value, now)
		return err
	}
}

// AllSettings returns every stored key/value pair, used to bootstrap the
// in-memory settings snapshot on startup and after a hot reload.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.query(ctx, `SELECT key, value FROM settings_kv`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// JobStatus is a snapshot of a long-running background job (the bootstrap
// schema-cleanup analyzer), persisted so a status request after a process
// restart can still report the last known state.
type JobStatus struct {
	JobID     string
	Kind      string
	Status    string // "idle", "running", "completed", "cancelled", "error"
	Progress  string // JSON-encoded progress payload
	UpdatedAt time.Time
}

// PutJobStatus upserts a job's status snapshot.
func (s *Store) PutJobStatus(ctx context.Context, j JobStatus) error {
	switch s.dialect {
	case "postgres":
		_, err := s.exec(ctx, `
			INSERT INTO job_status (job_id, kind, status, progress, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (job_id) DO UPDATE SET status = EXCLUDED.status, progress = EXCLUDED.progress, updated_at = EXCLUDED.updated_at`,
			j.JobID, j.Kind, j.Status, j.Progress, j.UpdatedAt)
		return err
	case "mysql":
		_, err := s.exec(ctx, `
			INSERT INTO job_status (job_id, kind, status, progress, updated_at) VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE status = VALUES(status), progress = VALUES(progress), updated_at = VALUES(updated_at)`,
			j.JobID, j.Kind, j.Status, j.Progress, j.UpdatedAt)
		return err
	default:
		_, err := s.exec(ctx, `INSERT OR REPLACE INTO job_status (job_id, kind, status, progress, updated_at) VALUES (?, ?, ?, ?, ?)`,
			j.JobID, j.Kind, j.Status, j.Progress, j.UpdatedAt)
		return err
	}
}

// GetJobStatus returns the last known status for a job id.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	row := s.queryRow(ctx, `SELECT job_id, kind, status, progress, updated_at FROM job_status WHERE job_id = ?`, jobID)
	var j JobStatus
	if err := row.Scan(&j.JobID, &j.Kind, &j.Status, &j.Progress, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}
