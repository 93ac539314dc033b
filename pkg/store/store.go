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

// Package store is the SQL-backed persistence layer for everything the DMS
// itself does not hold: pending reviews, blocked suggestions, metadata
// annotations, curated tag/custom-field descriptions, processing-log
// entries, settings key/value pairs, and background job status. It
// supports PostgreSQL, MySQL, and SQLite through
// database/sql, the same dialect-aware schema/placeholder pattern the
// teacher uses for its SQL-backed persistence.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pending_reviews (
    id VARCHAR(64) PRIMARY KEY,
    kind VARCHAR(32) NOT NULL,
    document_id INTEGER NOT NULL,
    document_title VARCHAR(512),
    proposed_value TEXT NOT NULL,
    reasoning TEXT,
    feedback TEXT,
    next_tag VARCHAR(64),
    merge_ids TEXT,
    alternatives TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_reviews_kind ON pending_reviews(kind);
CREATE INDEX IF NOT EXISTS idx_pending_reviews_document_id ON pending_reviews(document_id);
-- Invariant #3 (at most one active pending review per (document_id, kind))
-- is enforced at the application layer in Store.ReplacePendingReview rather
-- than a unique index here: schema_merge/schema_delete rows legitimately
-- share document_id 0 across many rows of the same kind, and MySQL has no
-- partial/filtered unique index to carve those out while keeping one
-- schema shared across all three dialects.
CREATE INDEX IF NOT EXISTS idx_pending_reviews_doc_kind ON pending_reviews(document_id, kind);

CREATE TABLE IF NOT EXISTS blocked_suggestions (
    id VARCHAR(64) PRIMARY KEY,
    kind VARCHAR(32) NOT NULL,
    name VARCHAR(255) NOT NULL,
    scope VARCHAR(16) NOT NULL,
    reason TEXT,
    category VARCHAR(64),
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blocked_suggestions_kind_name ON blocked_suggestions(kind, name);

CREATE TABLE IF NOT EXISTS metadata_annotations (
    id VARCHAR(64) PRIMARY KEY,
    document_id INTEGER NOT NULL,
    step VARCHAR(32) NOT NULL,
    field VARCHAR(64) NOT NULL,
    value TEXT,
    confidence REAL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metadata_annotations_document_id ON metadata_annotations(document_id);

CREATE TABLE IF NOT EXISTS curated_annotations (
    id VARCHAR(64) PRIMARY KEY,
    kind VARCHAR(32) NOT NULL,
    target_id INTEGER NOT NULL,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    category VARCHAR(64),
    excluded BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_curated_annotations_kind_target ON curated_annotations(kind, target_id);

CREATE TABLE IF NOT EXISTS processing_log (
    id VARCHAR(64) PRIMARY KEY,
    document_id INTEGER NOT NULL,
    parent_id VARCHAR(64),
    event VARCHAR(32) NOT NULL,
    payload TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processing_log_document_id ON processing_log(document_id);

CREATE TABLE IF NOT EXISTS settings_kv (
    key VARCHAR(128) PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS job_status (
    job_id VARCHAR(64) PRIMARY KEY,
    kind VARCHAR(32) NOT NULL,
    status VARCHAR(16) NOT NULL,
    progress TEXT,
    updated_at TIMESTAMP NOT NULL
);
`

// Store is the shared handle to all tables above.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open wraps db, an already-open connection pool, for dialect and ensures
// the schema exists.
func Open(db *sql.DB, dialect string) (*Store, error) {
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	s := &Store{db: db, dialect: dialect}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// rewrite replaces sequential "?" placeholders in query with the dialect's
// placeholder syntax, so callers can write queries with plain "?" and have
// them work across all three dialects.
func (s *Store) rewrite(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, []byte(fmt.Sprintf("$%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rewrite(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rewrite(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rewrite(query), args...)
}

// Close is a no-op: the underlying *sql.DB is owned by the shared
// config.DBPool and may be used by other components.
func (s *Store) Close() error { return nil }
