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
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docpilot/core/pkg/store"
)

// StoreLogger persists every confirmation-loop event to the processing_log
// table, attributing it to the document ID stashed in ctx by runConfirmLoop.
// It never returns an error to the engine: a logging failure is reported and
// the run continues, matching the Logger contract's "must not block the
// engine" rule.
type StoreLogger struct {
	st *store.Store
}

// NewStoreLogger builds a StoreLogger writing through st.
func NewStoreLogger(st *store.Store) *StoreLogger {
	return &StoreLogger{st: st}
}

// Log implements confirmloop.Logger.
func (l *StoreLogger) Log(ctx context.Context, parentID, event, payload string) string {
	id := uuid.NewString()
	docID, _ := DocIDFromContext(ctx)
	entry := store.LogEntry{
		ID:         id,
		DocumentID: docID,
		ParentID:   parentID,
		Event:      event,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
	if err := l.st.AppendLog(ctx, entry); err != nil {
		slog.Error("failed to append processing log", "error", err, "event", event)
	}
	return id
}
