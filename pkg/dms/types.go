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

// Package dms adapts the document-management service's REST API to a
// typed, paginated, tag-transition-aware Go client, built on the teacher's
// HTTP retry/backoff client. Operations fail with errs.Transport or
// errs.NotFound (errs.Config for an unknown entity kind); the adapter never
// caches.
package dms

import "time"

// Document is the subset of DMS document fields the core reads and writes.
type Document struct {
	ID             int                 `json:"id"`
	Title          string              `json:"title"`
	Correspondent  *int                `json:"correspondent"`
	DocumentType   *int                `json:"document_type"`
	Tags           []int               `json:"tags"`
	CustomFields   []CustomFieldValue  `json:"custom_fields"`
	Content        string              `json:"content"`
	Created        time.Time           `json:"created"`
}

// CustomFieldValue is one {field_id, value} pair on a document.
type CustomFieldValue struct {
	Field int    `json:"field"`
	Value string `json:"value"`
}

// DocumentPatch carries only the fields to change in an update_document
// call; nil/zero-value fields are omitted from the PATCH body.
type DocumentPatch struct {
	Title         *string             `json:"title,omitempty"`
	Correspondent *int                `json:"correspondent,omitempty"`
	DocumentType  *int                `json:"document_type,omitempty"`
	Tags          []int               `json:"tags,omitempty"`
	CustomFields  []CustomFieldValue  `json:"custom_fields,omitempty"`
}

// Entity is a named DMS object: a tag, correspondent, document type, or
// custom field definition. Color is only meaningful for tags.
type Entity struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Color         string `json:"color,omitempty"`
	DocumentCount int    `json:"document_count"`
}

// page is the DMS's standard paginated-list envelope.
type page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}
