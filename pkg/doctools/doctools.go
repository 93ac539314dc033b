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

// Package doctools is the fixed set of read-only tools bound to the large
// model's analysis call: similarity search and filtered document lookups,
// restricted to fully-processed documents so an in-progress document can
// never leak into another document's analysis as a grounding example.
// Built on pkg/tool/functiontool, the teacher's generic-function-to-tool
// adapter.
package doctools

import (
	"fmt"
	"strings"

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/embedder"
	"github.com/docpilot/core/pkg/tool"
	"github.com/docpilot/core/pkg/tool/functiontool"
	"github.com/docpilot/core/pkg/vector"
)

const processedTag = "processed"

// Set builds the fixed doctools toolset bound to a DMS client, vector
// provider, and embedder.
type Set struct {
	dms   *dms.Client
	vec   vector.Provider
	embed embedder.Embedder
}

// New constructs the doctools set.
func New(dmsClient *dms.Client, vec vector.Provider, embed embedder.Embedder) *Set {
	return &Set{dms: dmsClient, vec: vec, embed: embed}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 10 {
		return 10
	}
	return limit
}

func renderDocs(docs []dms.Document, limit int) string {
	docs = docs[:min(len(docs), limit)]
	if len(docs) == 0 {
		return "no matching documents found"
	}
	var sb strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&sb, "- id=%d title=%q tags=%v correspondent=%v document_type=%v\n", d.ID, d.Title, d.Tags, d.Correspondent, d.DocumentType)
	}
	return sb.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Tools returns every doctools tool as a tool.Tool, ready for
// BindTools/MCP exposure.
func (s *Set) Tools() ([]tool.Tool, error) {
	var out []tool.Tool

	searchSimilar, err := functiontool.New(
		functiontool.Config{
			Name:        "search_similar_documents",
			Description: "Search previously processed documents by semantic similarity to a query. Returns at most 10 title/tags/correspondent/type tuples with similarity scores.",
		},
		s.searchSimilarDocuments,
	)
	if err != nil {
		return nil, err
	}
	out = append(out, searchSimilar)

	getDoc, err := functiontool.New(
		functiontool.Config{
			Name:        "get_document",
			Description: "Look up a single fully-processed document by id.",
		},
		s.getDocument,
	)
	if err != nil {
		return nil, err
	}
	out = append(out, getDoc)

	byTag, err := functiontool.New(
		functiontool.Config{
			Name:        "get_documents_by_tag",
			Description: "List up to 10 processed documents carrying a given tag name.",
		},
		s.getDocumentsByTag,
	)
	if err != nil {
		return nil, err
	}
	out = append(out, byTag)

	byCorrespondent, err := functiontool.New(
		functiontool.Config{
			Name:        "get_documents_by_correspondent",
			Description: "List up to 10 processed documents from a given correspondent name.",
		},
		s.getDocumentsByCorrespondent,
	)
	if err != nil {
		return nil, err
	}
	out = append(out, byCorrespondent)

	byType, err := functiontool.New(
		functiontool.Config{
			Name:        "get_documents_by_type",
			Description: "List up to 10 processed documents of a given document type name.",
		},
		s.getDocumentsByType,
	)
	if err != nil {
		return nil, err
	}
	out = append(out, byType)

	byField, err := functiontool.New(
		functiontool.Config{
			Name:        "get_documents_by_custom_field",
			Description: "List up to 10 processed documents carrying a given custom field, optionally filtered to a specific value.",
		},
		s.getDocumentsByCustomField,
	)
	if err != nil {
		return nil, err
	}
	out = append(out, byField)

	listFields, err := functiontool.New(
		functiontool.Config{
			Name:        "list_custom_fields",
			Description: "Enumerate every custom field defined in the DMS.",
		},
		s.listCustomFields,
	)
	if err != nil {
		return nil, err
	}
	out = append(out, listFields)

	return out, nil
}
