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

package doctools

import (
	"fmt"

	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/tool"
)

// onlyProcessed filters docs down to those carrying the processed tag,
// so tool results can never leak an in-progress document as grounding
// context for another document's analysis.
func onlyProcessed(ctx tool.Context, s *Set, docs []dms.Document) []dms.Document {
	out := make([]dms.Document, 0, len(docs))
	for i := range docs {
		ok, err := s.dms.DocumentHasTag(ctx, &docs[i], processedTag)
		if err != nil || !ok {
			continue
		}
		out = append(out, docs[i])
	}
	return out
}

type searchSimilarArgs struct {
	Query string `json:"query" jsonschema:"required,description=Natural-language query to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results (default 10, capped at 10)"`
}

func (s *Set) searchSimilarDocuments(ctx tool.Context, args searchSimilarArgs) (string, error) {
	limit := clampLimit(args.Limit)
	vec, err := s.embed.Embed(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("embedding query: %w", err)
	}
	results, err := s.vec.SearchWithFilter(ctx, "documents", vec, limit, map[string]any{"processed": "true"})
	if err != nil {
		return "", fmt.Errorf("vector search: %w", err)
	}
	if len(results) == 0 {
		return "no similar documents found", nil
	}
	out := ""
	for _, r := range results {
		out += fmt.Sprintf("- score=%.3f title=%v tags=%v correspondent=%v document_type=%v\n",
			r.Score, r.Metadata["title"], r.Metadata["tags"], r.Metadata["correspondent"], r.Metadata["document_type"])
	}
	return out, nil
}

type getDocumentArgs struct {
	DocID int `json:"doc_id" jsonschema:"required,description=Document id to look up"`
}

func (s *Set) getDocument(ctx tool.Context, args getDocumentArgs) (string, error) {
	doc, err := s.dms.GetDocument(ctx, args.DocID)
	if err != nil {
		return "", err
	}
	ok, err := s.dms.DocumentHasTag(ctx, doc, processedTag)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("document %d is not fully processed yet", args.DocID)
	}
	return renderDocs([]dms.Document{*doc}, 1), nil
}

type byTagArgs struct {
	Name  string `json:"name" jsonschema:"required,description=Tag name"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results (default 10, capped at 10)"`
}

func (s *Set) getDocumentsByTag(ctx tool.Context, args byTagArgs) (string, error) {
	docs, err := s.dms.ListByTag(ctx, args.Name, clampLimit(args.Limit))
	if err != nil {
		return "", err
	}
	return renderDocs(onlyProcessed(ctx, s, docs), clampLimit(args.Limit)), nil
}

type byCorrespondentArgs struct {
	Name  string `json:"name" jsonschema:"required,description=Correspondent name"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results (default 10, capped at 10)"`
}

func (s *Set) getDocumentsByCorrespondent(ctx tool.Context, args byCorrespondentArgs) (string, error) {
	docs, err := s.dms.FetchAllByFilter(ctx, map[string]string{"correspondent__name__iexact": args.Name})
	if err != nil {
		return "", err
	}
	return renderDocs(onlyProcessed(ctx, s, docs), clampLimit(args.Limit)), nil
}

type byTypeArgs struct {
	Name  string `json:"name" jsonschema:"required,description=Document type name"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results (default 10, capped at 10)"`
}

func (s *Set) getDocumentsByType(ctx tool.Context, args byTypeArgs) (string, error) {
	docs, err := s.dms.FetchAllByFilter(ctx, map[string]string{"document_type__name__iexact": args.Name})
	if err != nil {
		return "", err
	}
	return renderDocs(onlyProcessed(ctx, s, docs), clampLimit(args.Limit)), nil
}

type byCustomFieldArgs struct {
	Name  string `json:"name" jsonschema:"required,description=Custom field name"`
	Value string `json:"value,omitempty" jsonschema:"description=Optional exact value to match"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results (default 10, capped at 10)"`
}

func (s *Set) getDocumentsByCustomField(ctx tool.Context, args byCustomFieldArgs) (string, error) {
	params := map[string]string{"custom_fields__field__name__iexact": args.Name}
	if args.Value != "" {
		params["custom_fields__value__iexact"] = args.Value
	}
	docs, err := s.dms.FetchAllByFilter(ctx, params)
	if err != nil {
		return "", err
	}
	return renderDocs(onlyProcessed(ctx, s, docs), clampLimit(args.Limit)), nil
}

type listCustomFieldsArgs struct{}

func (s *Set) listCustomFields(ctx tool.Context, _ listCustomFieldsArgs) (string, error) {
	fields, err := s.dms.ListCustomFields(ctx)
	if err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return "no custom fields configured", nil
	}
	out := ""
	for _, f := range fields {
		out += fmt.Sprintf("- id=%d name=%q\n", f.ID, f.Name)
	}
	return out, nil
}
