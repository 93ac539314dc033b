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

package dms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/docpilot/core/pkg/errs"
)

// entityKinds maps a logical entity kind to its DMS list endpoint segment.
var entityKinds = map[string]string{
	"tags":            "tags",
	"correspondents":  "correspondents",
	"document_types":  "document_types",
	"custom_fields":   "custom_fields",
}

// findEntity looks up an entity of kind by case-insensitive name, returning
// errs.NotFound if no entity matches.
func (c *Client) findEntity(ctx context.Context, kind, name string) (*Entity, error) {
	segment, ok := entityKinds[kind]
	if !ok {
		return nil, errs.Config("dms.findEntity", fmt.Errorf("unknown entity kind %q", kind))
	}
	q := url.Values{}
	q.Set("name__iexact", name)
	q.Set("page_size", "1")

	var p page[Entity]
	if err := c.do(ctx, http.MethodGet, "/api/"+segment+"/?"+q.Encode(), nil, &p); err != nil {
		return nil, err
	}
	if len(p.Results) == 0 {
		return nil, errs.NotFound("dms."+kind, fmt.Errorf("%s %q not found", kind, name))
	}
	return &p.Results[0], nil
}

// createEntity creates a new entity of kind with the given name.
func (c *Client) createEntity(ctx context.Context, kind, name string) (*Entity, error) {
	segment, ok := entityKinds[kind]
	if !ok {
		return nil, errs.Config("dms.createEntity", fmt.Errorf("unknown entity kind %q", kind))
	}
	var e Entity
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/api/"+segment+"/", body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// getOrCreate looks up name under kind, creating it if absent. Name
// lookups are case-insensitive but the entity's canonical casing (as
// stored by the DMS) is preserved on read and on creation.
func (c *Client) getOrCreate(ctx context.Context, kind, name string) (*Entity, error) {
	e, err := c.findEntity(ctx, kind, name)
	if err == nil {
		return e, nil
	}
	if !errs.Is(err, errs.KindNotFound) {
		return nil, err
	}
	return c.createEntity(ctx, kind, name)
}

// GetOrCreateTag looks up or creates a tag by name.
func (c *Client) GetOrCreateTag(ctx context.Context, name string) (*Entity, error) {
	return c.getOrCreate(ctx, "tags", name)
}

// GetOrCreateCorrespondent looks up or creates a correspondent by name.
func (c *Client) GetOrCreateCorrespondent(ctx context.Context, name string) (*Entity, error) {
	return c.getOrCreate(ctx, "correspondents", name)
}

// GetOrCreateDocumentType looks up or creates a document type by name.
func (c *Client) GetOrCreateDocumentType(ctx context.Context, name string) (*Entity, error) {
	return c.getOrCreate(ctx, "document_types", name)
}

// ListCustomFields enumerates every custom field definition.
func (c *Client) ListCustomFields(ctx context.Context) ([]Entity, error) {
	var p page[Entity]
	if err := c.do(ctx, http.MethodGet, "/api/custom_fields/?page_size="+strconv.Itoa(c.cfg.PageSize), nil, &p); err != nil {
		return nil, err
	}
	return p.Results, nil
}

// EntitiesWithCounts returns every entity of kind along with its
// document_count, used by the schema-cleanup analyzer to find unused or
// near-duplicate entities.
func (c *Client) EntitiesWithCounts(ctx context.Context, kind string) ([]Entity, error) {
	segment, ok := entityKinds[kind]
	if !ok {
		return nil, errs.Config("dms.EntitiesWithCounts", fmt.Errorf("unknown entity kind %q", kind))
	}
	var out []Entity
	path := "/api/" + segment + "/?page_size=" + strconv.Itoa(c.cfg.PageSize)
	for path != "" {
		var p page[Entity]
		if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Results...)
		path = nextPath(c.base, p.Next)
	}
	return out, nil
}

// DocumentHasTag reports whether doc carries tag name. A tag that does not
// exist in the DMS at all is reported as absent, not an error.
func (c *Client) DocumentHasTag(ctx context.Context, doc *Document, name string) (bool, error) {
	tag, err := c.findEntity(ctx, "tags", name)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return containsInt(doc.Tags, tag.ID), nil
}

// AddTag adds tag name to doc if not already present.
func (c *Client) AddTag(ctx context.Context, doc *Document, name string) error {
	tag, err := c.GetOrCreateTag(ctx, name)
	if err != nil {
		return err
	}
	if containsInt(doc.Tags, tag.ID) {
		return nil
	}
	tags := append(append([]int{}, doc.Tags...), tag.ID)
	updated, err := c.UpdateDocument(ctx, doc.ID, DocumentPatch{Tags: tags})
	if err != nil {
		return err
	}
	doc.Tags = updated.Tags
	return nil
}

// RemoveTag removes tag name from doc if present.
func (c *Client) RemoveTag(ctx context.Context, doc *Document, name string) error {
	tag, err := c.findEntity(ctx, "tags", name)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil
		}
		return err
	}
	if !containsInt(doc.Tags, tag.ID) {
		return nil
	}
	tags := removeInt(doc.Tags, tag.ID)
	updated, err := c.UpdateDocument(ctx, doc.ID, DocumentPatch{Tags: tags})
	if err != nil {
		return err
	}
	doc.Tags = updated.Tags
	return nil
}

// TransitionTag atomically moves doc from workflow tag "from" to "to": a
// single read-modify-write removing "from" and adding "to". A no-op if doc
// is already in the target state (carries "to" and not "from").
func (c *Client) TransitionTag(ctx context.Context, doc *Document, from, to string) error {
	toTag, err := c.GetOrCreateTag(ctx, to)
	if err != nil {
		return err
	}
	if containsInt(doc.Tags, toTag.ID) {
		if from == "" {
			return nil
		}
		fromTag, err := c.findEntity(ctx, "tags", from)
		if err == nil && !containsInt(doc.Tags, fromTag.ID) {
			return nil
		}
	}

	tags := append([]int{}, doc.Tags...)
	if from != "" {
		if fromTag, err := c.findEntity(ctx, "tags", from); err == nil {
			tags = removeInt(tags, fromTag.ID)
		} else if !errs.Is(err, errs.KindNotFound) {
			return err
		}
	}
	if !containsInt(tags, toTag.ID) {
		tags = append(tags, toTag.ID)
	}

	updated, err := c.UpdateDocument(ctx, doc.ID, DocumentPatch{Tags: tags})
	if err != nil {
		return err
	}
	doc.Tags = updated.Tags
	return nil
}

// MergeEntities reassigns every document referencing source to target,
// paginated at the adapter's configured page size, then deletes source.
// Used by the schema-cleanup engine for approved schema_merge reviews.
func (c *Client) MergeEntities(ctx context.Context, kind string, sourceID, targetID int) error {
	filterKey := singularFilterKey(kind)
	q := url.Values{}
	q.Set(filterKey, strconv.Itoa(sourceID))
	q.Set("page_size", strconv.Itoa(c.cfg.PageSize))
	path := "/api/documents/?" + q.Encode()

	for path != "" {
		var p page[Document]
		if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
			return err
		}
		for _, d := range p.Results {
			patch := mergePatch(kind, sourceID, targetID, d.Tags)
			if _, err := c.UpdateDocument(ctx, d.ID, patch); err != nil {
				return err
			}
		}
		path = nextPath(c.base, p.Next)
	}

	segment := entityKinds[kind]
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/%s/%d/", segment, sourceID), nil, nil)
}

// DeleteEntity removes an entity of kind by id, used for approved
// schema_delete reviews once confirmed unused.
func (c *Client) DeleteEntity(ctx context.Context, kind string, id int) error {
	segment, ok := entityKinds[kind]
	if !ok {
		return errs.Config("dms.DeleteEntity", fmt.Errorf("unknown entity kind %q", kind))
	}
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/%s/%d/", segment, id), nil, nil)
}

// workflowTagColors assigns each workflow tag a fixed hex color so the
// pipeline's progress is visible at a glance in the DMS's own tag list,
// independent of whatever an operator may have set (or left default).
var workflowTagColors = map[string]string{
	"pending":            "#9e9e9e",
	"ocr_done":           "#5c6bc0",
	"summary_done":       "#26a69a",
	"title_done":         "#8d6e63",
	"correspondent_done": "#42a5f5",
	"document_type_done": "#ab47bc",
	"tags_done":          "#ffa726",
	"processed":          "#66bb6a",
	"failed":             "#ef5350",
	"manual_review":      "#ffee58",
}

// RepairTagColors get-or-creates every workflow tag and patches its color
// back to the fixed assignment wherever it has drifted (an operator edit,
// or the DMS defaulting a newly-created tag to a random color). Returns
// the number of tags it actually patched.
func (c *Client) RepairTagColors(ctx context.Context) (int, error) {
	repaired := 0
	for name, want := range workflowTagColors {
		tag, err := c.GetOrCreateTag(ctx, name)
		if err != nil {
			return repaired, fmt.Errorf("dms: get_or_create tag %q: %w", name, err)
		}
		if tag.Color == want {
			continue
		}
		if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/tags/%d/", tag.ID), map[string]string{"color": want}, nil); err != nil {
			return repaired, fmt.Errorf("dms: patching color for tag %q: %w", name, err)
		}
		repaired++
	}
	return repaired, nil
}

func singularFilterKey(kind string) string {
	switch kind {
	case "tags":
		return "tags__id"
	case "correspondents":
		return "correspondent"
	case "document_types":
		return "document_type"
	default:
		return strings.TrimSuffix(kind, "s")
	}
}

func mergePatch(kind string, sourceID, targetID int, currentTags []int) DocumentPatch {
	switch kind {
	case "correspondents":
		return DocumentPatch{Correspondent: &targetID}
	case "document_types":
		return DocumentPatch{DocumentType: &targetID}
	case "tags":
		tags := removeInt(currentTags, sourceID)
		if !containsInt(tags, targetID) {
			tags = append(tags, targetID)
		}
		return DocumentPatch{Tags: tags}
	default:
		return DocumentPatch{}
	}
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func removeInt(s []int, v int) []int {
	out := make([]int, 0, len(s))
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
