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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/docpilot/core/pkg/errs"
	"github.com/docpilot/core/pkg/httpclient"
)

// Config configures the DMS adapter.
type Config struct {
	BaseURL  string `yaml:"base_url"`
	Token    string `yaml:"token"`
	PageSize int    `yaml:"page_size,omitempty"` // default 100
}

// Client is the DMS REST adapter.
type Client struct {
	cfg    Config
	http   *httpclient.Client
	base   string
}

// New creates a DMS client bound to cfg.
func New(cfg Config) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Client{
		cfg:  cfg,
		http: httpclient.New(httpclient.WithRetryStrategy(httpclient.DefaultStrategy)),
		base: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// do issues an HTTP request against the DMS and classifies the response:
// 404 becomes errs.NotFound, any other non-2xx becomes errs.Transport, body
// is decoded into out (if non-nil) on success.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errs.Transport("dms.marshal", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return errs.Transport("dms.request", err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transport("dms.do", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errs.NotFound("dms."+path, fmt.Errorf("not found: %s %s", method, path))
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return errs.Transport("dms."+path, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, data))
	}
	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Transport("dms.decode", err)
	}
	return nil
}

// GetDocument fetches a single document by id.
func (c *Client) GetDocument(ctx context.Context, id int) (*Document, error) {
	var doc Document
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/documents/%d/", id), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDocument applies patch to document id via PATCH.
func (c *Client) UpdateDocument(ctx context.Context, id int, patch DocumentPatch) (*Document, error) {
	var doc Document
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/documents/%d/", id), patch, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DownloadPDF retrieves the raw document bytes for OCR fallback.
func (c *Client) DownloadPDF(ctx context.Context, id int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/documents/%d/download/", c.base, id), nil)
	if err != nil {
		return nil, errs.Transport("dms.download.request", err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Transport("dms.download.do", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.NotFound("dms.download", fmt.Errorf("document %d not found", id))
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, errs.Transport("dms.download", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, data))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Transport("dms.download.read", err)
	}
	return data, nil
}

// fetchAllDocuments walks the DMS's next-link pagination for a single
// query string, accumulating every page into one slice.
func (c *Client) fetchAllDocuments(ctx context.Context, query url.Values) ([]Document, error) {
	if query.Get("page_size") == "" {
		query.Set("page_size", strconv.Itoa(c.cfg.PageSize))
	}
	path := "/api/documents/?" + query.Encode()

	var out []Document
	for path != "" {
		var p page[Document]
		if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Results...)
		path = nextPath(c.base, p.Next)
	}
	return out, nil
}

// nextPath strips the adapter's base URL off a DMS "next" link, leaving a
// bare request path the same do() method can reissue.
func nextPath(base string, next *string) string {
	if next == nil || *next == "" {
		return ""
	}
	return strings.TrimPrefix(*next, base)
}

// ListByTag returns up to limit documents carrying tag name.
func (c *Client) ListByTag(ctx context.Context, name string, limit int) ([]Document, error) {
	tag, err := c.findEntity(ctx, "tags", name)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("tags__id", strconv.Itoa(tag.ID))
	if limit > 0 {
		q.Set("page_size", strconv.Itoa(limit))
	}
	docs, err := c.fetchAllDocuments(ctx, q)
	if err != nil {
		return nil, err
	}
	return capDocs(docs, limit), nil
}

// ListByTags returns up to limit documents carrying any of names.
func (c *Client) ListByTags(ctx context.Context, names []string, limit int) ([]Document, error) {
	ids := make([]string, 0, len(names))
	for _, n := range names {
		e, err := c.findEntity(ctx, "tags", n)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				continue
			}
			return nil, err
		}
		ids = append(ids, strconv.Itoa(e.ID))
	}
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("tags__id__in", strings.Join(ids, ","))
	docs, err := c.fetchAllDocuments(ctx, q)
	if err != nil {
		return nil, err
	}
	return capDocs(docs, limit), nil
}

// FetchAllByFilter applies arbitrary DMS list query parameters (e.g.
// correspondent=, document_type=) and returns every matching document.
func (c *Client) FetchAllByFilter(ctx context.Context, params map[string]string) ([]Document, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return c.fetchAllDocuments(ctx, q)
}

func capDocs(docs []Document, limit int) []Document {
	if limit > 0 && len(docs) > limit {
		return docs[:limit]
	}
	return docs
}

// CountByTag returns the number of documents carrying tag name, used for
// review-queue and scheduler statistics. A missing tag counts as zero.
func (c *Client) CountByTag(ctx context.Context, name string) (int, error) {
	tag, err := c.findEntity(ctx, "tags", name)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return 0, nil
		}
		return 0, err
	}
	q := url.Values{}
	q.Set("tags__id", strconv.Itoa(tag.ID))
	q.Set("page_size", "1")
	var p page[Document]
	if err := c.do(ctx, http.MethodGet, "/api/documents/?"+q.Encode(), nil, &p); err != nil {
		return 0, err
	}
	return p.Count, nil
}
