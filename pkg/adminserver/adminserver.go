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

// Package adminserver exposes the operational HTTP control surface: health,
// metrics, scheduler control, review queue, bootstrap analyzer, settings,
// prompt templates, and tag-color repair. It carries no business-facing
// document API; every mutating route requires a valid JWT when a validator
// is configured.
package adminserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/docpilot/core/pkg/auth"
	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/observability"
	"github.com/docpilot/core/pkg/pipeline"
	"github.com/docpilot/core/pkg/promptstore"
	"github.com/docpilot/core/pkg/reviewqueue"
	"github.com/docpilot/core/pkg/scheduler"
	"github.com/docpilot/core/pkg/settings"
	"github.com/docpilot/core/pkg/store"
	"github.com/docpilot/core/pkg/tool"
	"github.com/docpilot/core/pkg/tool/mcptoolset"
)

// Server wires every admin-surface dependency into a chi.Router.
type Server struct {
	dms       *dms.Client
	orch      *pipeline.Orchestrator
	sched     *scheduler.Scheduler
	reviews   *reviewqueue.Queue
	bootstrap *reviewqueue.Bootstrap
	settings  *settings.Store
	prompts   *promptstore.Store
	obs       *observability.Manager
	validator *auth.JWTValidator
	store     *store.Store
	mcpTools  http.Handler // nil disables the /mcp/ mount

	router chi.Router
}

// New builds a Server. validator and obs may be nil (auth disabled /
// observability disabled, respectively). inspectorTools is the read-only
// toolset re-exposed over MCP at /mcp/; a nil or empty slice disables the
// mount entirely.
func New(dmsClient *dms.Client, orch *pipeline.Orchestrator, sched *scheduler.Scheduler, reviews *reviewqueue.Queue, bootstrap *reviewqueue.Bootstrap, st *settings.Store, prompts *promptstore.Store, obs *observability.Manager, validator *auth.JWTValidator, inspectorTools []tool.Tool, annotationStore *store.Store) *Server {
	s := &Server{
		dms: dmsClient, orch: orch, sched: sched, reviews: reviews,
		bootstrap: bootstrap, settings: st, prompts: prompts, obs: obs, validator: validator,
		store: annotationStore,
	}
	if len(inspectorTools) > 0 {
		s.mcpTools = mcptoolset.NewHTTPHandler("docpilot-tools", "1.0.0", inspectorTools)
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP lets Server itself be passed directly to http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.obs != nil {
		r.Use(observability.HTTPMiddleware(s.obs.Tracer(), s.obs.Metrics()))
	}

	// Unauthenticated operational endpoints.
	r.Get("/healthz", s.handleHealth)
	r.Get(s.metricsPath(), s.handleMetrics)

	r.Group(func(r chi.Router) {
		if s.validator != nil {
			r.Use(s.validator.HTTPMiddleware)
		}

		r.Route("/v1/documents/{docID}", func(r chi.Router) {
			r.Post("/process", s.handleProcessDocument)
		})

		r.Route("/v1/scheduler", func(r chi.Router) {
			r.Get("/status", s.handleSchedulerStatus)
			r.Post("/start", s.handleSchedulerStart)
			r.Post("/stop", s.handleSchedulerStop)
			r.Post("/trigger", s.handleSchedulerTrigger)
		})

		r.Route("/v1/reviews", func(r chi.Router) {
			r.Get("/", s.handleReviewsList)
			r.Post("/merge", s.handleReviewsMerge)
			r.Post("/{id}/approve", s.handleReviewApprove)
			r.Post("/{id}/reject", s.handleReviewReject)
		})

		r.Route("/v1/bootstrap", func(r chi.Router) {
			r.Get("/status", s.handleBootstrapStatus)
			r.Post("/start", s.handleBootstrapStart)
			r.Post("/cancel", s.handleBootstrapCancel)
		})

		r.Route("/v1/settings", func(r chi.Router) {
			r.Get("/", s.handleSettingsList)
			r.Put("/{key}", s.handleSettingsPut)
		})

		r.Route("/v1/prompts", func(r chi.Router) {
			r.Get("/", s.handlePromptsList)
			r.Put("/{lang}/{agent}/{phase}", s.handlePromptsPut)
		})

		r.Post("/v1/tags/repair-colors", s.handleRepairTagColors)

		r.Route("/v1/annotations/{kind}", func(r chi.Router) {
			r.Get("/", s.handleAnnotationsList)
			r.Put("/{targetID}", s.handleAnnotationsPut)
			r.Delete("/{targetID}", s.handleAnnotationsDelete)
		})

		if s.mcpTools != nil {
			r.Mount("/mcp", s.mcpTools)
		}
	})

	return r
}

func (s *Server) metricsPath() string {
	if s.obs != nil {
		return s.obs.MetricsEndpoint()
	}
	return observability.DefaultMetricsPath
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.obs == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	s.obs.MetricsHandler().ServeHTTP(w, r)
}

func (s *Server) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	docID, err := pathInt(r, "docID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	step := r.URL.Query().Get("step")

	if r.URL.Query().Get("stream") == "true" {
		s.streamProcessDocument(w, r, docID, step)
		return
	}

	result, err := s.orch.ProcessDocument(r.Context(), docID, step)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) streamProcessDocument(w http.ResponseWriter, r *http.Request, docID int, step string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for evt := range s.orch.ProcessDocumentStream(r.Context(), docID, step) {
		data, _ := json.Marshal(evt)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.GetStatus())
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	s.sched.Start(context.Background())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.sched.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopped"})
}

func (s *Server) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	s.sched.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) handleReviewsList(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	list, err := s.reviews.List(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleReviewApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		SelectedValue string `json:"selected_value"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.reviews.Approve(r.Context(), id, body.SelectedValue); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleReviewReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Scope    string `json:"scope"`
		Reason   string `json:"reason"`
		Category string `json:"category"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	var err error
	if body.Reason == "" && body.Scope == "" {
		err = s.reviews.Reject(r.Context(), id)
	} else {
		err = s.reviews.RejectWithFeedback(r.Context(), id, reviewqueue.RejectFeedback{
			Scope: body.Scope, Reason: body.Reason, Category: body.Category,
		})
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleReviewsMerge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs       []string `json:"ids"`
		FinalName string   `json:"final_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.reviews.Merge(r.Context(), body.IDs, body.FinalName); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "merged"})
}

func (s *Server) handleBootstrapStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bootstrap.Status())
}

func (s *Server) handleBootstrapStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scope string `json:"scope"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.bootstrap.Start(context.Background(), body.Scope); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleBootstrapCancel(w http.ResponseWriter, r *http.Request) {
	s.bootstrap.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleSettingsList(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.settings.Put(r.Context(), key, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleAnnotationsList returns every curated tag/custom-field description
// for the path's kind ("tag" or "custom_field").
func (s *Server) handleAnnotationsList(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	list, err := s.store.ListCuratedAnnotations(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleAnnotationsPut sets or replaces the curated description and
// exclusion flag for one tag or custom field.
func (s *Server) handleAnnotationsPut(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	targetID, err := pathInt(r, "targetID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Category    string `json:"category"`
		Excluded    bool   `json:"excluded"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.store.PutCuratedAnnotation(r.Context(), store.CuratedAnnotation{
		ID: uuid.NewString(), Kind: kind, TargetID: targetID,
		Name: body.Name, Description: body.Description, Category: body.Category,
		Excluded: body.Excluded, CreatedAt: time.Now(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleAnnotationsDelete(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	targetID, err := pathInt(r, "targetID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.DeleteCuratedAnnotation(r.Context(), kind, targetID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handlePromptsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.prompts.List())
}

func (s *Server) handlePromptsPut(w http.ResponseWriter, r *http.Request) {
	lang, agent, phase := chi.URLParam(r, "lang"), chi.URLParam(r, "agent"), chi.URLParam(r, "phase")
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.prompts.Put(lang, agent, phase, body.Content); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleRepairTagColors(w http.ResponseWriter, r *http.Request) {
	n, err := s.dms.RepairTagColors(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"repaired": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathInt(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}
