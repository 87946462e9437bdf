// Copyright 2025 The adwd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/warmonger0/adwd/internal/dispatch"
	"github.com/warmonger0/adwd/internal/history"
	"github.com/warmonger0/adwd/internal/state"
)

// LiveWorkflow is one entry in the live workflow view: the state file
// record plus the volatile PID when the child is tracked.
type LiveWorkflow struct {
	*state.Record
	PID int `json:"pid,omitempty"`
}

// WorkflowsHandler serves the workflow list, history and control
// endpoints.
type WorkflowsHandler struct {
	files      *state.Store
	db         *history.Store
	indexer    *history.Indexer
	dispatcher *dispatch.Dispatcher
}

// NewWorkflowsHandler creates the handler.
func NewWorkflowsHandler(files *state.Store, db *history.Store, indexer *history.Indexer, dispatcher *dispatch.Dispatcher) *WorkflowsHandler {
	return &WorkflowsHandler{
		files:      files,
		db:         db,
		indexer:    indexer,
		dispatcher: dispatcher,
	}
}

// RegisterRoutes registers workflow API routes.
func (h *WorkflowsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/workflows", h.handleList)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", h.handleStop)
	mux.HandleFunc("POST /api/v1/workflows/batch", h.handleBatch)
	mux.HandleFunc("GET /api/v1/workflow-history", h.handleHistory)
	mux.HandleFunc("GET /api/v1/workflow-history/analytics", h.handleAnalytics)
	mux.HandleFunc("POST /api/v1/workflow-history/sync", h.handleSync)
	mux.HandleFunc("POST /api/v1/workflow-history/resync", h.handleResync)
}

// LiveWorkflows merges the state files with the process registry. It
// also backs the workflows broadcast topic.
func (h *WorkflowsHandler) LiveWorkflows() ([]LiveWorkflow, error) {
	ids, err := h.files.List()
	if err != nil {
		return nil, err
	}

	out := make([]LiveWorkflow, 0, len(ids))
	for _, id := range ids {
		rec, err := h.files.Read(id)
		if err != nil {
			continue
		}
		live := LiveWorkflow{Record: rec}
		if info, ok := h.dispatcher.Registry().Get(id); ok {
			live.PID = info.PID
		}
		out = append(out, live)
	}
	return out, nil
}

func (h *WorkflowsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	live, err := h.LiveWorkflows()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list workflows: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"workflows": live})
}

func (h *WorkflowsHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	adwID := r.PathValue("id")
	if !state.ValidADWID(adwID) {
		WriteError(w, http.StatusBadRequest, "invalid adw_id")
		return
	}

	if err := h.dispatcher.Stop(r.Context(), adwID); err != nil {
		if errors.Is(err, dispatch.ErrProcessNotRunning) {
			WriteError(w, http.StatusNotFound, "workflow is not running")
			return
		}
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("failed to stop workflow: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "stopped", "adw_id": adwID})
}

// batchRequest is the body of POST /workflows/batch.
type batchRequest struct {
	IDs []string `json:"ids"`
}

func (h *WorkflowsHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.IDs) == 0 {
		WriteError(w, http.StatusBadRequest, "ids is required")
		return
	}

	records, err := h.db.BatchGet(r.Context(), req.IDs)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"workflows": records})
}

func (h *WorkflowsHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := history.Query{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Offset = n
		}
	}

	records, total, err := h.db.List(r.Context(), q)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query history: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"workflows": records,
		"total":     total,
		"limit":     q.Limit,
		"offset":    q.Offset,
	})
}

func (h *WorkflowsHandler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.db.ComputeAnalytics(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("failed to compute analytics: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, analytics)
}

func (h *WorkflowsHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	h.indexer.TriggerSync()
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sync requested"})
}

func (h *WorkflowsHandler) handleResync(w http.ResponseWriter, r *http.Request) {
	updated, err := h.indexer.Resync(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("resync failed: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "resynced", "updated": updated})
}
