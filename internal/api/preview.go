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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warmonger0/adwd/internal/dispatch"
	"github.com/warmonger0/adwd/internal/history"
	"github.com/warmonger0/adwd/internal/state"
	"github.com/warmonger0/adwd/internal/webhook"
)

const (
	// previewTTL is how long a pending cost estimate is held.
	previewTTL = 10 * time.Minute

	// previewSweepInterval is the expiry sweep cadence.
	previewSweepInterval = time.Minute
)

// PendingEstimate is a held cost preview awaiting confirm or cancel.
type PendingEstimate struct {
	ID            string              `json:"preview_id"`
	CreatedAt     time.Time           `json:"created_at"`
	NLInput       string              `json:"nl_input"`
	IssueID       int                 `json:"issue_id,omitempty"`
	Extraction    *webhook.Extraction `json:"extraction"`
	Complexity    string              `json:"complexity"`
	EstimatedCost float64             `json:"estimated_cost"`
}

// PreviewHandler serves the natural-language preview flow: classify,
// hold an estimate, and dispatch on confirmation.
type PreviewHandler struct {
	classifier webhook.Classifier
	admitter   webhook.Admitter
	dispatcher webhook.Dispatcher

	mu      sync.Mutex
	pending map[string]*PendingEstimate
}

// NewPreviewHandler creates the handler.
func NewPreviewHandler(classifier webhook.Classifier, admitter webhook.Admitter, dispatcher webhook.Dispatcher) *PreviewHandler {
	return &PreviewHandler{
		classifier: classifier,
		admitter:   admitter,
		dispatcher: dispatcher,
		pending:    make(map[string]*PendingEstimate),
	}
}

// RegisterRoutes registers preview API routes.
func (h *PreviewHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/request", h.handleRequest)
	mux.HandleFunc("GET /api/v1/preview/{id}/cost", h.handleCost)
	mux.HandleFunc("POST /api/v1/preview/{id}/confirm", h.handleConfirm)
	mux.HandleFunc("DELETE /api/v1/preview/{id}", h.handleCancel)
}

// Run sweeps expired estimates until the context is cancelled.
func (h *PreviewHandler) Run(ctx context.Context) {
	ticker := time.NewTicker(previewSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *PreviewHandler) sweep() {
	cutoff := time.Now().Add(-previewTTL)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, est := range h.pending {
		if est.CreatedAt.Before(cutoff) {
			delete(h.pending, id)
		}
	}
}

// previewRequest is the body of POST /request.
type previewRequest struct {
	Text    string `json:"text"`
	IssueID int    `json:"issue_id,omitempty"`
}

func (h *PreviewHandler) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Text == "" {
		WriteError(w, http.StatusBadRequest, "text is required")
		return
	}

	extraction, err := webhook.Extract(r.Context(), req.Text, h.classifier)
	if err != nil {
		WriteError(w, http.StatusBadGateway, fmt.Sprintf("classification failed: %v", err))
		return
	}
	if extraction == nil {
		WriteError(w, http.StatusUnprocessableEntity, "no workflow request found in text")
		return
	}

	complexity := history.DetectComplexity(&state.Record{NLInput: req.Text})
	estimate := &PendingEstimate{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		NLInput:       req.Text,
		IssueID:       req.IssueID,
		Extraction:    extraction,
		Complexity:    complexity,
		EstimatedCost: webhook.EstimateCost(extraction.Workflow, extraction.ModelSet, complexity),
	}

	h.mu.Lock()
	h.pending[estimate.ID] = estimate
	h.mu.Unlock()

	WriteJSON(w, http.StatusAccepted, map[string]string{"preview_id": estimate.ID})
}

func (h *PreviewHandler) handleCost(w http.ResponseWriter, r *http.Request) {
	est := h.get(r.PathValue("id"))
	if est == nil {
		WriteError(w, http.StatusNotFound, "preview not found or expired")
		return
	}
	WriteJSON(w, http.StatusOK, est)
}

func (h *PreviewHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	est := h.take(r.PathValue("id"))
	if est == nil {
		WriteError(w, http.StatusNotFound, "preview not found or expired")
		return
	}

	result := h.admitter.Check(r.Context(), est.Extraction.Workflow)
	if !result.Admitted {
		WriteJSON(w, http.StatusConflict, map[string]any{
			"error":   "admission rejected",
			"reasons": result.Reasons,
			"summary": result.Summary(),
		})
		return
	}

	classification := est.Extraction.Classification
	if classification == "" {
		classification = state.ClassificationFeature
	}

	adwID, err := h.dispatcher.Dispatch(r.Context(), dispatch.Request{
		ADWID:              est.Extraction.ADWID,
		Template:           est.Extraction.Workflow,
		IssueID:            est.IssueID,
		ModelSet:           est.Extraction.ModelSet,
		ClassificationType: classification,
		NLInput:            est.NLInput,
		EstimatedCost:      est.EstimatedCost,
	})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("dispatch failed: %v", err))
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":   "dispatched",
		"adw_id":   adwID,
		"workflow": est.Extraction.Workflow,
	})
}

func (h *PreviewHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if est := h.take(r.PathValue("id")); est == nil {
		WriteError(w, http.StatusNotFound, "preview not found or expired")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// get returns a live pending estimate without consuming it.
func (h *PreviewHandler) get(id string) *PendingEstimate {
	h.mu.Lock()
	defer h.mu.Unlock()
	est := h.pending[id]
	if est == nil || time.Since(est.CreatedAt) > previewTTL {
		return nil
	}
	return est
}

// take consumes a pending estimate.
func (h *PreviewHandler) take(id string) *PendingEstimate {
	h.mu.Lock()
	defer h.mu.Unlock()
	est := h.pending[id]
	if est == nil || time.Since(est.CreatedAt) > previewTTL {
		delete(h.pending, id)
		return nil
	}
	delete(h.pending, id)
	return est
}
