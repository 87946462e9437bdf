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
	"errors"
	"fmt"
	"net/http"

	"github.com/warmonger0/adwd/internal/dispatch"
	"github.com/warmonger0/adwd/internal/webhook"
)

// ServicesHandler exposes the sidecar service control surface and the
// webhook ingestion endpoints.
type ServicesHandler struct {
	supervisor *dispatch.Supervisor
	webhooks   *webhook.Handler
}

// NewServicesHandler creates the handler.
func NewServicesHandler(supervisor *dispatch.Supervisor, webhooks *webhook.Handler) *ServicesHandler {
	return &ServicesHandler{supervisor: supervisor, webhooks: webhooks}
}

// RegisterRoutes registers service and webhook routes.
func (h *ServicesHandler) RegisterRoutes(mux *http.ServeMux) {
	// Bare /webhook kept for tracker compatibility.
	mux.HandleFunc("POST /webhook", h.webhooks.HandleWebhook)
	mux.HandleFunc("POST /api/v1/webhook", h.webhooks.HandleWebhook)
	mux.HandleFunc("GET /api/v1/webhook-status", h.handleWebhookStatus)
	mux.HandleFunc("POST /api/v1/github-webhook/redeliver", h.handleRedeliver)

	mux.HandleFunc("GET /api/v1/services", h.handleServiceList)
	mux.HandleFunc("POST /api/v1/services/{name}/{action}", h.handleServiceControl)
}

func (h *ServicesHandler) handleWebhookStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.webhooks.Stats().Snapshot())
}

// redeliverRequest is the body of POST /github-webhook/redeliver.
type redeliverRequest struct {
	DeliveryID string `json:"delivery_id,omitempty"`
}

func (h *ServicesHandler) handleRedeliver(w http.ResponseWriter, r *http.Request) {
	var req redeliverRequest
	// An empty body replays the most recent delivery.
	_ = decodeOptional(r, &req)

	if err := h.webhooks.Redeliver(req.DeliveryID); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "redelivered"})
}

func (h *ServicesHandler) handleServiceList(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"services": h.supervisor.Statuses()})
}

func (h *ServicesHandler) handleServiceControl(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	action := r.PathValue("action")

	var err error
	switch action {
	case "start":
		err = h.supervisor.Start(r.Context(), name)
	case "stop":
		err = h.supervisor.Stop(r.Context(), name)
	case "restart":
		err = h.supervisor.Restart(r.Context(), name)
	default:
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", action))
		return
	}

	switch {
	case err == nil:
		WriteJSON(w, http.StatusOK, map[string]string{"service": name, "status": action + "ed"})
	case errors.Is(err, dispatch.ErrUnknownService):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrServiceRunning), errors.Is(err, dispatch.ErrServiceStopped):
		WriteError(w, http.StatusConflict, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
