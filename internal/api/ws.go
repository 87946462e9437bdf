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
	"net/http"
	"strings"

	"github.com/warmonger0/adwd/internal/hub"
)

// WSHandler routes duplex-stream subscriptions to the broadcast hub.
type WSHandler struct {
	hub *hub.Hub
}

// NewWSHandler creates the handler.
func NewWSHandler(h *hub.Hub) *WSHandler {
	return &WSHandler{hub: h}
}

// RegisterRoutes registers the /ws/{topic} endpoint. The wildcard
// also covers parameterized topics such as adw-state/{id}.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{topic...}", h.handleSubscribe)
}

func (h *WSHandler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSuffix(r.PathValue("topic"), "/")
	h.hub.ServeTopic(w, r, topic)
}
