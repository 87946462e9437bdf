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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmonger0/adwd/internal/admission"
	"github.com/warmonger0/adwd/internal/dispatch"
)

type okAdmitter struct{}

func (okAdmitter) Check(ctx context.Context, workflow string) *admission.Result {
	return &admission.Result{
		Admitted: true, WorkflowValid: true, QuotaOK: true, DiskOK: true, WorktreeOK: true,
	}
}

type recordingDispatcher struct {
	requests []dispatch.Request
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req dispatch.Request) (string, error) {
	d.requests = append(d.requests, req)
	return "a1b2c3d4", nil
}

func previewServer(t *testing.T) (*PreviewHandler, *recordingDispatcher, *httptest.Server) {
	t.Helper()
	dispatcher := &recordingDispatcher{}
	h := NewPreviewHandler(nil, okAdmitter{}, dispatcher)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return h, dispatcher, server
}

func TestPreviewFlow(t *testing.T) {
	_, dispatcher, server := previewServer(t)

	// Request a preview for an explicit command.
	resp, err := http.Post(server.URL+"/api/v1/request", "application/json",
		strings.NewReader(`{"text": "adw_build_iso with advanced model", "issue_id": 13}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created struct {
		PreviewID string `json:"preview_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.PreviewID)

	// Fetch the held estimate.
	resp, err = http.Get(server.URL + "/api/v1/preview/" + created.PreviewID + "/cost")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var est PendingEstimate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&est))
	assert.Equal(t, "adw_build_iso", est.Extraction.Workflow)
	assert.Equal(t, "advanced", est.Extraction.ModelSet)
	assert.Greater(t, est.EstimatedCost, 0.0)

	// Confirm dispatches the held request.
	resp, err = http.Post(server.URL+"/api/v1/preview/"+created.PreviewID+"/confirm", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, dispatcher.requests, 1)
	assert.Equal(t, "adw_build_iso", dispatcher.requests[0].Template)
	assert.Equal(t, 13, dispatcher.requests[0].IssueID)

	// The estimate is consumed by confirmation.
	resp, err = http.Get(server.URL + "/api/v1/preview/" + created.PreviewID + "/cost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreviewNoWorkflowInText(t *testing.T) {
	_, _, server := previewServer(t)

	resp, err := http.Post(server.URL+"/api/v1/request", "application/json",
		strings.NewReader(`{"text": "hello there"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestPreviewCancel(t *testing.T) {
	h, _, server := previewServer(t)

	resp, err := http.Post(server.URL+"/api/v1/request", "application/json",
		strings.NewReader(`{"text": "adw_plan_iso"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var created struct {
		PreviewID string `json:"preview_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/preview/"+created.PreviewID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Nil(t, h.get(created.PreviewID))
}

func TestPreviewExpiry(t *testing.T) {
	h := NewPreviewHandler(nil, okAdmitter{}, &recordingDispatcher{})

	h.mu.Lock()
	h.pending["stale"] = &PendingEstimate{ID: "stale"}
	h.mu.Unlock()

	h.sweep()

	h.mu.Lock()
	_, ok := h.pending["stale"]
	h.mu.Unlock()
	assert.False(t, ok, "zero-time estimate should be swept")
}
