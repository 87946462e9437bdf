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
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmonger0/adwd/internal/dispatch"
	"github.com/warmonger0/adwd/internal/history"
	"github.com/warmonger0/adwd/internal/state"
)

func workflowsServer(t *testing.T) (*state.Store, *history.Indexer, *httptest.Server) {
	t.Helper()

	files := state.NewStore(t.TempDir())
	db, err := history.NewStore(history.StoreConfig{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)
	indexer := history.NewIndexer(history.IndexerConfig{}, files, db, logger)
	dispatcher := dispatch.New(dispatch.Config{ScriptsDir: t.TempDir()}, files, logger)

	h := NewWorkflowsHandler(files, db, indexer, dispatcher)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return files, indexer, server
}

func seedWorkflow(t *testing.T, files *state.Store, id string, status state.Status) {
	t.Helper()
	require.NoError(t, files.Write(&state.Record{
		ADWID:              id,
		IssueID:            13,
		CreatedAt:          time.Now().UTC(),
		WorkflowTemplate:   "adw_plan_iso",
		ClassificationType: state.ClassificationFeature,
		Status:             status,
		NLInput:            "Implement authentication",
	}))
}

func TestWorkflowsListEndpoint(t *testing.T) {
	files, _, server := workflowsServer(t)
	seedWorkflow(t, files, "aaaaaaa1", state.StatusRunning)
	seedWorkflow(t, files, "aaaaaaa2", state.StatusCompleted)

	resp, err := http.Get(server.URL + "/api/v1/workflows")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Workflows []LiveWorkflow `json:"workflows"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Workflows, 2)
}

func TestWorkflowHistoryEndpoint(t *testing.T) {
	files, indexer, server := workflowsServer(t)
	seedWorkflow(t, files, "aaaaaaa1", state.StatusCompleted)
	seedWorkflow(t, files, "aaaaaaa2", state.StatusFailed)

	_, err := indexer.Sync(t.Context())
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/api/v1/workflow-history?status=failed")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Workflows []state.Record `json:"workflows"`
		Total     int            `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Workflows, 1)
	assert.Equal(t, "aaaaaaa2", body.Workflows[0].ADWID)
}

// Scenario: batch-fetching the similar IDs of a target with 15
// near-identical peers yields exactly ten records, none the target.
func TestBatchFetchOfSimilarWorkflows(t *testing.T) {
	files, indexer, server := workflowsServer(t)

	seedWorkflow(t, files, "aaaaaaa0", state.StatusCompleted)
	for i := 0; i < 15; i++ {
		seedWorkflow(t, files, fmt.Sprintf("bbbbbb%02d", i), state.StatusCompleted)
	}

	_, err := indexer.Sync(t.Context())
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/api/v1/workflow-history?search=authentication&limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var page struct {
		Workflows []state.Record `json:"workflows"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.NotEmpty(t, page.Workflows)
	target := page.Workflows[0]
	require.Len(t, target.SimilarWorkflowIDs, 10)

	body, _ := json.Marshal(map[string]any{"ids": target.SimilarWorkflowIDs})
	resp, err = http.Post(server.URL+"/api/v1/workflows/batch", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var batch struct {
		Workflows []state.Record `json:"workflows"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&batch))
	assert.Len(t, batch.Workflows, 10)
	for _, rec := range batch.Workflows {
		assert.NotEqual(t, target.ADWID, rec.ADWID)
	}
}

func TestBatchEndpointValidation(t *testing.T) {
	_, _, server := workflowsServer(t)

	resp, err := http.Post(server.URL+"/api/v1/workflows/batch", "application/json",
		strings.NewReader(`{"ids": []}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyticsEndpoint(t *testing.T) {
	files, indexer, server := workflowsServer(t)
	seedWorkflow(t, files, "aaaaaaa1", state.StatusCompleted)

	_, err := indexer.Sync(t.Context())
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/api/v1/workflow-history/analytics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var a history.Analytics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&a))
	assert.Equal(t, 1, a.TotalWorkflows)
	assert.Equal(t, 1, a.Completed)
}

func TestStopEndpointNotRunning(t *testing.T) {
	_, _, server := workflowsServer(t)

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/workflows/a1b2c3d4", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
