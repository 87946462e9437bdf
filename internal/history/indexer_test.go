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

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmonger0/adwd/internal/state"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func writeState(t *testing.T, files *state.Store, rec *state.Record) {
	t.Helper()
	require.NoError(t, files.Write(rec))
}

func newTestIndexer(t *testing.T) (*Indexer, *state.Store, *Store) {
	t.Helper()
	files := state.NewStore(t.TempDir())
	db := newTestStore(t)
	ix := NewIndexer(IndexerConfig{ExcludeGlobs: []string{".*"}}, files, db, discardLogger())
	return ix, files, db
}

func TestSyncEndToEnd(t *testing.T) {
	ix, files, db := newTestIndexer(t)
	ctx := context.Background()

	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		writeState(t, files, &state.Record{
			ADWID:              fmt.Sprintf("aaaaaaa%d", i),
			IssueID:            13,
			CreatedAt:          created.Add(time.Duration(i) * time.Minute),
			WorkflowTemplate:   "adw_plan_iso",
			ModelSet:           state.ModelSetBase,
			ClassificationType: state.ClassificationFeature,
			Status:             state.StatusCompleted,
			NLInput:            "Implement the authentication feature for the dashboard",
			ActualCostTotal:    2.0,
		})
	}

	result, err := ix.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Scanned)
	assert.Equal(t, 4, result.Upserted)
	assert.Equal(t, 0, result.Failed)

	rec, err := db.Get(ctx, "aaaaaaa0")
	require.NoError(t, err)
	require.NotNil(t, rec)

	// Derived analytics are populated and bounded.
	for _, score := range []float64{
		rec.NLInputClarityScore, rec.CostEfficiencyScore, rec.PerformanceScore, rec.QualityScore,
	} {
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 100.0)
	}
	assert.NotEmpty(t, rec.SimilarWorkflowIDs)
	assert.NotContains(t, rec.SimilarWorkflowIDs, rec.ADWID)
	assert.NotEmpty(t, rec.ComplexityLevel)
}

// Two sync passes over unchanged state must produce identical rows.
func TestSyncIdempotent(t *testing.T) {
	ix, files, db := newTestIndexer(t)
	ctx := context.Background()

	writeState(t, files, &state.Record{
		ADWID:            "a1b2c3d4",
		CreatedAt:        time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		WorkflowTemplate: "adw_plan_iso",
		Status:           state.StatusCompleted,
		NLInput:          "Ship the release notes",
	})

	_, err := ix.Sync(ctx)
	require.NoError(t, err)

	dump := func() string {
		var out string
		row := db.DB().QueryRowContext(ctx, `
			SELECT adw_id || '|' || created_at || '|' || status
				|| '|' || CAST(nl_input_clarity_score AS TEXT)
				|| '|' || CAST(quality_score AS TEXT)
				|| '|' || anomaly_flags || '|' || optimization_recommendations
				|| '|' || similar_workflow_ids
			FROM workflow_history WHERE adw_id = 'a1b2c3d4'`)
		require.NoError(t, row.Scan(&out))
		return out
	}

	first := dump()
	_, err = ix.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, dump())
}

func TestSyncSkipsUnreadableEntries(t *testing.T) {
	ix, files, _ := newTestIndexer(t)
	ctx := context.Background()

	writeState(t, files, &state.Record{
		ADWID:            "a1b2c3d4",
		CreatedAt:        time.Now().UTC(),
		WorkflowTemplate: "adw_plan_iso",
		Status:           state.StatusRunning,
	})

	// A corrupt state file is skipped with a warning, not fatal.
	badDir := files.Dir("deadbeef")
	require.NoError(t, os.MkdirAll(badDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, state.StateFileName), []byte("{nope"), 0o644))

	result, err := ix.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Upserted)
	assert.Equal(t, 1, result.Skipped)
}

func TestSyncExcludeGlobs(t *testing.T) {
	ix, files, _ := newTestIndexer(t)
	ctx := context.Background()

	hidden := filepath.Join(files.Root(), ".archive")
	require.NoError(t, os.MkdirAll(hidden, 0o755))

	result, err := ix.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
}

func TestResyncBackfillsCosts(t *testing.T) {
	ix, files, db := newTestIndexer(t)
	ctx := context.Background()

	writeState(t, files, &state.Record{
		ADWID:            "a1b2c3d4",
		CreatedAt:        time.Now().UTC(),
		WorkflowTemplate: "adw_build_iso",
		Status:           state.StatusCompleted,
		NLInput:          "Build the feature",
	})
	_, err := ix.Sync(ctx)
	require.NoError(t, err)

	// Cost tracking arrived after the workflow completed.
	ch := CostHistory{
		TotalCost: 7.5,
		Phases: []CostPhase{
			{PhaseName: "build", Cost: 7.5, DurationSeconds: 300, InputTokens: 9000},
		},
	}
	data, err := json.Marshal(ch)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(files.CostHistoryPath("a1b2c3d4"), data, 0o644))

	updated, err := ix.Resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	rec, err := db.Get(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, 7.5, rec.ActualCostTotal)
	assert.Equal(t, int64(9000), rec.InputTokens)
}

func TestSyncNotifiesOnUpsert(t *testing.T) {
	ix, files, _ := newTestIndexer(t)
	ctx := context.Background()

	notified := 0
	ix.SetOnSynced(func() { notified++ })

	writeState(t, files, &state.Record{
		ADWID:            "a1b2c3d4",
		CreatedAt:        time.Now().UTC(),
		WorkflowTemplate: "adw_plan_iso",
		Status:           state.StatusQueued,
	})

	_, err := ix.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, notified)
}
