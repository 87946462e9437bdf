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
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmonger0/adwd/internal/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(id string, created time.Time) *state.Record {
	return &state.Record{
		ADWID:              id,
		IssueID:            13,
		CreatedAt:          created,
		WorkflowTemplate:   "adw_plan_iso",
		ModelSet:           state.ModelSetBase,
		ComplexityLevel:    state.ComplexityMedium,
		ClassificationType: state.ClassificationFeature,
		Status:             state.StatusCompleted,
		NLInput:            "Implement user authentication",
		ActualCostTotal:    2.5,
	}
}

func TestStoreUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("a1b2c3d4", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	rec.AnomalyFlags = []string{"Cost anomaly: $10.00 is 4.0x the peer average of $2.50"}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "a1b2c3d4")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ADWID, got.ADWID)
	assert.Equal(t, rec.NLInput, got.NLInput)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.AnomalyFlags, got.AnomalyFlags)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	missing, err := store.Get(ctx, "ffffffff")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// Upserting an unchanged record must leave the row byte-identical.
func TestStoreUpsertIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("a1b2c3d4", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	rec.SimilarWorkflowIDs = []string{"b1111111", "b2222222"}
	require.NoError(t, store.Upsert(ctx, rec))

	rowDump := func() string {
		var dump string
		row := store.DB().QueryRowContext(ctx, `
			SELECT adw_id || '|' || created_at || '|' || status || '|' || nl_input
				|| '|' || errors || '|' || similar_workflow_ids
				|| '|' || CAST(actual_cost_total AS TEXT)
			FROM workflow_history WHERE adw_id = ?`, rec.ADWID)
		require.NoError(t, row.Scan(&dump))
		return dump
	}

	first := rowDump()
	require.NoError(t, store.Upsert(ctx, rec))
	assert.Equal(t, first, rowDump())
}

func TestStoreListFilterSearchPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := testRecord(fmt.Sprintf("aaaaaaa%d", i), base.Add(time.Duration(i)*time.Hour))
		if i%2 == 0 {
			rec.Status = state.StatusFailed
		}
		if i == 3 {
			rec.NLInput = "Refactor the billing pipeline"
		}
		require.NoError(t, store.Upsert(ctx, rec))
	}

	all, total, err := store.List(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, all, 5)
	// Default ordering is created_at descending.
	assert.Equal(t, "aaaaaaa4", all[0].ADWID)
	assert.Equal(t, "aaaaaaa0", all[4].ADWID)

	failed, total, err := store.List(ctx, Query{Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, failed, 3)

	billing, total, err := store.List(ctx, Query{Search: "billing"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, billing, 1)
	assert.Equal(t, "aaaaaaa3", billing[0].ADWID)

	page, total, err := store.List(ctx, Query{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "aaaaaaa2", page[0].ADWID)
}

func TestStoreBatchGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Upsert(ctx, testRecord(fmt.Sprintf("aaaaaaa%d", i), time.Now().UTC())))
	}

	records, err := store.BatchGet(ctx, []string{"aaaaaaa2", "aaaaaaa0", "ffffffff"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Request order is preserved; unknown IDs are omitted.
	assert.Equal(t, "aaaaaaa2", records[0].ADWID)
	assert.Equal(t, "aaaaaaa0", records[1].ADWID)

	tooMany := make([]string, 21)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("aaaaaa%02d", i)
	}
	_, err = store.BatchGet(ctx, tooMany)
	assert.Error(t, err)
}

func TestStoreAnalytics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	statuses := []state.Status{
		state.StatusCompleted, state.StatusCompleted, state.StatusFailed, state.StatusRunning,
	}
	for i, status := range statuses {
		rec := testRecord(fmt.Sprintf("aaaaaaa%d", i), time.Now().UTC())
		rec.Status = status
		rec.TotalDurationSeconds = 100
		require.NoError(t, store.Upsert(ctx, rec))
	}

	a, err := store.ComputeAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, a.TotalWorkflows)
	assert.Equal(t, 2, a.Completed)
	assert.Equal(t, 1, a.Failed)
	assert.Equal(t, 1, a.Active)
	assert.InDelta(t, 2.0/3.0, a.SuccessRate, 0.001)
	assert.InDelta(t, 10.0, a.TotalActualCost, 0.001)
	assert.InDelta(t, 100.0, a.MeanDurationSeconds, 0.001)
}
