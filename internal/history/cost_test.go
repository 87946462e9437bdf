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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmonger0/adwd/internal/state"
)

func TestReadCostHistoryMissing(t *testing.T) {
	ch, err := ReadCostHistory(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, ch)
}

func TestReadCostHistoryMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cost_history.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	_, err := ReadCostHistory(path)
	assert.Error(t, err)
}

func TestEnrichIdempotent(t *testing.T) {
	ch := &CostHistory{
		TotalCost:     4.2,
		EstimatedCost: 3.0,
		Phases: []CostPhase{
			{PhaseName: "plan", Cost: 1.2, DurationSeconds: 60, InputTokens: 4000, CacheReadTokens: 2000, Retries: 1, RetryCost: 0.3},
			{PhaseName: "build", Cost: 3.0, DurationSeconds: 180, InputTokens: 6000, OutputTokens: 2000},
		},
	}

	rec := &state.Record{ADWID: "aaaaaaaa", Status: state.StatusCompleted}

	retryCost := Enrich(rec, ch)
	assert.Equal(t, 0.3, retryCost)
	assert.Equal(t, 4.2, rec.ActualCostTotal)
	assert.Equal(t, 3.0, rec.EstimatedCostTotal)
	assert.Equal(t, int64(10000), rec.InputTokens)
	assert.Equal(t, int64(2000), rec.CacheReadTokens)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Len(t, rec.PhaseMetrics, 2)
	// Retries surfaced by the cost file must keep the errors invariant.
	assert.NotEmpty(t, rec.Errors)

	before := *rec
	Enrich(rec, ch)
	assert.Equal(t, before.ActualCostTotal, rec.ActualCostTotal)
	assert.Equal(t, before.RetryCount, rec.RetryCount)
	assert.Len(t, rec.Errors, len(before.Errors))
}

func TestEnrichNilHistory(t *testing.T) {
	rec := &state.Record{ADWID: "aaaaaaaa", ActualCostTotal: 1.0}
	assert.Equal(t, 0.0, Enrich(rec, nil))
	assert.Equal(t, 1.0, rec.ActualCostTotal)
}
