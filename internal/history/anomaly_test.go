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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmonger0/adwd/internal/state"
)

func costPeers() []*state.Record {
	return []*state.Record{
		{ADWID: "b1111111", ActualCostTotal: 2.0, TotalDurationSeconds: 300},
		{ADWID: "b2222222", ActualCostTotal: 2.5, TotalDurationSeconds: 320},
		{ADWID: "b3333333", ActualCostTotal: 3.0, TotalDurationSeconds: 310},
	}
}

func TestDetectAnomaliesFewPeers(t *testing.T) {
	target := &state.Record{ADWID: "aaaaaaaa", ActualCostTotal: 100}
	assert.Empty(t, DetectAnomalies(target, nil))
	assert.Empty(t, DetectAnomalies(target, costPeers()[:2]))
}

// Seed scenario: actual cost 10.0 against a peer mean of 2.5 flags a
// 4.0x cost anomaly, a cache recommendation, and a depressed
// cost-efficiency score.
func TestScoringSeedScenario(t *testing.T) {
	target := &state.Record{
		ADWID:           "aaaaaaaa",
		ActualCostTotal: 10.0,
		InputTokens:     10000,
		CacheReadTokens: 1000,
		ComplexityLevel: state.ComplexityMedium,
	}
	peers := costPeers()

	flags := DetectAnomalies(target, peers)
	require.NotEmpty(t, flags)
	var costFlag string
	for _, f := range flags {
		if strings.Contains(f, "Cost anomaly") {
			costFlag = f
		}
	}
	require.NotEmpty(t, costFlag, "expected a cost anomaly flag in %v", flags)
	assert.Contains(t, costFlag, "4.0x")

	recs := Recommendations(target, ClarityScore(target.NLInput))
	var cacheRec string
	for _, r := range recs {
		if strings.Contains(r, "cache structuring") {
			cacheRec = r
		}
	}
	assert.NotEmpty(t, cacheRec, "expected a cache structuring tip in %v", recs)

	assert.Less(t, CostEfficiencyScore(target, 0, peers), 50.0)
}

func TestDetectAnomaliesDuration(t *testing.T) {
	target := &state.Record{ADWID: "aaaaaaaa", TotalDurationSeconds: 1000}
	flags := DetectAnomalies(target, costPeers())

	found := false
	for _, f := range flags {
		if strings.Contains(f, "Duration anomaly") {
			found = true
		}
	}
	assert.True(t, found, "flags: %v", flags)
}

func TestDetectAnomaliesRetriesAndCategories(t *testing.T) {
	target := &state.Record{
		ADWID:      "aaaaaaaa",
		RetryCount: 3,
		Errors: []state.WorkflowError{
			{Category: "api", Message: "rate limited"},
			{Category: "cosmic_rays", Message: "bit flip"},
		},
	}
	flags := DetectAnomalies(target, costPeers())

	joined := strings.Join(flags, "\n")
	assert.Contains(t, joined, "High retry count: 3")
	assert.Contains(t, joined, "Unexpected error category: cosmic_rays")
	assert.NotContains(t, joined, "Unexpected error category: api")
}

func TestDetectAnomaliesCacheEfficiency(t *testing.T) {
	target := &state.Record{
		ADWID:           "aaaaaaaa",
		InputTokens:     10000,
		CacheReadTokens: 500,
	}
	flags := DetectAnomalies(target, costPeers())
	assert.Contains(t, strings.Join(flags, "\n"), "Low cache utilization")

	// Small inputs are not held to the cache standard.
	small := &state.Record{ADWID: "bbbbbbbb", InputTokens: 1000, CacheReadTokens: 0}
	for _, f := range DetectAnomalies(small, costPeers()) {
		assert.NotContains(t, f, "cache")
	}
}
