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

	"github.com/warmonger0/adwd/internal/state"
)

func TestRecommendationsCap(t *testing.T) {
	// A record tripping every signal still yields at most five tips.
	rec := &state.Record{
		ADWID:                "aaaaaaaa",
		ModelSet:             state.ModelSetBase,
		ComplexityLevel:      state.ComplexityComplex,
		ActualCostTotal:      20,
		InputTokens:          10000,
		CacheReadTokens:      100,
		NLInput:              "fix",
		TotalDurationSeconds: 100,
		RetryCount:           4,
		Errors:               []state.WorkflowError{{Category: "api", Message: "x"}},
		PhaseMetrics: []state.PhaseMetric{
			{PhaseName: "build", DurationSeconds: 80},
			{PhaseName: "test", DurationSeconds: 20},
		},
	}

	recs := Recommendations(rec, ClarityScore(rec.NLInput))
	assert.LessOrEqual(t, len(recs), 5)
	assert.NotEmpty(t, recs)
}

func TestRecommendationsDedupByCategory(t *testing.T) {
	rec := &state.Record{
		ADWID:           "aaaaaaaa",
		ModelSet:        state.ModelSetBase,
		ComplexityLevel: state.ComplexityComplex,
	}

	recs := Recommendations(rec, 100)
	modelTips := 0
	for _, r := range recs {
		if strings.Contains(r, "model set") {
			modelTips++
		}
	}
	assert.Equal(t, 1, modelTips)
}

func TestRecommendationsCleanRecord(t *testing.T) {
	rec := &state.Record{
		ADWID:           "aaaaaaaa",
		ModelSet:        state.ModelSetBase,
		ComplexityLevel: state.ComplexitySimple,
		InputTokens:     1000,
		CacheReadTokens: 800,
	}
	assert.Empty(t, Recommendations(rec, 90))
}

func TestRecommendationsReferenceOwnNumbers(t *testing.T) {
	rec := &state.Record{
		ADWID:           "aaaaaaaa",
		InputTokens:     10000,
		CacheReadTokens: 1000,
	}
	recs := Recommendations(rec, 90)
	assert.Len(t, recs, 1)
	assert.Contains(t, recs[0], "10000")
	assert.Contains(t, recs[0], "10.0%")
}
