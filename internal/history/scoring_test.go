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

func TestClarityScoreBoundaries(t *testing.T) {
	assert.Equal(t, 0.0, ClarityScore(""))
	assert.Equal(t, 0.0, ClarityScore("   \n\t "))

	// A single well-structured 100-word sentence scores at least 80.
	sentence := "Implement " + strings.Repeat("the new authentication flow with careful attention to error handling ", 9) + "now."
	words := len(strings.Fields(sentence))
	assert.GreaterOrEqual(t, words, 90)
	assert.LessOrEqual(t, words, 150)
	assert.GreaterOrEqual(t, ClarityScore(sentence), 80.0)

	// Very short inputs are penalized below the base.
	assert.Less(t, ClarityScore("fix it"), 60.0)
}

func TestClarityScoreRange(t *testing.T) {
	inputs := []string{
		"",
		"x",
		"Fix the bug.",
		strings.Repeat("word ", 500),
		"Implement user auth. Add tests. Document the API.",
	}
	for _, in := range inputs {
		score := ClarityScore(in)
		assert.GreaterOrEqual(t, score, 0.0, "input %q", in)
		assert.LessOrEqual(t, score, 100.0, "input %q", in)
	}
}

func TestCostEfficiencyScoreNeutralOnMissingFields(t *testing.T) {
	rec := &state.Record{ADWID: "aaaaaaaa", ComplexityLevel: state.ComplexityMedium}
	assert.Equal(t, 70.0, CostEfficiencyScore(rec, 0, nil))
}

func TestCostEfficiencyScoreOverBudget(t *testing.T) {
	rec := &state.Record{
		ADWID:              "aaaaaaaa",
		ComplexityLevel:    state.ComplexityMedium,
		EstimatedCostTotal: 2.0,
		ActualCostTotal:    5.0,
	}
	over := CostEfficiencyScore(rec, 0, nil)

	rec.ActualCostTotal = 1.5
	under := CostEfficiencyScore(rec, 0, nil)

	assert.Less(t, over, under)
}

func TestCostEfficiencyScoreModelMismatch(t *testing.T) {
	complexOnBase := &state.Record{
		ADWID:           "aaaaaaaa",
		ModelSet:        state.ModelSetBase,
		ComplexityLevel: state.ComplexityComplex,
	}
	complexOnAdvanced := &state.Record{
		ADWID:           "bbbbbbbb",
		ModelSet:        state.ModelSetAdvanced,
		ComplexityLevel: state.ComplexityComplex,
	}
	assert.Less(t,
		CostEfficiencyScore(complexOnBase, 0, nil),
		CostEfficiencyScore(complexOnAdvanced, 0, nil))
}

func TestPerformanceScorePeerRelative(t *testing.T) {
	peers := []*state.Record{
		{ADWID: "aaaaaaaa", TotalDurationSeconds: 100},
		{ADWID: "bbbbbbbb", TotalDurationSeconds: 120},
		{ADWID: "cccccccc", TotalDurationSeconds: 110},
	}

	slow := &state.Record{ADWID: "dddddddd", TotalDurationSeconds: 500}
	fast := &state.Record{ADWID: "eeeeeeee", TotalDurationSeconds: 50}

	assert.Less(t, PerformanceScore(slow, peers), PerformanceScore(fast, peers))
}

func TestPerformanceScoreBottleneck(t *testing.T) {
	rec := &state.Record{
		ADWID:                "aaaaaaaa",
		TotalDurationSeconds: 100,
		PhaseMetrics: []state.PhaseMetric{
			{PhaseName: "plan", DurationSeconds: 80},
			{PhaseName: "build", DurationSeconds: 20},
		},
	}
	balanced := &state.Record{
		ADWID:                "bbbbbbbb",
		TotalDurationSeconds: 100,
		PhaseMetrics: []state.PhaseMetric{
			{PhaseName: "plan", DurationSeconds: 50},
			{PhaseName: "build", DurationSeconds: 50},
		},
	}
	assert.Less(t, PerformanceScore(rec, nil), PerformanceScore(balanced, nil))
}

func TestQualityScore(t *testing.T) {
	clean := &state.Record{ADWID: "aaaaaaaa", Status: state.StatusCompleted}
	failed := &state.Record{
		ADWID:  "bbbbbbbb",
		Status: state.StatusFailed,
		Errors: []state.WorkflowError{
			{Category: "fatal", Message: "crashed"},
			{Category: "api", Message: "rate limited"},
		},
		RetryCount: 3,
	}

	cleanScore := QualityScore(clean)
	failedScore := QualityScore(failed)

	assert.Greater(t, cleanScore, failedScore)
	assert.GreaterOrEqual(t, failedScore, 0.0)
	assert.LessOrEqual(t, cleanScore, 100.0)
}

// A clean run must land in the top quartile of a peer set containing
// failures and retries.
func TestQualityScoreCleanRunTopQuartile(t *testing.T) {
	clean := QualityScore(&state.Record{ADWID: "aaaaaaaa", Status: state.StatusCompleted})

	peers := []float64{
		QualityScore(&state.Record{ADWID: "b1111111", Status: state.StatusCompleted, RetryCount: 1,
			Errors: []state.WorkflowError{{Category: "api", Message: "x"}}}),
		QualityScore(&state.Record{ADWID: "b2222222", Status: state.StatusFailed,
			Errors: []state.WorkflowError{{Category: "build", Message: "x"}}}),
		QualityScore(&state.Record{ADWID: "b3333333", Status: state.StatusStopped}),
	}

	for _, p := range peers {
		assert.GreaterOrEqual(t, clean, p)
	}
}

func TestDetectComplexity(t *testing.T) {
	tests := []struct {
		name string
		rec  state.Record
		want string
	}{
		{
			name: "short quick clean run is simple",
			rec:  state.Record{NLInput: "Fix the typo in the readme", TotalDurationSeconds: 60},
			want: state.ComplexitySimple,
		},
		{
			name: "long input is complex",
			rec:  state.Record{NLInput: strings.Repeat("word ", 201)},
			want: state.ComplexityComplex,
		},
		{
			name: "long duration is complex",
			rec:  state.Record{NLInput: "short", TotalDurationSeconds: 2000},
			want: state.ComplexityComplex,
		},
		{
			name: "many errors is complex",
			rec: state.Record{NLInput: "short", Errors: []state.WorkflowError{
				{}, {}, {}, {}, {}, {},
			}},
			want: state.ComplexityComplex,
		},
		{
			name: "middling duration is medium",
			rec:  state.Record{NLInput: "short", TotalDurationSeconds: 600},
			want: state.ComplexityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectComplexity(&tt.rec))
		})
	}
}
