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
	"fmt"

	"github.com/warmonger0/adwd/internal/state"
)

const (
	// maxRecommendations bounds the recommendation list per record.
	maxRecommendations = 5

	// recommendCacheRate is the cache read fraction below which a cache
	// structuring tip is emitted.
	recommendCacheRate = 0.3

	// recommendClarityScore is the clarity score below which an input
	// quality tip is emitted.
	recommendClarityScore = 50
)

// Recommendations produces up to five prioritized optimization tips for
// a record. Tips are deduplicated by category: when multiple signals
// point at the same category, the highest-priority emitter wins.
func Recommendations(rec *state.Record, clarityScore float64) []string {
	var recs []string
	emitted := make(map[string]struct{})

	add := func(category, text string) {
		if len(recs) >= maxRecommendations {
			return
		}
		if _, dup := emitted[category]; dup {
			return
		}
		emitted[category] = struct{}{}
		recs = append(recs, text)
	}

	// Model selection, per complexity mismatch.
	complexity := complexityOf(rec)
	if rec.ModelSet == state.ModelSetBase && complexity == state.ComplexityComplex {
		add("model", fmt.Sprintf(
			"Switch to the advanced model set: this %s task ran on the base set and cost $%.2f with %d errors",
			complexity, rec.ActualCostTotal, len(rec.Errors)))
	} else if rec.ModelSet == state.ModelSetAdvanced && complexity == state.ComplexitySimple {
		add("model", fmt.Sprintf(
			"Switch to the base model set: this %s task does not need the advanced set ($%.2f spent)",
			complexity, rec.ActualCostTotal))
	}

	// Cache structuring.
	if rec.InputTokens > 0 {
		rate := float64(rec.CacheReadTokens) / float64(rec.InputTokens)
		if rate < recommendCacheRate {
			add("cache", fmt.Sprintf(
				"Improve cache structuring: only %.1f%% of %d input tokens were cache reads",
				rate*100, rec.InputTokens))
		}
	}

	// Input quality.
	if clarityScore < recommendClarityScore {
		add("clarity", fmt.Sprintf(
			"Improve the request wording: the input scored %.0f/100 for clarity (%d words)",
			clarityScore, wordCount(rec.NLInput)))
	}

	// Bottleneck decomposition.
	if phase := bottleneckPhase(rec); phase != nil {
		add("bottleneck", fmt.Sprintf(
			"Decompose the %s phase: it took %.0fs of the %.0fs total",
			phase.PhaseName, phase.DurationSeconds, rec.TotalDurationSeconds))
	}

	// Retry error handling.
	if rec.RetryCount > 0 {
		add("retry", fmt.Sprintf(
			"Add error handling for retried operations: %d retries across %d recorded errors",
			rec.RetryCount, len(rec.Errors)))
	}

	return recs
}
