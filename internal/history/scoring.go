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
	"unicode"

	"github.com/warmonger0/adwd/internal/state"
)

// All scorers share the same shape: a base score, additive penalties and
// bonuses, then clamping to [0,100]. Missing fields contribute neither
// penalty nor bonus.

// ClarityScore rates how well-formed the natural language input is.
func ClarityScore(nlInput string) float64 {
	text := strings.TrimSpace(nlInput)
	if text == "" {
		return 0
	}

	score := 60.0
	words := wordCount(text)

	if words < 5 {
		score -= 30
	}
	if words >= 20 && words <= 150 {
		score += 15
	}
	if startsUpper(text) {
		score += 10
	}
	if sentenceCount(text) >= 2 {
		score += 10
	}

	return clampScore(score)
}

// CostEfficiencyScore rates actual spend against the estimate, the peer
// set, model selection, retry overhead and cache utilization.
func CostEfficiencyScore(rec *state.Record, retryCost float64, peers []*state.Record) float64 {
	score := 70.0

	// Budget adherence, graded by overrun percentage.
	if rec.EstimatedCostTotal > 0 && rec.ActualCostTotal > 0 {
		ratio := rec.ActualCostTotal / rec.EstimatedCostTotal
		switch {
		case ratio > 2.0:
			score -= 40
		case ratio > 1.5:
			score -= 25
		case ratio > 1.2:
			score -= 15
		case ratio > 1.0:
			score -= 5
		case ratio <= 0.8:
			score += 10
		}
	}

	// Peer-relative spend.
	if mean := peerMeanCost(peers); mean > 0 && rec.ActualCostTotal > 2*mean {
		score -= 25
	}

	// Model set vs task complexity.
	complexity := rec.ComplexityLevel
	if complexity == "" {
		complexity = DetectComplexity(rec)
	}
	switch {
	case rec.ModelSet == state.ModelSetBase && complexity == state.ComplexityComplex:
		score -= 15
	case rec.ModelSet == state.ModelSetAdvanced && complexity == state.ComplexitySimple:
		score -= 10
	case rec.ModelSet == state.ModelSetAdvanced && complexity == state.ComplexityComplex,
		rec.ModelSet == state.ModelSetBase && complexity == state.ComplexitySimple:
		score += 5
	}

	// Retry-attributable cost fraction.
	if rec.ActualCostTotal > 0 && retryCost/rec.ActualCostTotal > 0.3 {
		score -= 15
	}

	// Cache utilization.
	if rec.InputTokens > 0 {
		rate := float64(rec.CacheReadTokens) / float64(rec.InputTokens)
		if rate >= 0.5 {
			score += 10
		} else if rec.InputTokens > largeInputTokens && rate < lowCacheRate {
			score -= 10
		}
	}

	return clampScore(score)
}

// PerformanceScore rates duration against the peer mean, bottleneck
// phases, and throughput.
func PerformanceScore(rec *state.Record, peers []*state.Record) float64 {
	score := 70.0

	if mean := peerMeanDuration(peers); mean > 0 && rec.TotalDurationSeconds > 0 {
		ratio := rec.TotalDurationSeconds / mean
		switch {
		case ratio > 2.0:
			score -= 25
		case ratio > 1.5:
			score -= 15
		case ratio < 0.75:
			score += 10
		}
	}

	if bottleneckPhase(rec) != nil {
		score -= 15
	}

	if rec.TotalDurationSeconds > 0 && rec.StepsCompleted > 0 {
		stepsPerMinute := float64(rec.StepsCompleted) / (rec.TotalDurationSeconds / 60)
		if stepsPerMinute >= 2 {
			score += 10
		} else if stepsPerMinute < 0.2 {
			score -= 10
		}
	}

	return clampScore(score)
}

// severeCategories are error categories that weigh extra on quality.
var severeCategories = map[string]struct{}{
	"fatal": {},
	"crash": {},
	"panic": {},
}

// QualityScore rates error count and severity, retries, and terminal
// status.
func QualityScore(rec *state.Record) float64 {
	score := 70.0

	switch rec.Status {
	case state.StatusCompleted:
		score += 15
	case state.StatusFailed:
		score -= 20
	case state.StatusStopped:
		score -= 10
	}

	if n := len(rec.Errors); n > 0 {
		score -= 10 * float64(min(n, 3))
		for _, e := range rec.Errors {
			if _, severe := severeCategories[strings.ToLower(e.Category)]; severe {
				score -= 10
				break
			}
		}
	}

	if rec.RetryCount > 0 {
		score -= 5 * float64(min(rec.RetryCount, 3))
	}

	if len(rec.Errors) == 0 && rec.RetryCount == 0 {
		score += 10
	}

	return clampScore(score)
}

// bottleneckPhase returns the phase consuming more than half the total
// duration, or nil when there is none.
func bottleneckPhase(rec *state.Record) *state.PhaseMetric {
	total := rec.TotalDurationSeconds
	if total <= 0 {
		for _, p := range rec.PhaseMetrics {
			total += p.DurationSeconds
		}
	}
	if total <= 0 {
		return nil
	}
	for i, p := range rec.PhaseMetrics {
		if p.DurationSeconds > total/2 {
			return &rec.PhaseMetrics[i]
		}
	}
	return nil
}

func peerMeanCost(peers []*state.Record) float64 {
	var sum float64
	var n int
	for _, p := range peers {
		if p.ActualCostTotal > 0 {
			sum += p.ActualCostTotal
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func peerMeanDuration(peers []*state.Record) float64 {
	var sum float64
	var n int
	for _, p := range peers {
		if p.TotalDurationSeconds > 0 {
			sum += p.TotalDurationSeconds
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func startsUpper(text string) bool {
	for _, r := range text {
		return unicode.IsUpper(r)
	}
	return false
}

// sentenceCount counts sentence-terminator runs.
func sentenceCount(text string) int {
	count := 0
	inTerminator := false
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if !inTerminator {
				count++
			}
			inTerminator = true
		} else {
			inTerminator = false
		}
	}
	return count
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
