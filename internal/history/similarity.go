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
	"sort"
	"strings"

	"github.com/warmonger0/adwd/internal/state"
)

const (
	// similarThreshold is the minimum score for two workflows to be
	// considered similar.
	similarThreshold = 70.0

	// maxSimilar bounds the similar-workflow list per record.
	maxSimilar = 10
)

// Similarity computes the weighted similarity score between two records.
// The function is symmetric.
func Similarity(a, b *state.Record) float64 {
	var score float64

	if a.ClassificationType != "" && a.ClassificationType == b.ClassificationType {
		score += 30
	}
	if a.WorkflowTemplate != "" && a.WorkflowTemplate == b.WorkflowTemplate {
		score += 30
	}
	if complexityOf(a) == complexityOf(b) {
		score += 20
	}
	score += 20 * jaccard(tokenize(a.NLInput), tokenize(b.NLInput))

	return score
}

// SimilarWorkflows returns up to ten candidate adw_ids scoring at least
// the similarity threshold against the target, ordered by descending
// score. The target itself is excluded.
func SimilarWorkflows(target *state.Record, candidates []*state.Record) []string {
	type scored struct {
		id    string
		score float64
	}

	var matches []scored
	for _, c := range candidates {
		if c.ADWID == target.ADWID {
			continue
		}
		if s := Similarity(target, c); s >= similarThreshold {
			matches = append(matches, scored{id: c.ADWID, score: s})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].id < matches[j].id
	})

	if len(matches) > maxSimilar {
		matches = matches[:maxSimilar]
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.id
	}
	return ids
}

// SimilarPeers returns the candidate records scoring at least the
// threshold against the target, for use as an anomaly peer set.
func SimilarPeers(target *state.Record, candidates []*state.Record) []*state.Record {
	var peers []*state.Record
	for _, c := range candidates {
		if c.ADWID == target.ADWID {
			continue
		}
		if Similarity(target, c) >= similarThreshold {
			peers = append(peers, c)
		}
	}
	return peers
}

func complexityOf(rec *state.Record) string {
	if rec.ComplexityLevel != "" {
		return rec.ComplexityLevel
	}
	return DetectComplexity(rec)
}

// tokenize lowercases and splits text into a token set.
func tokenize(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[tok] = struct{}{}
	}
	return set
}

// jaccard computes set overlap in [0,1]. Two empty sets are disjoint.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
