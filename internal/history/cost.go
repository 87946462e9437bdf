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

// Package history scans the workflow state filesystem, enriches records
// with cost data, computes analytics, and serves the history database.
package history

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/warmonger0/adwd/internal/state"
)

// CostPhase is one phase entry in a workflow's cost history file.
type CostPhase struct {
	PhaseName           string  `json:"phase_name"`
	Cost                float64 `json:"cost"`
	DurationSeconds     float64 `json:"duration_seconds"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	Retries             int     `json:"retries"`
	RetryCost           float64 `json:"retry_cost"`
}

// CostHistory is the optional per-workflow cost tracking file written by
// the workflow child alongside its state file.
type CostHistory struct {
	Phases        []CostPhase `json:"phases"`
	TotalCost     float64     `json:"total_cost"`
	EstimatedCost float64     `json:"estimated_cost"`
}

// ReadCostHistory loads the cost history file at the given path. A
// missing file is not an error and returns (nil, nil).
func ReadCostHistory(path string) (*CostHistory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cost history: %w", err)
	}

	var ch CostHistory
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("failed to parse cost history: %w", err)
	}
	return &ch, nil
}

// Enrich merges cost history into a record. The merge is best-effort and
// idempotent: values from the cost file always win when present, so
// repeated enrichment converges. It returns the retry-attributable cost
// used by the cost-efficiency scorer.
func Enrich(rec *state.Record, ch *CostHistory) float64 {
	if ch == nil {
		return 0
	}

	if ch.TotalCost > 0 {
		rec.ActualCostTotal = ch.TotalCost
	}
	if ch.EstimatedCost > 0 {
		rec.EstimatedCostTotal = ch.EstimatedCost
	}

	if len(ch.Phases) > 0 {
		var input, output, cacheRead, cacheCreate int64
		var retries int
		metrics := make([]state.PhaseMetric, 0, len(ch.Phases))
		for _, p := range ch.Phases {
			input += p.InputTokens
			output += p.OutputTokens
			cacheRead += p.CacheReadTokens
			cacheCreate += p.CacheCreationTokens
			retries += p.Retries
			metrics = append(metrics, state.PhaseMetric{
				PhaseName:       p.PhaseName,
				DurationSeconds: p.DurationSeconds,
				Cost:            p.Cost,
			})
		}
		rec.InputTokens = input
		rec.OutputTokens = output
		rec.CacheReadTokens = cacheRead
		rec.CacheCreationTokens = cacheCreate
		rec.PhaseMetrics = metrics

		if retries > rec.RetryCount {
			rec.RetryCount = retries
		}
	}

	// Keep the retry/errors invariant intact when the cost file is the
	// first place a retry shows up.
	if rec.RetryCount > 0 && len(rec.Errors) == 0 {
		rec.Errors = []state.WorkflowError{{
			Category: "retry",
			Message:  "retries recorded in cost history",
		}}
	}

	var retryCost float64
	for _, p := range ch.Phases {
		retryCost += p.RetryCost
	}
	return retryCost
}
