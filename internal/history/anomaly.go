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
	"strings"

	"github.com/warmonger0/adwd/internal/state"
)

const (
	// minAnomalyPeers is the smallest peer set anomaly detection will
	// work with; below it the result is empty.
	minAnomalyPeers = 3

	// anomalyRetryThreshold flags retry counts at or above this value.
	anomalyRetryThreshold = 3

	// largeInputTokens marks the input size above which cache
	// efficiency is expected.
	largeInputTokens = 5000

	// lowCacheRate is the cache read fraction below which large inputs
	// are flagged.
	lowCacheRate = 0.2
)

// commonErrorCategories is the fixed set of expected error categories;
// anything else is flagged as unexpected.
var commonErrorCategories = map[string]struct{}{
	"api":        {},
	"network":    {},
	"timeout":    {},
	"validation": {},
	"rate_limit": {},
	"build":      {},
	"test":       {},
	"retry":      {},
}

// DetectAnomalies compares the target against its similar-peer set and
// returns human-readable anomaly descriptions. Fewer than three peers
// yields no flags.
func DetectAnomalies(target *state.Record, peers []*state.Record) []string {
	if len(peers) < minAnomalyPeers {
		return nil
	}

	var flags []string

	if mean := peerMeanCost(peers); mean > 0 && target.ActualCostTotal > 2*mean {
		flags = append(flags, fmt.Sprintf(
			"Cost anomaly: $%.2f is %.1fx the peer average of $%.2f",
			target.ActualCostTotal, target.ActualCostTotal/mean, mean))
	}

	if mean := peerMeanDuration(peers); mean > 0 && target.TotalDurationSeconds > 2*mean {
		flags = append(flags, fmt.Sprintf(
			"Duration anomaly: %.0fs is %.1fx the peer average of %.0fs",
			target.TotalDurationSeconds, target.TotalDurationSeconds/mean, mean))
	}

	if target.RetryCount >= anomalyRetryThreshold {
		flags = append(flags, fmt.Sprintf(
			"High retry count: %d retries recorded", target.RetryCount))
	}

	for _, e := range target.Errors {
		category := strings.ToLower(e.Category)
		if _, common := commonErrorCategories[category]; !common && category != "" {
			flags = append(flags, fmt.Sprintf(
				"Unexpected error category: %s", e.Category))
			break
		}
	}

	if target.InputTokens > largeInputTokens {
		rate := float64(target.CacheReadTokens) / float64(target.InputTokens)
		if rate < lowCacheRate {
			flags = append(flags, fmt.Sprintf(
				"Low cache utilization: %.1f%% cache read rate on %d input tokens",
				rate*100, target.InputTokens))
		}
	}

	return flags
}
