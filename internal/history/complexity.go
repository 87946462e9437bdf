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

	"github.com/warmonger0/adwd/internal/state"
)

// Complexity classification thresholds.
const (
	simpleMaxWords     = 50
	simpleMaxDuration  = 300 // seconds
	simpleMaxErrors    = 3
	complexMinWords    = 200
	complexMinDuration = 1800 // seconds
	complexMinErrors   = 5
)

// DetectComplexity derives a complexity level from input word count,
// total duration and error count.
func DetectComplexity(rec *state.Record) string {
	words := wordCount(rec.NLInput)
	duration := rec.TotalDurationSeconds
	errs := len(rec.Errors)

	if words > complexMinWords || duration > complexMinDuration || errs > complexMinErrors {
		return state.ComplexityComplex
	}
	if words < simpleMaxWords && duration < simpleMaxDuration && errs < simpleMaxErrors {
		return state.ComplexitySimple
	}
	return state.ComplexityMedium
}

// wordCount counts whitespace-separated tokens.
func wordCount(text string) int {
	return len(strings.Fields(text))
}
