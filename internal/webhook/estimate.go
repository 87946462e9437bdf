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

package webhook

import (
	"github.com/warmonger0/adwd/internal/state"
)

// Base cost estimates in dollars per workflow template, for the base
// model set. The advanced set multiplies these, and complexity scales
// the result.
var baseEstimates = map[string]float64{
	"adw_plan_iso":              1.50,
	"adw_build_iso":             3.00,
	"adw_test_iso":              2.00,
	"adw_review_iso":            1.00,
	"adw_document_iso":          0.75,
	"adw_patch_iso":             0.50,
	"adw_plan_build_iso":        4.50,
	"adw_plan_build_test_iso":   6.50,
	"adw_plan_build_review_iso": 5.50,
	"adw_sdlc_iso":              9.00,
}

// advancedMultiplier scales estimates for the advanced model set.
const advancedMultiplier = 2.5

// complexityMultipliers scale estimates by detected task complexity.
var complexityMultipliers = map[string]float64{
	state.ComplexitySimple:  0.6,
	state.ComplexityMedium:  1.0,
	state.ComplexityComplex: 1.8,
}

// EstimateCost returns the dollar estimate for running a template with
// the given model set and complexity. Unknown inputs fall back to
// neutral values.
func EstimateCost(template, modelSet, complexity string) float64 {
	estimate, ok := baseEstimates[template]
	if !ok {
		estimate = 2.0
	}
	if modelSet == state.ModelSetAdvanced {
		estimate *= advancedMultiplier
	}
	if mult, ok := complexityMultipliers[complexity]; ok {
		estimate *= mult
	}
	return estimate
}
