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

package state

// templates is the fixed enumeration of workflow templates. Each entry
// names a workflow executable of the same name.
var templates = []string{
	"adw_plan_iso",
	"adw_build_iso",
	"adw_test_iso",
	"adw_review_iso",
	"adw_document_iso",
	"adw_patch_iso",
	"adw_plan_build_iso",
	"adw_plan_build_test_iso",
	"adw_plan_build_review_iso",
	"adw_sdlc_iso",
}

// templateSet indexes templates for validation.
var templateSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(templates))
	for _, t := range templates {
		set[t] = struct{}{}
	}
	return set
}()

// Templates returns the fixed workflow template enumeration.
func Templates() []string {
	out := make([]string, len(templates))
	copy(out, templates)
	return out
}

// ValidTemplate reports whether name is a known workflow template.
func ValidTemplate(name string) bool {
	_, ok := templateSet[name]
	return ok
}
