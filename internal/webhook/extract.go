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

// Package webhook ingests issue and comment events, extracts workflow
// commands, and posts user-visible diagnostics back to the issue
// tracker.
package webhook

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/warmonger0/adwd/internal/state"
)

// Extraction is the parsed workflow command from event text.
type Extraction struct {
	Workflow string `json:"workflow"`
	ADWID    string `json:"adw_id,omitempty"`
	ModelSet string `json:"model_set"`

	// Classification is set by the slow path when known.
	Classification string `json:"classification,omitempty"`
}

// Command renders the extraction back into its canonical command
// string. Parsing the result yields an identical extraction.
func (e *Extraction) Command() string {
	var b strings.Builder
	b.WriteString(e.Workflow)
	if e.ADWID != "" {
		b.WriteString(" adw-")
		b.WriteString(e.ADWID)
	}
	b.WriteString(" with ")
	b.WriteString(e.ModelSet)
	b.WriteString(" model")
	return b.String()
}

// Classifier is the narrow interface to the LLM-backed slow path. A
// (nil, nil) return means the text contains no workflow request.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Extraction, error)
}

// commandPattern is the fast-path grammar:
// adw_<name> [adw-<8hex>] [with <base|advanced> model], case-insensitive.
var commandPattern = regexp.MustCompile(
	`(?i)\b(adw_[a-z_]+?)(?:\s+adw-([0-9a-f]{8}))?(?:\s+with\s+(base|advanced)\s+model)?(?:\s|$|[^a-z_])`)

// ExtractCommand runs the deterministic fast path over event text. It
// returns nil when no valid workflow command is present.
func ExtractCommand(text string) *Extraction {
	for _, match := range commandPattern.FindAllStringSubmatch(text, -1) {
		workflow := strings.ToLower(match[1])
		if !state.ValidTemplate(workflow) {
			continue
		}
		modelSet := strings.ToLower(match[3])
		if modelSet == "" {
			modelSet = state.ModelSetBase
		}
		return &Extraction{
			Workflow: workflow,
			ADWID:    strings.ToLower(match[2]),
			ModelSet: modelSet,
		}
	}
	return nil
}

// Extract attempts the fast path and falls back to the classifier. A
// classifier failure is a non-fatal ignore surfaced as the error.
func Extract(ctx context.Context, text string, classifier Classifier) (*Extraction, error) {
	if ex := ExtractCommand(text); ex != nil {
		return ex, nil
	}
	if classifier == nil {
		return nil, nil
	}

	ex, err := classifier.Classify(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("classifier failed: %w", err)
	}
	if ex == nil {
		return nil, nil
	}
	if !state.ValidTemplate(ex.Workflow) {
		return nil, fmt.Errorf("classifier returned unknown workflow %q", ex.Workflow)
	}
	if ex.ModelSet == "" {
		ex.ModelSet = state.ModelSetBase
	}
	return ex, nil
}
