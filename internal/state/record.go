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

// Package state defines the workflow record model and the file-backed
// state store. The state file is written by the workflow child process;
// the orchestrator reads it and mirrors it into the history database.
package state

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Status is the lifecycle state of a workflow invocation.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// ValidTransition reports whether moving from one status to another is
// allowed. Status is monotonic: queued → running → terminal, with direct
// queued → terminal permitted for spawn failures and early stops.
func ValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusQueued:
		return to == StatusRunning || to.Terminal()
	case StatusRunning:
		return to.Terminal()
	}
	return false
}

// Model sets select which upstream LLM configuration the child uses.
const (
	ModelSetBase     = "base"
	ModelSetAdvanced = "advanced"
)

// Complexity levels derived from input size, duration and error count.
const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)

// Classification types for incoming requests.
const (
	ClassificationFeature = "feature"
	ClassificationBug     = "bug"
	ClassificationChore   = "chore"
)

// adwIDPattern matches the 8-lowercase-hex workflow identifier format.
var adwIDPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// ValidADWID reports whether the given string is a well-formed adw_id.
func ValidADWID(id string) bool {
	return adwIDPattern.MatchString(id)
}

// WorkflowError is one recorded error with a coarse category.
type WorkflowError struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// PhaseMetric records per-phase duration and cost.
type PhaseMetric struct {
	PhaseName       string  `json:"phase_name"`
	DurationSeconds float64 `json:"duration_seconds"`
	Cost            float64 `json:"cost"`
}

// Record is one workflow invocation. The child process owns the state
// file; derived analytics fields are recomputed by the history indexer
// and are never authoritative.
type Record struct {
	ADWID     string    `json:"adw_id"`
	IssueID   int       `json:"issue_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	WorkflowTemplate   string `json:"workflow_template"`
	ModelSet           string `json:"model_set,omitempty"`
	ComplexityLevel    string `json:"complexity_level,omitempty"`
	ClassificationType string `json:"classification_type,omitempty"`

	Status      Status     `json:"status"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	NLInput         string         `json:"nl_input,omitempty"`
	StructuredInput map[string]any `json:"structured_input,omitempty"`

	ActualCostTotal      float64         `json:"actual_cost_total,omitempty"`
	EstimatedCostTotal   float64         `json:"estimated_cost_total,omitempty"`
	InputTokens          int64           `json:"input_tokens,omitempty"`
	OutputTokens         int64           `json:"output_tokens,omitempty"`
	CacheReadTokens      int64           `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens  int64           `json:"cache_creation_tokens,omitempty"`
	RetryCount           int             `json:"retry_count,omitempty"`
	TotalDurationSeconds float64         `json:"total_duration_seconds,omitempty"`
	StepsCompleted       int             `json:"steps_completed,omitempty"`
	Errors               []WorkflowError `json:"errors,omitempty"`
	PhaseMetrics         []PhaseMetric   `json:"phase_metrics,omitempty"`

	NLInputClarityScore         float64  `json:"nl_input_clarity_score,omitempty"`
	CostEfficiencyScore         float64  `json:"cost_efficiency_score,omitempty"`
	PerformanceScore            float64  `json:"performance_score,omitempty"`
	QualityScore                float64  `json:"quality_score,omitempty"`
	AnomalyFlags                []string `json:"anomaly_flags,omitempty"`
	OptimizationRecommendations []string `json:"optimization_recommendations,omitempty"`
	SimilarWorkflowIDs          []string `json:"similar_workflow_ids,omitempty"`

	// Extra carries unknown state-file fields through read/write cycles.
	Extra map[string]json.RawMessage `json:"-"`
}

// recordAlias avoids marshal recursion.
type recordAlias Record

// UnmarshalJSON parses a record, keeping unknown fields in Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range knownFields {
		delete(raw, key)
	}
	if len(raw) == 0 {
		raw = nil
	}

	*r = Record(alias)
	r.Extra = raw
	return nil
}

// MarshalJSON serializes the record, merging Extra fields back in.
func (r Record) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(recordAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range r.Extra {
		if _, known := merged[key]; !known {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// knownFields lists every JSON key the record struct owns.
var knownFields = []string{
	"adw_id", "issue_id", "created_at",
	"workflow_template", "model_set", "complexity_level", "classification_type",
	"status", "start_time", "completed_at",
	"nl_input", "structured_input",
	"actual_cost_total", "estimated_cost_total",
	"input_tokens", "output_tokens", "cache_read_tokens", "cache_creation_tokens",
	"retry_count", "total_duration_seconds", "steps_completed",
	"errors", "phase_metrics",
	"nl_input_clarity_score", "cost_efficiency_score", "performance_score", "quality_score",
	"anomaly_flags", "optimization_recommendations", "similar_workflow_ids",
}

// Validate checks record invariants.
func (r *Record) Validate() error {
	if !ValidADWID(r.ADWID) {
		return fmt.Errorf("invalid adw_id: %q", r.ADWID)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status: %q", r.Status)
	}
	if r.ActualCostTotal < 0 {
		return fmt.Errorf("actual cost must be non-negative, got %v", r.ActualCostTotal)
	}
	if r.RetryCount > 0 && len(r.Errors) == 0 {
		return fmt.Errorf("retry count %d with no recorded errors", r.RetryCount)
	}
	return nil
}
