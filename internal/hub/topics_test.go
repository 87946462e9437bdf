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

package hub

import "testing"

func TestValidTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  bool
	}{
		{"workflows", true},
		{"routes", true},
		{"workflow-history", true},
		{"adw-monitor", true},
		{"queue", true},
		{"system-status", true},
		{"webhook-status", true},
		{"planned-features", true},
		{"adw-state/a1b2c3d4", true},
		{"adw-state/nope", false},
		{"adw-state/", false},
		{"adw-state/A1B2C3D4", false},
		{"unknown", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ValidTopic(tt.topic); got != tt.want {
			t.Errorf("ValidTopic(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestFrameType(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"workflows", "workflows_update"},
		{"workflow-history", "workflow_history_update"},
		{"system-status", "system_status_update"},
		{"adw-state/a1b2c3d4", "adw_state_update"},
		{"planned-features", "planned_features_update"},
	}

	for _, tt := range tests {
		if got := FrameType(tt.topic); got != tt.want {
			t.Errorf("FrameType(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
