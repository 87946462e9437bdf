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

// Package hub multiplexes real-time updates from change-detecting
// watchers to all connected subscribers over websocket connections.
package hub

import (
	"strings"

	"github.com/warmonger0/adwd/internal/state"
)

// Fixed topic enumeration. adw-state/{id} is parameterized; its
// subscriber key is the full topic string.
const (
	TopicWorkflows       = "workflows"
	TopicRoutes          = "routes"
	TopicHistory         = "workflow-history"
	TopicMonitor         = "adw-monitor"
	TopicQueue           = "queue"
	TopicSystemStatus    = "system-status"
	TopicWebhookStatus   = "webhook-status"
	TopicPlannedFeatures = "planned-features"

	// adwStatePrefix prefixes the per-workflow state topics.
	adwStatePrefix = "adw-state/"
)

// staticTopics lists every non-parameterized topic.
var staticTopics = []string{
	TopicWorkflows,
	TopicRoutes,
	TopicHistory,
	TopicMonitor,
	TopicQueue,
	TopicSystemStatus,
	TopicWebhookStatus,
	TopicPlannedFeatures,
}

// ValidTopic reports whether name is a known topic, including
// well-formed adw-state topics.
func ValidTopic(name string) bool {
	for _, t := range staticTopics {
		if name == t {
			return true
		}
	}
	if id, ok := strings.CutPrefix(name, adwStatePrefix); ok {
		return state.ValidADWID(id)
	}
	return false
}

// ADWStateTopic builds the per-workflow state topic name.
func ADWStateTopic(adwID string) string {
	return adwStatePrefix + adwID
}

// adwStateID extracts the adw_id from a state topic, or "".
func adwStateID(topic string) string {
	id, ok := strings.CutPrefix(topic, adwStatePrefix)
	if !ok {
		return ""
	}
	return id
}

// FrameType derives the update frame type for a topic, e.g.
// "workflows" → "workflows_update", "adw-state/{id}" → "adw_state_update".
func FrameType(topic string) string {
	name := topic
	if strings.HasPrefix(topic, adwStatePrefix) {
		name = "adw_state"
	}
	return strings.ReplaceAll(name, "-", "_") + "_update"
}

// Frame is the wire format for every broadcast message.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
