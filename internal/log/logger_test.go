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

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestFromEnvDebug(t *testing.T) {
	t.Setenv("ADW_DEBUG", "1")

	cfg := FromEnv()
	if cfg.Level != "debug" {
		t.Errorf("Level = %s", cfg.Level)
	}
	if !cfg.AddSource {
		t.Error("AddSource not enabled")
	}
}

func TestFromEnvLevelPrecedence(t *testing.T) {
	t.Setenv("ADW_DEBUG", "")
	t.Setenv("ADW_LOG_LEVEL", "warn")
	t.Setenv("LOG_LEVEL", "error")

	cfg := FromEnv()
	if cfg.Level != "warn" {
		t.Errorf("Level = %s, want warn (ADW_LOG_LEVEL wins)", cfg.Level)
	}
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	logger = WithComponent(logger, "webhook")

	logger.Info("event received", String(IssueKey, "13"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %s", buf.String())
	}
	if entry["component"] != "webhook" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["msg"] != "event received" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestNewTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	logger.Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})

	logger.Debug("hidden")
	logger.Info("hidden too")
	if buf.Len() != 0 {
		t.Errorf("below-level output = %q", buf.String())
	}

	logger.Warn("visible")
	if buf.Len() == 0 {
		t.Error("warn output missing")
	}
}

func TestWithWorkflowContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	logger = WithWorkflowContext(logger, "a1b2c3d4", "adw_plan_iso")
	logger.Info("spawned")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry[ADWIDKey] != "a1b2c3d4" || entry[WorkflowKey] != "adw_plan_iso" {
		t.Errorf("entry = %v", entry)
	}
}
