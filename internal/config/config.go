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

// Package config provides orchestrator configuration loaded from an
// optional YAML file overlaid with environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// keyringService is the service name used for OS keyring lookups.
const keyringService = "adwd"

// Config is the root orchestrator configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	Paths         PathsConfig         `yaml:"paths"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Admission     AdmissionConfig     `yaml:"admission"`
	Hub           HubConfig           `yaml:"hub"`
	History       HistoryConfig       `yaml:"history"`
	Services      ServicesConfig      `yaml:"services"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ListenConfig configures the HTTP listener.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// PathsConfig configures filesystem locations.
type PathsConfig struct {
	// StateRoot holds one directory per workflow invocation, each
	// containing adw_state.json and the execution log.
	StateRoot string `yaml:"state_root"`

	// WorktreeRoot holds isolated git worktrees created by workflow
	// children. Only its subdirectory count matters to the orchestrator.
	WorktreeRoot string `yaml:"worktree_root"`

	// DBPath is the SQLite workflow history database file.
	DBPath string `yaml:"db_path"`

	// ScriptsDir is where adw_* workflow executables live. Empty means
	// resolve via PATH.
	ScriptsDir string `yaml:"scripts_dir"`
}

// WebhookConfig configures webhook ingestion.
type WebhookConfig struct {
	// BotIdentifier prefixes every comment the orchestrator posts so
	// that its own comments can be recognized and skipped.
	BotIdentifier string `yaml:"bot_identifier"`

	// Repo is the issue tracker repository in owner/name form.
	Repo string `yaml:"repo"`

	// Token authenticates comment posting. Resolved from GITHUB_TOKEN
	// when empty.
	Token string `yaml:"-"`

	// FilterExpr is a boolean expression over the mapped event deciding
	// whether it should be processed. Empty uses the built-in default.
	FilterExpr string `yaml:"filter_expr"`

	// Mapping overrides the jq expressions used to pull fields out of
	// raw payloads. Zero values use GitHub issue-event defaults.
	Mapping MappingConfig `yaml:"mapping"`
}

// MappingConfig holds jq expressions for payload field extraction.
type MappingConfig struct {
	IssueNumber string `yaml:"issue_number"`
	Body        string `yaml:"body"`
	Sender      string `yaml:"sender"`
	Action      string `yaml:"action"`
}

// AdmissionConfig configures pre-flight admission checks.
type AdmissionConfig struct {
	// MaxWorktrees rejects dispatch when the worktree root already holds
	// this many subdirectories.
	MaxWorktrees int `yaml:"max_worktrees"`

	// MaxDiskPercent rejects dispatch when disk usage on the state root
	// filesystem reaches this percentage.
	MaxDiskPercent float64 `yaml:"max_disk_percent"`

	// QuotaCommand is an optional command printing remaining API quota;
	// empty disables the external oracle.
	QuotaCommand string `yaml:"quota_command"`
}

// HubConfig configures the broadcast hub.
type HubConfig struct {
	// SendQueueDepth bounds each subscriber's outgoing frame queue.
	SendQueueDepth int `yaml:"send_queue_depth"`

	// FastInterval is the poll cadence for workflows/queue/adw topics.
	FastInterval time.Duration `yaml:"fast_interval"`

	// HistoryInterval is the poll cadence for the history topic.
	HistoryInterval time.Duration `yaml:"history_interval"`

	// StatusInterval is the poll cadence for status topics.
	StatusInterval time.Duration `yaml:"status_interval"`

	// SlowInterval is the poll cadence for rarely changing topics.
	SlowInterval time.Duration `yaml:"slow_interval"`
}

// HistoryConfig configures the history indexer.
type HistoryConfig struct {
	// SyncInterval is the cadence of the timer-driven sync pass.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// ExcludeGlobs skips state-root entries whose names match any glob.
	ExcludeGlobs []string `yaml:"exclude_globs"`
}

// ServicesConfig configures supervised sidecar services.
type ServicesConfig struct {
	// TunnelCommand launches the tunnel sidecar, e.g.
	// "cloudflared tunnel run". Empty disables the tunnel service.
	TunnelCommand string `yaml:"tunnel_command"`

	// TunnelToken authenticates the tunnel. Resolved from
	// ADW_TUNNEL_TOKEN, then the OS keyring, when empty.
	TunnelToken string `yaml:"-"`
}

// ObservabilityConfig configures telemetry.
type ObservabilityConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".adwd")
	return &Config{
		Listen: ListenConfig{Host: "127.0.0.1", Port: 8001},
		Paths: PathsConfig{
			StateRoot:    filepath.Join(dataDir, "agents"),
			WorktreeRoot: filepath.Join(dataDir, "trees"),
			DBPath:       filepath.Join(dataDir, "history.db"),
		},
		Webhook: WebhookConfig{
			BotIdentifier: "🤖 adw-bot",
		},
		Admission: AdmissionConfig{
			MaxWorktrees:   15,
			MaxDiskPercent: 95,
		},
		Hub: HubConfig{
			SendQueueDepth:  64,
			FastInterval:    2 * time.Second,
			HistoryInterval: 10 * time.Second,
			StatusInterval:  15 * time.Second,
			SlowInterval:    30 * time.Second,
		},
		History: HistoryConfig{
			SyncInterval: 10 * time.Second,
			ExcludeGlobs: []string{".*", "*.tmp"},
		},
		Observability: ObservabilityConfig{
			Enabled:     true,
			ServiceName: "adwd",
		},
	}
}

// Load reads configuration from the given YAML file (if non-empty) and
// applies environment variable overrides. A missing file path returns
// defaults; a named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on top of file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("ADW_STATE_ROOT"); v != "" {
		c.Paths.StateRoot = v
	}
	if v := os.Getenv("ADW_WORKTREE_ROOT"); v != "" {
		c.Paths.WorktreeRoot = v
	}
	if v := os.Getenv("ADW_DB_PATH"); v != "" {
		c.Paths.DBPath = v
	}
	if v := os.Getenv("ADW_SCRIPTS_DIR"); v != "" {
		c.Paths.ScriptsDir = v
	}
	if v := os.Getenv("ADW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Listen.Port = port
		}
	}
	if v := os.Getenv("GITHUB_REPO"); v != "" {
		c.Webhook.Repo = v
	}
	c.Webhook.Token = os.Getenv("GITHUB_TOKEN")
	c.Services.TunnelToken = resolveTunnelToken()
}

// resolveTunnelToken resolves the tunnel token from the environment and
// falls back to the OS keyring. An empty result disables the tunnel.
func resolveTunnelToken() string {
	if v := os.Getenv("ADW_TUNNEL_TOKEN"); v != "" {
		return v
	}
	token, err := keyring.Get(keyringService, "tunnel-token")
	if err != nil {
		return ""
	}
	return token
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen port: %d", c.Listen.Port)
	}
	if c.Paths.StateRoot == "" {
		return fmt.Errorf("state root path is required")
	}
	if c.Paths.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Admission.MaxWorktrees <= 0 {
		return fmt.Errorf("max worktrees must be positive, got %d", c.Admission.MaxWorktrees)
	}
	if c.Admission.MaxDiskPercent <= 0 || c.Admission.MaxDiskPercent > 100 {
		return fmt.Errorf("max disk percent must be in (0,100], got %v", c.Admission.MaxDiskPercent)
	}
	return nil
}

// EnsureDirs creates the state and worktree roots if they do not exist.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.StateRoot, c.Paths.WorktreeRoot, filepath.Dir(c.Paths.DBPath)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
