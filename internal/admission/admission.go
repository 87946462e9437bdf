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

// Package admission runs the pre-flight feasibility checks before a
// workflow is dispatched.
package admission

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/warmonger0/adwd/internal/state"
)

// Config configures the admission controller.
type Config struct {
	// WorktreeRoot is the directory whose subdirectory count is checked.
	WorktreeRoot string

	// MaxWorktrees rejects when the worktree count is at or above this
	// value. The numeric constant is the contract.
	MaxWorktrees int

	// DiskPath is the filesystem checked for usage; usually the state
	// root.
	DiskPath string

	// MaxDiskPercent rejects when disk usage reaches this percentage.
	MaxDiskPercent float64
}

// QuotaOracle reports whether API quota remains for another workflow.
type QuotaOracle interface {
	// Remaining returns a human-readable quota description and whether
	// quota is exhausted.
	Remaining(ctx context.Context) (detail string, exhausted bool, err error)
}

// StaticOracle always reports quota available. It is the default when
// no external oracle is configured.
type StaticOracle struct{}

// Remaining implements QuotaOracle.
func (StaticOracle) Remaining(ctx context.Context) (string, bool, error) {
	return "not tracked", false, nil
}

// Result is the admission decision with the observed values of every
// check, for the "cannot start" comment.
type Result struct {
	Admitted bool     `json:"admitted"`
	Reasons  []string `json:"reasons,omitempty"`

	WorkflowValid bool    `json:"workflow_valid"`
	QuotaDetail   string  `json:"quota_detail"`
	QuotaOK       bool    `json:"quota_ok"`
	DiskPercent   float64 `json:"disk_percent"`
	DiskOK        bool    `json:"disk_ok"`
	WorktreeCount int     `json:"worktree_count"`
	WorktreeMax   int     `json:"worktree_max"`
	WorktreeOK    bool    `json:"worktree_ok"`
}

// Summary renders the observed values for user-facing diagnostics.
func (r *Result) Summary() string {
	quota := "ok"
	if !r.QuotaOK {
		quota = "exhausted"
	}
	return fmt.Sprintf("worktrees %d/%d, disk %.1f%%, quota %s (%s)",
		r.WorktreeCount, r.WorktreeMax, r.DiskPercent, quota, r.QuotaDetail)
}

// Controller runs the admission checks.
type Controller struct {
	cfg    Config
	oracle QuotaOracle
}

// New creates an admission controller. A nil oracle uses StaticOracle.
func New(cfg Config, oracle QuotaOracle) *Controller {
	if oracle == nil {
		oracle = StaticOracle{}
	}
	return &Controller{cfg: cfg, oracle: oracle}
}

// Check runs all four admission checks for a proposed workflow. The
// check is non-atomic with dispatch; resources may be consumed between
// check and spawn, and a second rejection at spawn is reported the same
// way.
func (c *Controller) Check(ctx context.Context, workflow string) *Result {
	result := &Result{}

	result.WorkflowValid = state.ValidTemplate(workflow)
	if !result.WorkflowValid {
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("unknown workflow %q (valid: %s)", workflow, strings.Join(state.Templates(), ", ")))
	}

	detail, exhausted, err := c.oracle.Remaining(ctx)
	result.QuotaDetail = detail
	result.QuotaOK = err == nil && !exhausted
	if err != nil {
		result.QuotaDetail = fmt.Sprintf("oracle error: %v", err)
		result.Reasons = append(result.Reasons, "quota status unavailable")
	} else if exhausted {
		result.Reasons = append(result.Reasons, "API quota exhausted")
	}

	percent, err := diskUsedPercent(c.cfg.DiskPath)
	result.DiskPercent = percent
	result.DiskOK = err == nil && percent < c.cfg.MaxDiskPercent
	if err != nil {
		result.Reasons = append(result.Reasons, fmt.Sprintf("disk check failed: %v", err))
	} else if !result.DiskOK {
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("disk usage %.1f%% is at or above the %.0f%% limit", percent, c.cfg.MaxDiskPercent))
	}

	count, err := countWorktrees(c.cfg.WorktreeRoot)
	result.WorktreeCount = count
	result.WorktreeMax = c.cfg.MaxWorktrees
	result.WorktreeOK = err == nil && count < c.cfg.MaxWorktrees
	if err != nil {
		result.Reasons = append(result.Reasons, fmt.Sprintf("worktree check failed: %v", err))
	} else if !result.WorktreeOK {
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("active worktrees %d/%d", count, c.cfg.MaxWorktrees))
	}

	result.Admitted = result.WorkflowValid && result.QuotaOK && result.DiskOK && result.WorktreeOK
	return result
}

// diskUsedPercent returns used space on the filesystem holding path.
func diskUsedPercent(path string) (float64, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	total := fs.Blocks * uint64(fs.Bsize)
	if total == 0 {
		return 0, fmt.Errorf("statfs %s reported zero size", path)
	}
	free := fs.Bavail * uint64(fs.Bsize)
	used := total - free
	return float64(used) / float64(total) * 100, nil
}

// countWorktrees counts directories under the worktree root. A missing
// root counts as zero.
func countWorktrees(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read worktree root: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			count++
		}
	}
	return count, nil
}
