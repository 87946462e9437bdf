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

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/warmonger0/adwd/internal/log"
	"github.com/warmonger0/adwd/internal/state"
)

// reapInterval is the cadence of the registry liveness sweep.
const reapInterval = 5 * time.Second

// ErrUnknownWorkflow is returned when dispatching an unknown template.
var ErrUnknownWorkflow = errors.New("dispatch: unknown workflow template")

// Config configures the dispatcher.
type Config struct {
	// ScriptsDir is where workflow executables live; empty resolves
	// via PATH.
	ScriptsDir string

	// WorktreeRoot is exported to children so they place worktrees
	// where admission counts them.
	WorktreeRoot string

	// StopTimeout is the graceful stop window before SIGKILL.
	// Default: 10s.
	StopTimeout time.Duration
}

// Request describes one workflow to dispatch.
type Request struct {
	// ADWID is optional; empty mints a new identifier.
	ADWID string

	Template           string
	IssueID            int
	ModelSet           string
	ClassificationType string
	NLInput            string
	StructuredInput    map[string]any
	EstimatedCost      float64
}

// Dispatcher admits jobs into the pending queue and drains it by
// spawning detached workflow children.
type Dispatcher struct {
	cfg      Config
	store    *state.Store
	queue    *Queue
	registry *Registry
	logger   *slog.Logger

	// onSpawnFailure reports a child that failed to start, for the
	// diagnostic comment path.
	onSpawnFailure func(job *Job, err error)

	// onChange signals that the live workflow view changed.
	onChange func()
}

// New creates a dispatcher over the given state store.
func New(cfg Config, store *state.Store, logger *slog.Logger) *Dispatcher {
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    store,
		queue:    NewQueue(),
		registry: NewRegistry(),
		logger:   logger,
	}
}

// SetOnSpawnFailure registers the spawn failure callback.
func (d *Dispatcher) SetOnSpawnFailure(fn func(job *Job, err error)) {
	d.onSpawnFailure = fn
}

// SetOnChange registers the live-view change callback.
func (d *Dispatcher) SetOnChange(fn func()) {
	d.onChange = fn
}

// Registry exposes the process registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// QueueSnapshot returns the pending jobs.
func (d *Dispatcher) QueueSnapshot() []*Job {
	return d.queue.Snapshot()
}

// Dispatch writes the initial state record and enqueues the spawn. It
// returns the workflow's adw_id. The dispatcher does not wait for the
// child.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	if !state.ValidTemplate(req.Template) {
		return "", fmt.Errorf("%w: %s", ErrUnknownWorkflow, req.Template)
	}

	adwID := req.ADWID
	if adwID == "" {
		adwID = state.MintID()
	} else if !state.ValidADWID(adwID) {
		return "", fmt.Errorf("invalid adw_id: %q", adwID)
	}

	now := time.Now().UTC()
	rec := &state.Record{
		ADWID:              adwID,
		IssueID:            req.IssueID,
		CreatedAt:          now,
		WorkflowTemplate:   req.Template,
		ModelSet:           req.ModelSet,
		ClassificationType: req.ClassificationType,
		Status:             state.StatusQueued,
		NLInput:            req.NLInput,
		StructuredInput:    req.StructuredInput,
		EstimatedCostTotal: req.EstimatedCost,
	}
	if err := d.store.Write(rec); err != nil {
		return "", fmt.Errorf("failed to write initial state: %w", err)
	}

	job := &Job{
		ADWID:     adwID,
		Template:  req.Template,
		IssueID:   req.IssueID,
		ModelSet:  req.ModelSet,
		NLInput:   req.NLInput,
		CreatedAt: now,
	}
	if err := d.queue.Enqueue(job); err != nil {
		return "", err
	}

	d.notifyChange()
	return adwID, nil
}

// Run drains the queue and sweeps the registry until the context is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	go d.reapLoop(ctx)

	for {
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		d.spawn(job)
	}
}

// spawn launches one workflow child. A start failure is terminal: the
// state file records status=failed with a synthetic error.
func (d *Dispatcher) spawn(job *Job) {
	logger := log.WithWorkflowContext(d.logger, job.ADWID, job.Template)

	binary, err := d.resolveBinary(job.Template)
	if err == nil {
		args := []string{"--adw-id", job.ADWID}
		if job.IssueID != 0 {
			args = append(args, "--issue", strconv.Itoa(job.IssueID))
		}
		if job.ModelSet != "" {
			args = append(args, "--model-set", job.ModelSet)
		}

		env := append(os.Environ(),
			"ADW_ID="+job.ADWID,
			"ADW_STATE_ROOT="+d.store.Root(),
			"ADW_WORKTREE_ROOT="+d.cfg.WorktreeRoot,
		)

		var pid int
		pid, err = spawnDetached(binary, args, env, d.store.Dir(job.ADWID), d.store.LogPath(job.ADWID))
		if err == nil {
			d.registry.Add(ProcessInfo{
				ADWID:     job.ADWID,
				PID:       pid,
				StartedAt: time.Now().UTC(),
				LogPath:   d.store.LogPath(job.ADWID),
			})
			logger.Info("workflow spawned", slog.Int("pid", pid))
			d.notifyChange()
			return
		}
	}

	logger.Error("workflow spawn failed", log.Error(err))
	d.finalize(job.ADWID, state.StatusFailed, state.WorkflowError{
		Category: "spawn",
		Message:  fmt.Sprintf("failed to start workflow process: %v", err),
	})
	if d.onSpawnFailure != nil {
		d.onSpawnFailure(job, err)
	}
	d.notifyChange()
}

// resolveBinary locates the workflow executable.
func (d *Dispatcher) resolveBinary(template string) (string, error) {
	if d.cfg.ScriptsDir != "" {
		path := filepath.Join(d.cfg.ScriptsDir, template)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("workflow executable not found: %w", err)
		}
		return path, nil
	}
	path, err := exec.LookPath(template)
	if err != nil {
		return "", fmt.Errorf("workflow executable not found: %w", err)
	}
	return path, nil
}

// Stop terminates a running workflow: SIGTERM, bounded wait, SIGKILL.
// The state file always ends in a terminal status, even when the child
// vanished without writing one.
func (d *Dispatcher) Stop(ctx context.Context, adwID string) error {
	info, tracked := d.registry.Get(adwID)
	if !tracked {
		return ErrProcessNotRunning
	}

	err := gracefulStop(info.PID, d.cfg.StopTimeout)
	d.registry.Remove(adwID)

	switch {
	case err == nil, errors.Is(err, ErrProcessNotRunning):
		// A child that already exited still gets its terminal status.
		d.finalize(adwID, state.StatusStopped, state.WorkflowError{})
		err = nil
	default:
		d.finalize(adwID, state.StatusFailed, state.WorkflowError{
			Category: "stop",
			Message:  fmt.Sprintf("process did not stop cleanly: %v", err),
		})
	}

	d.notifyChange()
	return err
}

// reapLoop prunes dead processes and finalizes their state files when
// the child exited without recording a terminal status.
func (d *Dispatcher) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned := d.registry.Prune()
			for _, adwID := range pruned {
				rec, err := d.store.Read(adwID)
				if err != nil || rec.Status.Terminal() {
					continue
				}
				d.finalize(adwID, state.StatusFailed, state.WorkflowError{
					Category: "crash",
					Message:  "process exited without recording a terminal status",
				})
			}
			if len(pruned) > 0 {
				d.notifyChange()
			}
		}
	}
}

// finalize moves a record to a terminal status in the state file.
func (d *Dispatcher) finalize(adwID string, status state.Status, werr state.WorkflowError) {
	rec, err := d.store.Read(adwID)
	if err != nil {
		d.logger.Warn("cannot finalize workflow state",
			slog.String(log.ADWIDKey, adwID),
			log.Error(err))
		return
	}
	if rec.Status.Terminal() {
		return
	}

	rec.Status = status
	now := time.Now().UTC()
	rec.CompletedAt = &now
	if werr.Message != "" {
		rec.Errors = append(rec.Errors, werr)
	}

	if err := d.store.Write(rec); err != nil {
		d.logger.Warn("failed to write terminal state",
			slog.String(log.ADWIDKey, adwID),
			log.Error(err))
	}
}

func (d *Dispatcher) notifyChange() {
	if d.onChange != nil {
		d.onChange()
	}
}

// Shutdown closes the queue.
func (d *Dispatcher) Shutdown() {
	d.queue.Close()
}
