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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warmonger0/adwd/internal/log"
)

var (
	// ErrUnknownService is returned for service names outside the
	// supervised set.
	ErrUnknownService = errors.New("dispatch: unknown service")

	// ErrServiceRunning is returned when starting an already running
	// service.
	ErrServiceRunning = errors.New("dispatch: service already running")

	// ErrServiceStopped is returned when stopping a stopped service.
	ErrServiceStopped = errors.New("dispatch: service not running")
)

// ServiceStatus describes one supervised sidecar.
type ServiceStatus struct {
	Name      string     `json:"name"`
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// Controllable is one named, singleton, supervised service.
type Controllable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() ServiceStatus
}

// Supervisor manages the named sidecar services.
type Supervisor struct {
	mu       sync.RWMutex
	services map[string]Controllable
	logger   *slog.Logger
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	return &Supervisor{
		services: make(map[string]Controllable),
		logger:   logger,
	}
}

// Register adds a service under its name.
func (s *Supervisor) Register(name string, svc Controllable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[name] = svc
}

// Start starts a named service.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	svc, err := s.lookup(name)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("service started", slog.String("service", name))
	return nil
}

// Stop stops a named service with graceful-then-forceful semantics.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	svc, err := s.lookup(name)
	if err != nil {
		return err
	}
	if err := svc.Stop(ctx); err != nil {
		return err
	}
	s.logger.Info("service stopped", slog.String("service", name))
	return nil
}

// Restart stops then starts a named service. A stop on an already
// stopped service is not an error here.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	svc, err := s.lookup(name)
	if err != nil {
		return err
	}
	if err := svc.Stop(ctx); err != nil && !errors.Is(err, ErrServiceStopped) {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("service restarted", slog.String("service", name))
	return nil
}

// Statuses returns every service status sorted by name.
func (s *Supervisor) Statuses() []ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StopAll stops every running service, used at shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, svc := range s.services {
		if err := svc.Stop(ctx); err != nil && !errors.Is(err, ErrServiceStopped) {
			s.logger.Warn("service stop failed",
				slog.String("service", name),
				log.Error(err))
		}
	}
}

func (s *Supervisor) lookup(name string) (Controllable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return svc, nil
}

// ProcessService supervises an external singleton subprocess, such as
// the tunnel.
type ProcessService struct {
	name        string
	command     []string
	env         []string
	logPath     string
	stopTimeout time.Duration

	mu        sync.Mutex
	pid       int
	startedAt time.Time
}

// NewProcessService creates a supervised subprocess service from a
// space-separated command line.
func NewProcessService(name, command string, env []string, logPath string, stopTimeout time.Duration) *ProcessService {
	if stopTimeout == 0 {
		stopTimeout = 10 * time.Second
	}
	return &ProcessService{
		name:        name,
		command:     strings.Fields(command),
		env:         env,
		logPath:     logPath,
		stopTimeout: stopTimeout,
	}
}

// Start spawns the subprocess detached.
func (p *ProcessService) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid != 0 && processAlive(p.pid) {
		return ErrServiceRunning
	}
	if len(p.command) == 0 {
		return fmt.Errorf("service %s has no command configured", p.name)
	}

	pid, err := spawnDetached(p.command[0], p.command[1:], p.env, "", p.logPath)
	if err != nil {
		return fmt.Errorf("failed to start service %s: %w", p.name, err)
	}
	p.pid = pid
	p.startedAt = time.Now().UTC()
	return nil
}

// Stop terminates the subprocess gracefully, then forcefully.
func (p *ProcessService) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 || !processAlive(p.pid) {
		p.pid = 0
		return ErrServiceStopped
	}

	err := gracefulStop(p.pid, p.stopTimeout)
	p.pid = 0
	if err != nil && !errors.Is(err, ErrProcessNotRunning) {
		return err
	}
	return nil
}

// Status reports the subprocess state.
func (p *ProcessService) Status() ServiceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := ServiceStatus{Name: p.name}
	if p.pid != 0 && processAlive(p.pid) {
		status.Running = true
		status.PID = p.pid
		started := p.startedAt
		status.StartedAt = &started
	}
	return status
}

// GateService adapts an in-process toggle, such as the webhook
// listener's accept gate, to the service control surface.
type GateService struct {
	name string

	mu        sync.Mutex
	open      bool
	startedAt time.Time
	set       func(open bool)
}

// NewGateService creates a gate service. The set callback applies the
// open/closed state; the gate starts open.
func NewGateService(name string, set func(open bool)) *GateService {
	return &GateService{
		name:      name,
		open:      true,
		startedAt: time.Now().UTC(),
		set:       set,
	}
}

// Start opens the gate.
func (g *GateService) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open {
		return ErrServiceRunning
	}
	g.open = true
	g.startedAt = time.Now().UTC()
	g.set(true)
	return nil
}

// Stop closes the gate.
func (g *GateService) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.open {
		return ErrServiceStopped
	}
	g.open = false
	g.set(false)
	return nil
}

// Status reports the gate state.
func (g *GateService) Status() ServiceStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	status := ServiceStatus{Name: g.name, Running: g.open, Detail: "in-process"}
	if g.open {
		started := g.startedAt
		status.StartedAt = &started
	}
	return status
}
