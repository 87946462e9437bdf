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

// Package daemon assembles and runs the orchestrator.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/warmonger0/adwd/internal/admission"
	"github.com/warmonger0/adwd/internal/api"
	"github.com/warmonger0/adwd/internal/config"
	"github.com/warmonger0/adwd/internal/dispatch"
	"github.com/warmonger0/adwd/internal/history"
	"github.com/warmonger0/adwd/internal/hub"
	internallog "github.com/warmonger0/adwd/internal/log"
	"github.com/warmonger0/adwd/internal/state"
	"github.com/warmonger0/adwd/internal/telemetry"
	"github.com/warmonger0/adwd/internal/webhook"
)

// Options contains daemon options set at build time.
type Options struct {
	Version string
	Commit  string

	// Classifier is the pluggable slow-path extractor; nil disables
	// the slow path.
	Classifier webhook.Classifier
}

// Daemon is the main adwd daemon.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	server *http.Server
	ln     net.Listener

	files      *state.Store
	db         *history.Store
	indexer    *history.Indexer
	broadcast  *hub.Hub
	dispatcher *dispatch.Dispatcher
	supervisor *dispatch.Supervisor
	webhooks   *webhook.Handler
	previews   *api.PreviewHandler
	workflows  *api.WorkflowsHandler
	telemetry  *telemetry.Provider

	mu      sync.Mutex
	started bool
}

// New creates a daemon instance from configuration.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := internallog.WithComponent(internallog.New(internallog.FromEnv()), "daemon")

	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	tel, err := telemetry.NewProvider(telemetry.Config{
		Enabled:     cfg.Observability.Enabled,
		ServiceName: cfg.Observability.ServiceName,
		Version:     opts.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	files := state.NewStore(cfg.Paths.StateRoot)

	db, err := history.NewStore(history.StoreConfig{Path: cfg.Paths.DBPath})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	indexer := history.NewIndexer(history.IndexerConfig{
		SyncInterval: cfg.History.SyncInterval,
		ExcludeGlobs: cfg.History.ExcludeGlobs,
	}, files, db, internallog.WithComponent(logger, "history"))

	broadcast := hub.New(hub.Config{
		SendQueueDepth:  cfg.Hub.SendQueueDepth,
		FastInterval:    cfg.Hub.FastInterval,
		HistoryInterval: cfg.Hub.HistoryInterval,
		StatusInterval:  cfg.Hub.StatusInterval,
		SlowInterval:    cfg.Hub.SlowInterval,
	}, internallog.WithComponent(logger, "hub"))

	dispatcher := dispatch.New(dispatch.Config{
		ScriptsDir:   cfg.Paths.ScriptsDir,
		WorktreeRoot: cfg.Paths.WorktreeRoot,
	}, files, internallog.WithComponent(logger, "dispatcher"))

	var oracle admission.QuotaOracle
	if cfg.Admission.QuotaCommand != "" {
		oracle = admission.NewCommandOracle(cfg.Admission.QuotaCommand)
	}
	admitter := admission.New(admission.Config{
		WorktreeRoot:   cfg.Paths.WorktreeRoot,
		MaxWorktrees:   cfg.Admission.MaxWorktrees,
		DiskPath:       cfg.Paths.StateRoot,
		MaxDiskPercent: cfg.Admission.MaxDiskPercent,
	}, oracle)

	mapping, err := webhook.NewMapping(webhook.MappingExprs{
		IssueNumber: cfg.Webhook.Mapping.IssueNumber,
		Body:        cfg.Webhook.Mapping.Body,
		Sender:      cfg.Webhook.Mapping.Sender,
		Action:      cfg.Webhook.Mapping.Action,
	})
	if err != nil {
		return nil, err
	}

	filter, err := webhook.NewFilter(cfg.Webhook.FilterExpr, cfg.Webhook.BotIdentifier)
	if err != nil {
		return nil, err
	}

	webhookLogger := internallog.WithComponent(logger, "webhook")
	var poster webhook.CommentPoster
	if cfg.Webhook.Repo != "" {
		poster = webhook.NewRateLimitedPoster(
			webhook.NewGitHubPoster(cfg.Webhook.Repo, cfg.Webhook.Token),
			webhookLogger,
		)
	} else {
		logger.Warn("no issue tracker repository configured, diagnostic comments disabled")
	}

	webhooks := webhook.NewHandler(webhook.HandlerConfig{
		Mapping:    mapping,
		Filter:     filter,
		Classifier: opts.Classifier,
		Admitter:   admitter,
		Dispatcher: dispatcher,
		Poster:     poster,
		Comments:   webhook.NewComments(cfg.Webhook.BotIdentifier),
		Logger:     webhookLogger,
	})

	d := &Daemon{
		cfg:        cfg,
		opts:       opts,
		logger:     logger,
		files:      files,
		db:         db,
		indexer:    indexer,
		broadcast:  broadcast,
		dispatcher: dispatcher,
		webhooks:   webhooks,
		telemetry:  tel,
	}

	d.workflows = api.NewWorkflowsHandler(files, db, indexer, dispatcher)
	d.previews = api.NewPreviewHandler(opts.Classifier, admitter, dispatcher)
	d.supervisor = d.buildSupervisor()

	d.wireCallbacks()
	d.registerProviders(admitter)

	return d, nil
}

// buildSupervisor registers the two sidecar services: the in-process
// webhook gate and the external tunnel.
func (d *Daemon) buildSupervisor() *dispatch.Supervisor {
	supervisor := dispatch.NewSupervisor(internallog.WithComponent(d.logger, "services"))
	supervisor.Register("webhook", dispatch.NewGateService("webhook", d.webhooks.SetAccepting))

	if d.cfg.Services.TunnelCommand != "" {
		env := os.Environ()
		if d.cfg.Services.TunnelToken != "" {
			env = append(env, "TUNNEL_TOKEN="+d.cfg.Services.TunnelToken)
		}
		logPath := filepath.Join(filepath.Dir(d.cfg.Paths.DBPath), "tunnel.log")
		supervisor.Register("tunnel", dispatch.NewProcessService(
			"tunnel", d.cfg.Services.TunnelCommand, env, logPath, 10*time.Second))
	}
	return supervisor
}

// wireCallbacks connects the cross-component notification paths.
func (d *Daemon) wireCallbacks() {
	d.dispatcher.SetOnSpawnFailure(d.webhooks.NotifySpawnFailure)
	d.dispatcher.SetOnChange(func() {
		d.telemetry.Metrics().Dispatches.Inc()
		d.broadcast.Nudge(hub.TopicWorkflows)
		d.broadcast.Nudge(hub.TopicQueue)
		d.broadcast.Nudge(hub.TopicMonitor)
	})

	// Child-written state files surface through sync; nudge the live
	// topics too so subscribers see the change ahead of the next poll.
	d.indexer.SetOnSynced(func() {
		d.broadcast.Nudge(hub.TopicHistory)
		d.broadcast.Nudge(hub.TopicWorkflows)
		d.broadcast.Nudge(hub.TopicMonitor)
	})

	metrics := d.telemetry.Metrics()
	d.indexer.SetOnPass(func(result *history.SyncResult) {
		metrics.ObserveSync(result.Duration, result.Upserted, result.Failed)
	})
	d.broadcast.SetOnPublish(func(topic string) {
		metrics.BroadcastFrames.WithLabelValues(topic).Inc()
	})
	metrics.RegisterWebhookStats(
		func() float64 { return float64(d.webhooks.Stats().Snapshot().Received) },
		func() float64 { return float64(d.webhooks.Stats().Snapshot().Succeeded) },
		func() float64 { return float64(d.webhooks.Stats().Snapshot().Failed) },
	)
	metrics.RegisterQueueDepth(func() float64 { return float64(len(d.dispatcher.QueueSnapshot())) })
	metrics.RegisterSubscriberCount(func() float64 { return float64(d.broadcast.TotalSubscribers()) })
}

// registerProviders attaches the snapshot providers behind each
// broadcast topic.
func (d *Daemon) registerProviders(admitter *admission.Controller) {
	d.broadcast.RegisterProvider(hub.TopicWorkflows, func(ctx context.Context) (any, error) {
		return d.workflows.LiveWorkflows()
	})

	d.broadcast.RegisterProvider(hub.TopicQueue, func(ctx context.Context) (any, error) {
		return map[string]any{
			"pending": d.dispatcher.QueueSnapshot(),
			"running": d.dispatcher.Registry().List(),
		}, nil
	})

	d.broadcast.RegisterProvider(hub.TopicMonitor, func(ctx context.Context) (any, error) {
		return map[string]any{
			"processes":   d.dispatcher.Registry().List(),
			"queue_depth": len(d.dispatcher.QueueSnapshot()),
		}, nil
	})

	d.broadcast.RegisterProvider(hub.TopicHistory, func(ctx context.Context) (any, error) {
		records, total, err := d.db.List(ctx, history.Query{})
		if err != nil {
			return nil, err
		}
		return map[string]any{"workflows": records, "total": total}, nil
	})

	d.broadcast.RegisterProvider(hub.TopicSystemStatus, func(ctx context.Context) (any, error) {
		result := admitter.Check(ctx, state.Templates()[0])
		return map[string]any{
			"version":        d.opts.Version,
			"disk_percent":   result.DiskPercent,
			"worktree_count": result.WorktreeCount,
			"worktree_max":   result.WorktreeMax,
			"quota":          result.QuotaDetail,
			"services":       d.supervisor.Statuses(),
		}, nil
	})

	d.broadcast.RegisterProvider(hub.TopicWebhookStatus, func(ctx context.Context) (any, error) {
		return d.webhooks.Stats().Snapshot(), nil
	})

	d.broadcast.RegisterProvider(hub.TopicRoutes, func(ctx context.Context) (any, error) {
		return routeList, nil
	})

	d.broadcast.RegisterProvider(hub.TopicPlannedFeatures, func(ctx context.Context) (any, error) {
		return d.plannedFeatures()
	})

	d.broadcast.SetStateProvider(func(adwID string) hub.SnapshotProvider {
		return func(ctx context.Context) (any, error) {
			rec, err := d.files.Read(adwID)
			if err != nil {
				return nil, err
			}
			return rec, nil
		}
	})
}

// plannedFeatures reads the optional planned-features file next to the
// database. A missing file is an empty list.
func (d *Daemon) plannedFeatures() (any, error) {
	path := filepath.Join(filepath.Dir(d.cfg.Paths.DBPath), "planned_features.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []any{}, nil
		}
		return nil, err
	}
	return jsonRaw(data), nil
}

// Start starts the daemon and blocks until the context is cancelled or
// the server fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	router := api.NewRouter(api.RouterConfig{
		Version: d.opts.Version,
		Commit:  d.opts.Commit,
	}, internallog.WithComponent(d.logger, "api"))

	d.workflows.RegisterRoutes(router.Mux())
	d.previews.RegisterRoutes(router.Mux())
	api.NewServicesHandler(d.supervisor, d.webhooks).RegisterRoutes(router.Mux())
	api.NewWSHandler(d.broadcast).RegisterRoutes(router.Mux())
	router.SetMetricsHandler(d.telemetry.MetricsHandler())
	d.addHealthChecks(router)

	ln, err := net.Listen("tcp", d.cfg.Listen.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Listen.Addr(), err)
	}
	d.mu.Lock()
	d.ln = ln
	d.mu.Unlock()

	d.server = &http.Server{
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout intentionally omitted to support long-lived
		// duplex streams.
		IdleTimeout: 60 * time.Second,
	}

	if err := d.broadcast.Start(ctx); err != nil {
		return err
	}
	go d.dispatcher.Run(ctx)
	go d.indexer.Run(ctx)
	go d.previews.Run(ctx)

	if d.cfg.Services.TunnelCommand != "" {
		if err := d.supervisor.Start(ctx, "tunnel"); err != nil {
			d.logger.Warn("tunnel service did not start", internallog.Error(err))
		}
	}

	d.logger.Info("adwd starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()),
		slog.String("state_root", d.cfg.Paths.StateRoot))

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listen address, for tests and logs.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// addHealthChecks registers the component probes.
func (d *Daemon) addHealthChecks(router *api.Router) {
	router.AddHealthCheck(api.HealthCheck{
		Name: "database",
		Check: func(ctx context.Context) error {
			return d.db.DB().PingContext(ctx)
		},
	})
	router.AddHealthCheck(api.HealthCheck{
		Name: "state_root",
		Check: func(ctx context.Context) error {
			_, err := d.files.List()
			return err
		},
	})
	router.AddHealthCheck(api.HealthCheck{
		Name: "webhook",
		Check: func(ctx context.Context) error {
			if !d.webhooks.Accepting() {
				return fmt.Errorf("webhook service is stopped")
			}
			return nil
		},
	})
	router.AddHealthCheck(api.HealthCheck{
		Name: "dispatcher",
		Check: func(ctx context.Context) error {
			d.dispatcher.Registry().List()
			return nil
		},
	})
}

// Shutdown gracefully shuts down the daemon.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	d.logger.Info("graceful shutdown initiated")

	if d.server != nil {
		d.server.SetKeepAlivesEnabled(false)
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", internallog.Error(err))
		}
	}

	d.broadcast.Shutdown()
	d.dispatcher.Shutdown()
	d.supervisor.StopAll(ctx)

	if err := d.db.Close(); err != nil {
		d.logger.Error("failed to close history database", internallog.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.telemetry.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("telemetry shutdown error", internallog.Error(err))
	}

	d.started = false
	d.logger.Info("daemon stopped")
	return nil
}
