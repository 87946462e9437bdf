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

package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/warmonger0/adwd/internal/log"
	"github.com/warmonger0/adwd/internal/state"
)

// nudgeDebounce coalesces bursts of filesystem events into one sync.
const nudgeDebounce = 500 * time.Millisecond

// Indexer orchestrates the sync pass: scan → enrich → score →
// similarity → upsert → notify.
type Indexer struct {
	scanner *Scanner
	files   *state.Store
	db      *Store
	logger  *slog.Logger

	// onSynced is invoked after a pass that upserted at least one
	// record, so the broadcast layer can push a history update early.
	onSynced func()

	// onPass observes every completed pass, for metrics.
	onPass func(*SyncResult)

	syncMu  sync.Mutex
	trigger chan struct{}

	interval time.Duration
}

// IndexerConfig configures the history indexer.
type IndexerConfig struct {
	SyncInterval time.Duration
	ExcludeGlobs []string
}

// NewIndexer creates an indexer over the given file store and database.
func NewIndexer(cfg IndexerConfig, files *state.Store, db *Store, logger *slog.Logger) *Indexer {
	interval := cfg.SyncInterval
	if interval == 0 {
		interval = 10 * time.Second
	}
	return &Indexer{
		scanner:  NewScanner(files, cfg.ExcludeGlobs, logger),
		files:    files,
		db:       db,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		interval: interval,
	}
}

// SetOnSynced registers the post-sync notification callback.
func (ix *Indexer) SetOnSynced(fn func()) {
	ix.onSynced = fn
}

// SetOnPass registers the per-pass observer.
func (ix *Indexer) SetOnPass(fn func(*SyncResult)) {
	ix.onPass = fn
}

// TriggerSync requests a sync pass outside the timer cadence. It never
// blocks; a pending request is enough.
func (ix *Indexer) TriggerSync() {
	select {
	case ix.trigger <- struct{}{}:
	default:
	}
}

// Run drives the sync loop until the context is cancelled. Passes run on
// a timer, on explicit trigger, and on state-root filesystem changes.
func (ix *Indexer) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		ix.logger.Warn("filesystem watcher unavailable, relying on timer",
			log.Error(err))
	} else {
		defer watcher.Close()
		if err := watcher.Add(ix.files.Root()); err != nil {
			ix.logger.Warn("failed to watch state root",
				slog.String("path", ix.files.Root()),
				log.Error(err))
		}
	}

	ticker := time.NewTicker(ix.interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		var fsEvents chan fsnotify.Event
		var fsErrors chan error
		if watcher != nil {
			fsEvents = watcher.Events
			fsErrors = watcher.Errors
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ix.runSync(ctx)
		case <-ix.trigger:
			ix.runSync(ctx)
		case <-debounceCh:
			debounceCh = nil
			ix.runSync(ctx)
		case _, ok := <-fsEvents:
			if !ok {
				watcher = nil
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(nudgeDebounce)
				debounceCh = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(nudgeDebounce)
				debounceCh = debounce.C
			}
		case err, ok := <-fsErrors:
			if !ok {
				watcher = nil
				continue
			}
			ix.logger.Debug("filesystem watcher error", log.Error(err))
		}
	}
}

func (ix *Indexer) runSync(ctx context.Context) {
	if _, err := ix.Sync(ctx); err != nil {
		ix.logger.Error("sync pass failed", log.Error(err))
	}
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Scanned  int
	Upserted int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Sync runs one full indexing pass. Failure of any single record is
// counted and logged; the pass continues. Repeated passes with no
// underlying change converge to identical rows.
func (ix *Indexer) Sync(ctx context.Context) (*SyncResult, error) {
	// Mid-pass cancellation is not supported; a concurrent request just
	// waits its turn on the next tick.
	if !ix.syncMu.TryLock() {
		return &SyncResult{}, nil
	}
	defer ix.syncMu.Unlock()

	start := time.Now()

	records, skipped, err := ix.scanner.Scan()
	if err != nil {
		return nil, err
	}

	// Enrich every record first so scoring sees final costs on peers.
	retryCosts := make(map[string]float64, len(records))
	for _, rec := range records {
		ch, err := ReadCostHistory(ix.files.CostHistoryPath(rec.ADWID))
		if err != nil {
			ix.logger.Warn("cost enrichment failed",
				slog.String(log.ADWIDKey, rec.ADWID),
				log.Error(err))
			continue
		}
		retryCosts[rec.ADWID] = Enrich(rec, ch)
	}

	result := &SyncResult{Scanned: len(records), Skipped: skipped}
	for _, rec := range records {
		if err := ix.index(ctx, rec, retryCosts[rec.ADWID], records); err != nil {
			result.Failed++
			ix.logger.Warn("failed to index workflow",
				slog.String(log.ADWIDKey, rec.ADWID),
				log.Error(err))
			continue
		}
		result.Upserted++
	}

	result.Duration = time.Since(start)
	ix.logger.Debug("sync pass complete",
		slog.Int("scanned", result.Scanned),
		slog.Int("upserted", result.Upserted),
		slog.Int("failed", result.Failed),
		slog.Int64(log.DurationKey, result.Duration.Milliseconds()))

	if result.Upserted > 0 && ix.onSynced != nil {
		ix.onSynced()
	}
	if ix.onPass != nil {
		ix.onPass(result)
	}
	return result, nil
}

// index computes derived analytics for one record and upserts it.
func (ix *Indexer) index(ctx context.Context, rec *state.Record, retryCost float64, all []*state.Record) error {
	if rec.ComplexityLevel == "" {
		rec.ComplexityLevel = DetectComplexity(rec)
	}

	peers := SimilarPeers(rec, all)

	rec.NLInputClarityScore = ClarityScore(rec.NLInput)
	rec.CostEfficiencyScore = CostEfficiencyScore(rec, retryCost, peers)
	rec.PerformanceScore = PerformanceScore(rec, peers)
	rec.QualityScore = QualityScore(rec)
	rec.SimilarWorkflowIDs = SimilarWorkflows(rec, all)
	rec.AnomalyFlags = DetectAnomalies(rec, peers)
	rec.OptimizationRecommendations = Recommendations(rec, rec.NLInputClarityScore)

	return ix.db.Upsert(ctx, rec)
}

// Resync re-merges cost data from the filesystem into completed rows.
// It backfills workflows that finished before cost tracking existed and
// never inserts new rows.
func (ix *Indexer) Resync(ctx context.Context) (int, error) {
	ids, err := ix.db.CompletedIDs(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, id := range ids {
		ch, err := ReadCostHistory(ix.files.CostHistoryPath(id))
		if err != nil || ch == nil {
			continue
		}

		rec, err := ix.db.Get(ctx, id)
		if err != nil || rec == nil {
			continue
		}

		Enrich(rec, ch)
		if err := ix.db.UpdateCosts(ctx, rec); err != nil {
			ix.logger.Warn("resync update failed",
				slog.String(log.ADWIDKey, id),
				log.Error(err))
			continue
		}
		updated++
	}
	return updated, nil
}
