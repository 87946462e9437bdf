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

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/warmonger0/adwd/internal/log"
)

// watcher polls one topic's snapshot provider and publishes a delta
// when the snapshot changes. Change detection compares marshaled JSON.
type watcher struct {
	topic    string
	provider SnapshotProvider
	interval time.Duration
	hub      *Hub
	logger   *slog.Logger

	nudgeCh chan struct{}
	stopCh  chan struct{}

	last []byte
}

func newWatcher(topic string, provider SnapshotProvider, interval time.Duration, h *Hub, logger *slog.Logger) *watcher {
	return &watcher{
		topic:    topic,
		provider: provider,
		interval: interval,
		hub:      h,
		logger:   logger,
		nudgeCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// nudge requests an immediate poll. Never blocks.
func (w *watcher) nudge() {
	select {
	case w.nudgeCh <- struct{}{}:
	default:
	}
}

// stop terminates the watcher loop.
func (w *watcher) stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

// run polls until the context is cancelled or the watcher is stopped.
// The caller primes the baseline with one poll before starting the
// loop; subscribers get their snapshot at subscribe time.
func (w *watcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.poll(ctx, true)
		case <-w.nudgeCh:
			w.poll(ctx, true)
		}
	}
}

// poll fetches a snapshot and publishes it when it differs from the
// previous observation.
func (w *watcher) poll(ctx context.Context, publish bool) {
	snapshot, err := w.provider(ctx)
	if err != nil {
		w.logger.Debug("watcher poll failed",
			slog.String(log.TopicKey, w.topic),
			log.Error(err))
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		w.logger.Debug("watcher snapshot not serializable",
			slog.String(log.TopicKey, w.topic),
			log.Error(err))
		return
	}

	if bytes.Equal(data, w.last) {
		return
	}
	w.last = data

	if publish {
		w.hub.Publish(w.topic, json.RawMessage(data))
	}
}
