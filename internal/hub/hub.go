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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warmonger0/adwd/internal/log"
)

// SnapshotProvider synthesizes the current snapshot for a topic. The
// same provider serves the initial snapshot on subscribe and the
// watcher's change detection.
type SnapshotProvider func(ctx context.Context) (any, error)

// Config configures the broadcast hub.
type Config struct {
	// SendQueueDepth bounds each subscriber's frame queue.
	SendQueueDepth int

	// FastInterval is the watcher cadence for workflows, queue,
	// adw-monitor and adw-state topics.
	FastInterval time.Duration

	// HistoryInterval is the watcher cadence for workflow-history.
	HistoryInterval time.Duration

	// StatusInterval is the watcher cadence for system-status and
	// webhook-status.
	StatusInterval time.Duration

	// SlowInterval is the watcher cadence for routes and
	// planned-features.
	SlowInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.SendQueueDepth == 0 {
		c.SendQueueDepth = 64
	}
	if c.FastInterval == 0 {
		c.FastInterval = 2 * time.Second
	}
	if c.HistoryInterval == 0 {
		c.HistoryInterval = 10 * time.Second
	}
	if c.StatusInterval == 0 {
		c.StatusInterval = 15 * time.Second
	}
	if c.SlowInterval == 0 {
		c.SlowInterval = 30 * time.Second
	}
}

// Hub is the fan-out point for all real-time subscribers.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu        sync.RWMutex
	subs      map[string]map[*subscriber]struct{}
	providers map[string]SnapshotProvider
	watchers  map[string]*watcher

	// stateProvider builds providers for dynamic adw-state topics.
	stateProvider func(adwID string) SnapshotProvider

	// onPublish observes every published frame, for metrics.
	onPublish func(topic string)

	ctx     context.Context
	started bool
}

// New creates a hub with the given configuration.
func New(cfg Config, logger *slog.Logger) *Hub {
	cfg.applyDefaults()
	return &Hub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			// The trust boundary is the upstream tunnel; any origin
			// that reaches the listener is accepted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs:      make(map[string]map[*subscriber]struct{}),
		providers: make(map[string]SnapshotProvider),
		watchers:  make(map[string]*watcher),
	}
}

// RegisterProvider attaches a snapshot provider to a static topic.
func (h *Hub) RegisterProvider(topic string, provider SnapshotProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers[topic] = provider
}

// SetStateProvider attaches the provider factory for adw-state topics.
func (h *Hub) SetStateProvider(factory func(adwID string) SnapshotProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stateProvider = factory
}

// Start launches the watchers for every registered static topic. It
// must be called once before serving subscribers.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("hub already started")
	}
	h.started = true
	h.ctx = ctx

	for topic, provider := range h.providers {
		w := newWatcher(topic, provider, h.intervalFor(topic), h, h.logger)
		h.watchers[topic] = w
		// Prime the baseline before the loop so the first tick only
		// publishes a real change.
		w.poll(ctx, false)
		go w.run(ctx)
	}
	return nil
}

// intervalFor maps a topic to its watcher cadence.
func (h *Hub) intervalFor(topic string) time.Duration {
	switch topic {
	case TopicWorkflows, TopicQueue, TopicMonitor:
		return h.cfg.FastInterval
	case TopicHistory:
		return h.cfg.HistoryInterval
	case TopicSystemStatus, TopicWebhookStatus:
		return h.cfg.StatusInterval
	default:
		if adwStateID(topic) != "" {
			return h.cfg.FastInterval
		}
		return h.cfg.SlowInterval
	}
}

// Nudge asks a topic's watcher to poll immediately, ahead of its
// cadence. Unknown topics are ignored.
func (h *Hub) Nudge(topic string) {
	h.mu.RLock()
	w := h.watchers[topic]
	h.mu.RUnlock()
	if w != nil {
		w.nudge()
	}
}

// Publish fans a delta snapshot out to every subscriber of a topic.
// Per-topic ordering follows call order; there is no cross-topic
// ordering guarantee.
func (h *Hub) Publish(topic string, data any) {
	frame := Frame{Type: FrameType(topic), Data: data}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs[topic]))
	for sub := range h.subs[topic] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.enqueue(frame)
	}
	if h.onPublish != nil && len(targets) > 0 {
		h.onPublish(topic)
	}
}

// SetOnPublish registers the publish observer.
func (h *Hub) SetOnPublish(fn func(topic string)) {
	h.onPublish = fn
}

// TotalSubscribers returns the live subscriber count across topics.
func (h *Hub) TotalSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.subs {
		total += len(set)
	}
	return total
}

// SubscriberCount returns the live subscriber count for a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// ServeTopic upgrades an HTTP request into a topic subscription: it
// sends the initial snapshot, then keeps the connection open for
// deltas. The hub never blocks waiting for client input.
func (h *Hub) ServeTopic(w http.ResponseWriter, r *http.Request, topic string) {
	if !ValidTopic(topic) {
		http.Error(w, "unknown topic", http.StatusNotFound)
		return
	}

	provider, err := h.providerFor(topic)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed",
			slog.String(log.TopicKey, topic),
			log.Error(err))
		return
	}

	sub := newSubscriber(topic, conn, h.cfg.SendQueueDepth, h.logger)

	// Snapshot before registration so the first frame a client sees is
	// the full state, never a delta.
	snapshot, err := provider(r.Context())
	if err != nil {
		h.logger.Warn("initial snapshot failed",
			slog.String(log.TopicKey, topic),
			log.Error(err))
		conn.Close()
		return
	}
	sub.enqueue(Frame{Type: FrameType(topic), Data: snapshot})

	h.register(sub, provider)

	go sub.writePump(h.unregister)
	go sub.readPump(h.unregister)

	h.logger.Debug("subscriber connected",
		slog.String(log.TopicKey, topic),
		slog.String("remote", r.RemoteAddr))
}

// providerFor resolves the snapshot provider, constructing one for
// dynamic adw-state topics.
func (h *Hub) providerFor(topic string) (SnapshotProvider, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if provider, ok := h.providers[topic]; ok {
		return provider, nil
	}
	if id := adwStateID(topic); id != "" && h.stateProvider != nil {
		return h.stateProvider(id), nil
	}
	return nil, fmt.Errorf("no provider for topic %s", topic)
}

// register adds a subscriber, starting a dynamic watcher for adw-state
// topics on first use.
func (h *Hub) register(sub *subscriber, provider SnapshotProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[sub.topic] == nil {
		h.subs[sub.topic] = make(map[*subscriber]struct{})
	}
	h.subs[sub.topic][sub] = struct{}{}

	if _, running := h.watchers[sub.topic]; !running && adwStateID(sub.topic) != "" && h.started {
		w := newWatcher(sub.topic, provider, h.cfg.FastInterval, h, h.logger)
		h.watchers[sub.topic] = w
		w.poll(h.ctx, false)
		go w.run(h.ctx)
	}
}

// unregister prunes a subscriber; the last subscriber of a dynamic
// topic stops its watcher.
func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[sub.topic]
	if set == nil {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)

	if len(set) == 0 {
		delete(h.subs, sub.topic)
		if adwStateID(sub.topic) != "" {
			if w := h.watchers[sub.topic]; w != nil {
				w.stop()
				delete(h.watchers, sub.topic)
			}
		}
	}

	h.logger.Debug("subscriber disconnected",
		slog.String(log.TopicKey, sub.topic))
}

// Shutdown closes every subscriber connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var all []*subscriber
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.subs = make(map[string]map[*subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range all {
		sub.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second),
		)
		sub.close()
	}
}
