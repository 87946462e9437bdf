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

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the orchestrator's Prometheus metric set.
type Metrics struct {
	registry *prometheus.Registry

	BroadcastFrames *prometheus.CounterVec
	Dispatches      prometheus.Counter
	SyncDuration    prometheus.Histogram
	SyncRecords     prometheus.Counter
	SyncFailures    prometheus.Counter
}

func newMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		BroadcastFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adwd_broadcast_frames_total",
			Help: "Frames published to subscribers, by topic.",
		}, []string{"topic"}),
		Dispatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "adwd_workflow_dispatches_total",
			Help: "Workflows handed to the dispatcher.",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "adwd_history_sync_duration_seconds",
			Help:    "Duration of history sync passes.",
			Buckets: prometheus.DefBuckets,
		}),
		SyncRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "adwd_history_sync_records_total",
			Help: "Records upserted by history sync passes.",
		}),
		SyncFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "adwd_history_sync_failures_total",
			Help: "Records that failed to index.",
		}),
	}
}

// ObserveSync records the outcome of one sync pass.
func (m *Metrics) ObserveSync(d time.Duration, upserted, failed int) {
	m.SyncDuration.Observe(d.Seconds())
	m.SyncRecords.Add(float64(upserted))
	m.SyncFailures.Add(float64(failed))
}

// RegisterWebhookStats exposes the in-memory webhook counters as
// counter functions sampling the stats snapshot.
func (m *Metrics) RegisterWebhookStats(received, succeeded, failed func() float64) {
	factory := promauto.With(m.registry)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "adwd_webhooks_received_total",
		Help: "Webhook events received.",
	}, received)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "adwd_webhooks_succeeded_total",
		Help: "Webhook events that dispatched a workflow.",
	}, succeeded)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "adwd_webhooks_failed_total",
		Help: "Webhook events that failed.",
	}, failed)
}

// RegisterQueueDepth exposes the pending dispatch queue length.
func (m *Metrics) RegisterQueueDepth(depth func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "adwd_dispatch_queue_depth",
		Help: "Pending workflow spawns.",
	}, depth)
}

// RegisterSubscriberCount exposes the live subscriber total.
func (m *Metrics) RegisterSubscriberCount(count func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "adwd_subscribers",
		Help: "Live duplex-stream subscribers.",
	}, count)
}
