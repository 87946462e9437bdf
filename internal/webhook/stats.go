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

package webhook

import (
	"sync"
	"time"
)

// maxRecentFailures bounds the recent-failure ring.
const maxRecentFailures = 25

// Failure is one recorded ingestion failure.
type Failure struct {
	At      time.Time `json:"at"`
	Excerpt string    `json:"excerpt"`
}

// Success identifies the last successfully dispatched workflow.
type Success struct {
	At       time.Time `json:"at"`
	ADWID    string    `json:"adw_id"`
	Workflow string    `json:"workflow"`
}

// Stats holds in-memory webhook counters. They reset on restart.
type Stats struct {
	mu          sync.Mutex
	startedAt   time.Time
	received    uint64
	succeeded   uint64
	failed      uint64
	ignored     uint64
	failures    []Failure
	lastSuccess *Success
}

// NewStats creates a stats tracker anchored at now.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now().UTC()}
}

// Received counts an incoming event.
func (s *Stats) Received() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++
}

// Ignored counts an event that was filtered or carried no command.
func (s *Stats) Ignored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignored++
}

// Succeeded records a successful dispatch.
func (s *Stats) Succeeded(adwID, workflow string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded++
	s.lastSuccess = &Success{
		At:       time.Now().UTC(),
		ADWID:    adwID,
		Workflow: workflow,
	}
}

// Failed records an ingestion failure with a short excerpt.
func (s *Stats) Failed(excerpt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.failures = append(s.failures, Failure{
		At:      time.Now().UTC(),
		Excerpt: excerpt,
	})
	if len(s.failures) > maxRecentFailures {
		s.failures = s.failures[len(s.failures)-maxRecentFailures:]
	}
}

// Snapshot is the status view of the stats.
type Snapshot struct {
	UptimeSeconds  float64   `json:"uptime_seconds"`
	Received       uint64    `json:"received"`
	Succeeded      uint64    `json:"succeeded"`
	Failed         uint64    `json:"failed"`
	Ignored        uint64    `json:"ignored"`
	RecentFailures []Failure `json:"recent_failures"`
	LastSuccess    *Success  `json:"last_success,omitempty"`
}

// Snapshot returns a copy of the current stats.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	failures := make([]Failure, len(s.failures))
	copy(failures, s.failures)

	var last *Success
	if s.lastSuccess != nil {
		cp := *s.lastSuccess
		last = &cp
	}

	return Snapshot{
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		Received:       s.received,
		Succeeded:      s.succeeded,
		Failed:         s.failed,
		Ignored:        s.ignored,
		RecentFailures: failures,
		LastSuccess:    last,
	}
}
