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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/warmonger0/adwd/internal/admission"
	"github.com/warmonger0/adwd/internal/dispatch"
	"github.com/warmonger0/adwd/internal/history"
	"github.com/warmonger0/adwd/internal/log"
	"github.com/warmonger0/adwd/internal/state"
)

const (
	// maxPayloadBytes bounds an incoming webhook body.
	maxPayloadBytes = 1 << 20

	// processTimeout bounds the asynchronous ingest pipeline per event.
	processTimeout = 60 * time.Second

	// maxDeliveries bounds the redelivery ring.
	maxDeliveries = 50
)

// Admitter runs the pre-flight checks for a proposed workflow.
type Admitter interface {
	Check(ctx context.Context, workflow string) *admission.Result
}

// Dispatcher spawns admitted workflows.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (string, error)
}

// Delivery is one stored raw webhook delivery, for redelivery.
type Delivery struct {
	ID          string    `json:"id"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"-"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Response is the synchronous webhook reply.
type Response struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler ingests webhook events. Parsing and filtering run
// synchronously; extraction, admission and dispatch proceed
// asynchronously after the HTTP response.
type Handler struct {
	mapping    *Mapping
	filter     *Filter
	classifier Classifier
	admitter   Admitter
	dispatcher Dispatcher
	poster     CommentPoster
	comments   *Comments
	stats      *Stats
	logger     *slog.Logger

	accepting atomic.Bool

	deliveryMu sync.Mutex
	deliveries []Delivery
}

// HandlerConfig wires the handler's collaborators.
type HandlerConfig struct {
	Mapping    *Mapping
	Filter     *Filter
	Classifier Classifier
	Admitter   Admitter
	Dispatcher Dispatcher
	Poster     CommentPoster
	Comments   *Comments
	Logger     *slog.Logger
}

// NewHandler creates a webhook handler that starts accepting.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		mapping:    cfg.Mapping,
		filter:     cfg.Filter,
		classifier: cfg.Classifier,
		admitter:   cfg.Admitter,
		dispatcher: cfg.Dispatcher,
		poster:     cfg.Poster,
		comments:   cfg.Comments,
		stats:      NewStats(),
		logger:     cfg.Logger,
	}
	h.accepting.Store(true)
	return h
}

// Stats exposes the in-memory counters.
func (h *Handler) Stats() *Stats {
	return h.stats
}

// SetAccepting toggles the ingest gate, backing the webhook service
// control surface.
func (h *Handler) SetAccepting(open bool) {
	h.accepting.Store(open)
}

// Accepting reports the gate state.
func (h *Handler) Accepting() bool {
	return h.accepting.Load()
}

// HandleWebhook handles POST /webhook with either application/json or
// form-encoded bodies; the latter wraps the JSON under a payload= key.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.accepting.Load() {
		writeResponse(w, http.StatusServiceUnavailable, Response{Status: "error", Detail: "webhook service is stopped"})
		return
	}

	h.stats.Received()

	body, contentType, err := readPayload(r)
	if err != nil {
		h.failWithLog(uuid.NewString(), fmt.Errorf("failed to read payload: %w", err))
		writeResponse(w, http.StatusBadRequest, Response{Status: "error", Detail: Excerpt(err)})
		return
	}

	deliveryID := h.storeDelivery(contentType, body)
	status, detail := h.ingest(deliveryID, body)

	code := http.StatusOK
	if status == "error" {
		code = http.StatusBadRequest
	}
	writeResponse(w, code, Response{Status: status, Detail: detail})
}

// ingest runs the synchronous half of the pipeline and hands accepted
// events to the asynchronous half.
func (h *Handler) ingest(deliveryID string, body []byte) (status, detail string) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		h.failWithLog(deliveryID, fmt.Errorf("malformed payload: %w", err))
		return "error", "malformed payload"
	}

	event, err := h.mapping.Map(payload)
	if err != nil {
		h.stats.Failed(Excerpt(err))
		if event != nil && event.IssueNumber > 0 {
			h.post(event.IssueNumber, h.comments.PayloadError(Excerpt(err), h.statusSummary()))
		} else {
			h.logger.Warn("event discarded",
				slog.String("delivery_id", deliveryID),
				log.Error(err))
		}
		return "error", "unmappable payload"
	}

	if !h.filter.Accept(event) {
		h.stats.Ignored()
		return "ignored", ""
	}

	go h.process(event)
	return "ok", ""
}

// process runs extraction, admission and dispatch for one event.
func (h *Handler) process(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	logger := h.logger.With(slog.Int(log.IssueKey, event.IssueNumber))

	extraction, err := Extract(ctx, event.Body, h.classifier)
	if err != nil {
		// Classifier failure is a non-fatal ignore.
		h.stats.Failed(Excerpt(err))
		logger.Warn("extraction failed", log.Error(err))
		h.post(event.IssueNumber, h.comments.ExtractionFailed(Excerpt(err), h.statusSummary()))
		return
	}
	if extraction == nil {
		h.stats.Ignored()
		logger.Debug("no workflow command in event")
		return
	}

	result := h.admitter.Check(ctx, extraction.Workflow)
	if !result.Admitted {
		h.stats.Failed(strings.Join(result.Reasons, "; "))
		logger.Info("admission rejected",
			slog.String(log.WorkflowKey, extraction.Workflow),
			slog.String("summary", result.Summary()))
		h.post(event.IssueNumber, h.comments.CannotStart(result.Reasons, result.Summary()))
		return
	}

	complexity := history.DetectComplexity(&state.Record{NLInput: event.Body})
	classification := extraction.Classification
	if classification == "" {
		classification = state.ClassificationFeature
	}

	adwID, err := h.dispatcher.Dispatch(ctx, dispatch.Request{
		ADWID:              extraction.ADWID,
		Template:           extraction.Workflow,
		IssueID:            event.IssueNumber,
		ModelSet:           extraction.ModelSet,
		ClassificationType: classification,
		NLInput:            event.Body,
		EstimatedCost:      EstimateCost(extraction.Workflow, extraction.ModelSet, complexity),
	})
	if err != nil {
		h.stats.Failed(Excerpt(err))
		logger.Error("dispatch failed", log.Error(err))
		h.post(event.IssueNumber, h.comments.DispatchFailed(Excerpt(err), h.statusSummary()))
		return
	}

	h.stats.Succeeded(adwID, extraction.Workflow)
	logger.Info("workflow dispatched",
		slog.String(log.ADWIDKey, adwID),
		slog.String(log.WorkflowKey, extraction.Workflow))
	h.post(event.IssueNumber, h.comments.Ack(adwID, extraction.Workflow, extraction.ModelSet))
}

// NotifySpawnFailure posts the diagnostic comment for a child that
// failed to start after dispatch.
func (h *Handler) NotifySpawnFailure(job *dispatch.Job, err error) {
	if job.IssueID <= 0 {
		return
	}
	h.post(job.IssueID, h.comments.DispatchFailed(Excerpt(err), h.statusSummary()))
}

// Redeliver re-runs ingestion for a stored delivery. An empty id
// replays the most recent one.
func (h *Handler) Redeliver(deliveryID string) error {
	h.deliveryMu.Lock()
	var found *Delivery
	if deliveryID == "" && len(h.deliveries) > 0 {
		found = &h.deliveries[len(h.deliveries)-1]
	} else {
		for i := range h.deliveries {
			if h.deliveries[i].ID == deliveryID {
				found = &h.deliveries[i]
				break
			}
		}
	}
	var body []byte
	if found != nil {
		body = append([]byte(nil), found.Body...)
		deliveryID = found.ID
	}
	h.deliveryMu.Unlock()

	if found == nil {
		return fmt.Errorf("delivery not found")
	}

	h.stats.Received()
	if status, detail := h.ingest(deliveryID, body); status == "error" {
		return fmt.Errorf("redelivery failed: %s", detail)
	}
	return nil
}

// Deliveries lists the stored deliveries, most recent last.
func (h *Handler) Deliveries() []Delivery {
	h.deliveryMu.Lock()
	defer h.deliveryMu.Unlock()
	out := make([]Delivery, len(h.deliveries))
	copy(out, h.deliveries)
	return out
}

func (h *Handler) storeDelivery(contentType string, body []byte) string {
	id := uuid.NewString()
	h.deliveryMu.Lock()
	defer h.deliveryMu.Unlock()

	h.deliveries = append(h.deliveries, Delivery{
		ID:          id,
		ContentType: contentType,
		Body:        body,
		ReceivedAt:  time.Now().UTC(),
	})
	if len(h.deliveries) > maxDeliveries {
		h.deliveries = h.deliveries[len(h.deliveries)-maxDeliveries:]
	}
	return id
}

// post sends a comment, logging failures. No event is silently
// discarded: when posting fails, the log entry carries the issue.
func (h *Handler) post(issue int, body string) {
	if issue <= 0 || h.poster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := h.poster.PostComment(ctx, issue, body); err != nil {
		h.logger.Warn("failed to post comment",
			slog.Int(log.IssueKey, issue),
			log.Error(err))
	}
}

// failWithLog counts a failure that cannot be surfaced to an issue.
func (h *Handler) failWithLog(deliveryID string, err error) {
	h.stats.Failed(Excerpt(err))
	h.logger.Warn("event discarded",
		slog.String("delivery_id", deliveryID),
		log.Error(err))
}

// statusSummary renders the one-line system status for comments.
func (h *Handler) statusSummary() string {
	snap := h.stats.Snapshot()
	return fmt.Sprintf("uptime %.0fs, %d received, %d dispatched, %d failed",
		snap.UptimeSeconds, snap.Received, snap.Succeeded, snap.Failed)
}

// readPayload extracts the raw JSON event from either content type.
func readPayload(r *http.Request) ([]byte, string, error) {
	contentType := r.Header.Get("Content-Type")
	r.Body = http.MaxBytesReader(nil, r.Body, maxPayloadBytes)

	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, contentType, fmt.Errorf("failed to parse form: %w", err)
		}
		payload := r.PostFormValue("payload")
		if payload == "" {
			return nil, contentType, fmt.Errorf("form body has no payload field")
		}
		return []byte(payload), contentType, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, contentType, err
	}
	return body, contentType, nil
}

func writeResponse(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
