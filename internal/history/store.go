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
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/warmonger0/adwd/internal/state"
)

// Store is the SQLite-backed workflow history database. All writes are
// funneled through a single writer goroutine; reads run concurrently
// against the WAL.
type Store struct {
	db *sql.DB

	writeCh   chan writeOp
	writerWG  sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

type writeOp struct {
	fn     func(db *sql.DB) error
	result chan error
}

// StoreConfig contains history database configuration.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" creates an
	// in-memory database.
	Path string
}

// NewStore opens (and migrates) the history database.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		db:      db,
		writeCh: make(chan writeOp),
		closed:  make(chan struct{}),
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.writerWG.Add(1)
	go s.writer()

	return s, nil
}

// writer serializes all database writes.
func (s *Store) writer() {
	defer s.writerWG.Done()
	for {
		select {
		case <-s.closed:
			return
		case op := <-s.writeCh:
			op.result <- op.fn(s.db)
		}
	}
}

// submitWrite runs fn on the single writer goroutine.
func (s *Store) submitWrite(ctx context.Context, fn func(db *sql.DB) error) error {
	op := writeOp{fn: fn, result: make(chan error, 1)}
	select {
	case <-s.closed:
		return fmt.Errorf("history store is closed")
	case <-ctx.Done():
		return ctx.Err()
	case s.writeCh <- op:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-op.result:
		return err
	}
}

// DB exposes the underlying handle for health checks and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close stops the writer and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writerWG.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflow_history (
			adw_id TEXT PRIMARY KEY,
			issue_id INTEGER,
			created_at TEXT NOT NULL,
			workflow_template TEXT NOT NULL,
			model_set TEXT,
			complexity_level TEXT,
			classification_type TEXT,
			status TEXT NOT NULL,
			start_time TEXT,
			completed_at TEXT,
			nl_input TEXT,
			structured_input TEXT,
			actual_cost_total REAL NOT NULL DEFAULT 0,
			estimated_cost_total REAL NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			total_duration_seconds REAL NOT NULL DEFAULT 0,
			steps_completed INTEGER NOT NULL DEFAULT 0,
			errors TEXT NOT NULL DEFAULT '[]',
			phase_metrics TEXT NOT NULL DEFAULT '[]',
			nl_input_clarity_score REAL NOT NULL DEFAULT 0,
			cost_efficiency_score REAL NOT NULL DEFAULT 0,
			performance_score REAL NOT NULL DEFAULT 0,
			quality_score REAL NOT NULL DEFAULT 0,
			anomaly_flags TEXT NOT NULL DEFAULT '[]',
			optimization_recommendations TEXT NOT NULL DEFAULT '[]',
			similar_workflow_ids TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_status ON workflow_history(status)`,
		`CREATE INDEX IF NOT EXISTS idx_history_created ON workflow_history(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_history_issue ON workflow_history(issue_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// historyColumns is the column list shared by every record query.
const historyColumns = `adw_id, issue_id, created_at, workflow_template, model_set,
	complexity_level, classification_type, status, start_time, completed_at,
	nl_input, structured_input, actual_cost_total, estimated_cost_total,
	input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
	retry_count, total_duration_seconds, steps_completed, errors, phase_metrics,
	nl_input_clarity_score, cost_efficiency_score, performance_score, quality_score,
	anomaly_flags, optimization_recommendations, similar_workflow_ids`

// Upsert inserts or replaces the row for a record. Serialization is
// deterministic so re-upserting an unchanged record leaves the row
// byte-identical.
func (s *Store) Upsert(ctx context.Context, rec *state.Record) error {
	structuredInput, err := marshalMap(rec.StructuredInput)
	if err != nil {
		return fmt.Errorf("failed to marshal structured input: %w", err)
	}
	errorsJSON := marshalList(rec.Errors)
	phasesJSON := marshalList(rec.PhaseMetrics)
	flagsJSON := marshalList(rec.AnomalyFlags)
	recsJSON := marshalList(rec.OptimizationRecommendations)
	similarJSON := marshalList(rec.SimilarWorkflowIDs)

	return s.submitWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO workflow_history (`+historyColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(adw_id) DO UPDATE SET
				issue_id = excluded.issue_id,
				created_at = excluded.created_at,
				workflow_template = excluded.workflow_template,
				model_set = excluded.model_set,
				complexity_level = excluded.complexity_level,
				classification_type = excluded.classification_type,
				status = excluded.status,
				start_time = excluded.start_time,
				completed_at = excluded.completed_at,
				nl_input = excluded.nl_input,
				structured_input = excluded.structured_input,
				actual_cost_total = excluded.actual_cost_total,
				estimated_cost_total = excluded.estimated_cost_total,
				input_tokens = excluded.input_tokens,
				output_tokens = excluded.output_tokens,
				cache_read_tokens = excluded.cache_read_tokens,
				cache_creation_tokens = excluded.cache_creation_tokens,
				retry_count = excluded.retry_count,
				total_duration_seconds = excluded.total_duration_seconds,
				steps_completed = excluded.steps_completed,
				errors = excluded.errors,
				phase_metrics = excluded.phase_metrics,
				nl_input_clarity_score = excluded.nl_input_clarity_score,
				cost_efficiency_score = excluded.cost_efficiency_score,
				performance_score = excluded.performance_score,
				quality_score = excluded.quality_score,
				anomaly_flags = excluded.anomaly_flags,
				optimization_recommendations = excluded.optimization_recommendations,
				similar_workflow_ids = excluded.similar_workflow_ids`,
			rec.ADWID, rec.IssueID, rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.WorkflowTemplate, rec.ModelSet,
			rec.ComplexityLevel, rec.ClassificationType, string(rec.Status),
			formatTime(rec.StartTime), formatTime(rec.CompletedAt),
			rec.NLInput, structuredInput, rec.ActualCostTotal, rec.EstimatedCostTotal,
			rec.InputTokens, rec.OutputTokens, rec.CacheReadTokens, rec.CacheCreationTokens,
			rec.RetryCount, rec.TotalDurationSeconds, rec.StepsCompleted, errorsJSON, phasesJSON,
			rec.NLInputClarityScore, rec.CostEfficiencyScore, rec.PerformanceScore, rec.QualityScore,
			flagsJSON, recsJSON, similarJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert workflow %s: %w", rec.ADWID, err)
		}
		return nil
	})
}

// UpdateCosts rewrites only the cost columns of an existing row. Used by
// resync; it never inserts.
func (s *Store) UpdateCosts(ctx context.Context, rec *state.Record) error {
	phasesJSON := marshalList(rec.PhaseMetrics)
	return s.submitWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE workflow_history SET
				actual_cost_total = ?,
				estimated_cost_total = ?,
				input_tokens = ?,
				output_tokens = ?,
				cache_read_tokens = ?,
				cache_creation_tokens = ?,
				retry_count = ?,
				phase_metrics = ?
			WHERE adw_id = ?`,
			rec.ActualCostTotal, rec.EstimatedCostTotal,
			rec.InputTokens, rec.OutputTokens, rec.CacheReadTokens, rec.CacheCreationTokens,
			rec.RetryCount, phasesJSON, rec.ADWID,
		)
		if err != nil {
			return fmt.Errorf("failed to update costs for %s: %w", rec.ADWID, err)
		}
		return nil
	})
}

// Query filters a history listing.
type Query struct {
	// Status filters by lifecycle state when non-empty.
	Status string

	// Search matches a substring of nl_input when non-empty.
	Search string

	// Limit bounds the page size; zero means 50.
	Limit int

	// Offset skips rows for pagination.
	Offset int
}

const defaultPageSize = 50

// List returns one page of history ordered by created_at descending,
// plus the total matching row count.
func (s *Store) List(ctx context.Context, q Query) ([]*state.Record, int, error) {
	var conditions []string
	var args []any
	if q.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, q.Status)
	}
	if q.Search != "" {
		conditions = append(conditions, "nl_input LIKE ?")
		args = append(args, "%"+q.Search+"%")
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM workflow_history"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM workflow_history"+where+
			" ORDER BY created_at DESC, adw_id LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Get returns one record by adw_id, or nil when absent.
func (s *Store) Get(ctx context.Context, adwID string) (*state.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM workflow_history WHERE adw_id = ?", adwID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow %s: %w", adwID, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// maxBatchIDs bounds a single batch fetch.
const maxBatchIDs = 20

// BatchGet returns the records for up to twenty adw_ids, preserving the
// request order. Unknown IDs are omitted.
func (s *Store) BatchGet(ctx context.Context, ids []string) ([]*state.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > maxBatchIDs {
		return nil, fmt.Errorf("batch limited to %d ids, got %d", maxBatchIDs, len(ids))
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM workflow_history WHERE adw_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch query history: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*state.Record, len(records))
	for _, rec := range records {
		byID[rec.ADWID] = rec
	}
	ordered := make([]*state.Record, 0, len(records))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			ordered = append(ordered, rec)
		}
	}
	return ordered, nil
}

// CompletedIDs returns the adw_ids of all completed workflows, for the
// resync pass.
func (s *Store) CompletedIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT adw_id FROM workflow_history WHERE status = ?", string(state.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to query completed workflows: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan adw_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Analytics is the on-demand aggregate view of the history.
type Analytics struct {
	TotalWorkflows      int     `json:"total_workflows"`
	Completed           int     `json:"completed"`
	Failed              int     `json:"failed"`
	Stopped             int     `json:"stopped"`
	Active              int     `json:"active"`
	SuccessRate         float64 `json:"success_rate"`
	TotalActualCost     float64 `json:"total_actual_cost"`
	MeanDurationSeconds float64 `json:"mean_duration_seconds"`
}

// ComputeAnalytics aggregates totals, success rate and mean duration.
func (s *Store) ComputeAnalytics(ctx context.Context) (*Analytics, error) {
	a := &Analytics{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'stopped' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(actual_cost_total), 0),
			COALESCE(AVG(NULLIF(total_duration_seconds, 0)), 0)
		FROM workflow_history`).Scan(
		&a.TotalWorkflows, &a.Completed, &a.Failed, &a.Stopped,
		&a.TotalActualCost, &a.MeanDurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to compute analytics: %w", err)
	}

	a.Active = a.TotalWorkflows - a.Completed - a.Failed - a.Stopped
	terminal := a.Completed + a.Failed + a.Stopped
	if terminal > 0 {
		a.SuccessRate = float64(a.Completed) / float64(terminal)
	}
	return a, nil
}

// scanRecords reads record rows into the domain type.
func scanRecords(rows *sql.Rows) ([]*state.Record, error) {
	var records []*state.Record
	for rows.Next() {
		var rec state.Record
		var status string
		var createdAt string
		var startTime, completedAt sql.NullString
		var structuredInput, errorsJSON, phasesJSON, flagsJSON, recsJSON, similarJSON string

		if err := rows.Scan(
			&rec.ADWID, &rec.IssueID, &createdAt, &rec.WorkflowTemplate, &rec.ModelSet,
			&rec.ComplexityLevel, &rec.ClassificationType, &status, &startTime, &completedAt,
			&rec.NLInput, &structuredInput, &rec.ActualCostTotal, &rec.EstimatedCostTotal,
			&rec.InputTokens, &rec.OutputTokens, &rec.CacheReadTokens, &rec.CacheCreationTokens,
			&rec.RetryCount, &rec.TotalDurationSeconds, &rec.StepsCompleted, &errorsJSON, &phasesJSON,
			&rec.NLInputClarityScore, &rec.CostEfficiencyScore, &rec.PerformanceScore, &rec.QualityScore,
			&flagsJSON, &recsJSON, &similarJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		rec.Status = state.Status(status)
		rec.CreatedAt = parseTime(createdAt)
		rec.StartTime = parseNullTime(startTime)
		rec.CompletedAt = parseNullTime(completedAt)

		if structuredInput != "" && structuredInput != "null" {
			_ = json.Unmarshal([]byte(structuredInput), &rec.StructuredInput)
		}
		_ = json.Unmarshal([]byte(errorsJSON), &rec.Errors)
		_ = json.Unmarshal([]byte(phasesJSON), &rec.PhaseMetrics)
		_ = json.Unmarshal([]byte(flagsJSON), &rec.AnomalyFlags)
		_ = json.Unmarshal([]byte(recsJSON), &rec.OptimizationRecommendations)
		_ = json.Unmarshal([]byte(similarJSON), &rec.SimilarWorkflowIDs)

		records = append(records, &rec)
	}
	return records, rows.Err()
}

// marshalList serializes a slice deterministically, mapping nil to "[]"
// so repeated upserts stay byte-identical.
func marshalList[T any](list []T) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
