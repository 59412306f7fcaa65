// Package audit records one structured event per enforcement stage.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage names.
const (
	StageSchemaDerived       = "schema_derived"
	StageValidationRun       = "validation_run"
	StageDuplicateSuppressed = "duplicate_suppressed"
	StageWriteAttempted      = "write_attempted"
	StageWriteSucceeded      = "write_succeeded"
	StageWriteFailed         = "write_failed"
)

// Event statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Event is one audit record.
type Event struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Path       string    `json:"path,omitempty"`
	TemplateID string    `json:"template_id,omitempty"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
}

// NewEvent returns an event with a fresh id.
func NewEvent(now time.Time, runID, stage, status string) Event {
	return Event{ID: uuid.NewString(), Time: now, RunID: runID, Stage: stage, Status: status}
}

// Sink consumes audit events. Sinks must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Memory keeps events in memory.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Record appends ev.
func (m *Memory) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Log writes events to a slog.Logger.
type Log struct {
	Logger *slog.Logger
}

// Record logs ev at info level, or warn when it failed.
func (l Log) Record(ctx context.Context, ev Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if ev.Status == StatusFailed {
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx, level, "audit: "+ev.Stage,
		slog.String("run_id", ev.RunID),
		slog.String("path", ev.Path),
		slog.String("template", ev.TemplateID),
		slog.String("status", ev.Status),
		slog.String("detail", ev.Detail))
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

// Record forwards ev to each sink.
func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = (*Memory)(nil)
	_ Sink = Log{}
	_ Sink = Multi(nil)
	_ Sink = (*SQLite)(nil)
)
