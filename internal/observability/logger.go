// Package observability provides structured logging for tpoint.
//
// Every migration decision emits one event: run id, migration id, outcome,
// operation count, duration and error (if any).
package observability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Outcomes of a migration decision.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFaked   = "faked"
	OutcomeFailed  = "failed"
)

// NewLogger builds a zap logger from a level and a format.
// Format "console" selects the development encoder; anything else is JSON.
func NewLogger(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// MigrationEvent contains all fields logged for one migration decision.
type MigrationEvent struct {
	// RunID groups the events of one invocation.
	RunID string

	// MigrationID is the migration the decision is about.
	MigrationID string

	// Outcome is one of the Outcome constants.
	Outcome string

	// Operations is the number of operations executed (0 when skipped).
	Operations int

	// Duration is how long the decision took. Must be non-negative.
	Duration time.Duration

	// Reason explains a skip, e.g. a concurrent runner won the ledger race.
	Reason string

	// Error is the failure message; empty unless Outcome is failed.
	Error string
}

// Validate checks that all required fields are present.
func (e *MigrationEvent) Validate() error {
	if e.RunID == "" {
		return fmt.Errorf("observability: run_id is required")
	}
	if e.MigrationID == "" {
		return fmt.Errorf("observability: migration_id is required")
	}
	switch e.Outcome {
	case OutcomeApplied, OutcomeSkipped, OutcomeFaked, OutcomeFailed:
	default:
		return fmt.Errorf("observability: unknown outcome %q", e.Outcome)
	}
	if e.Duration < 0 {
		return fmt.Errorf("observability: duration cannot be negative")
	}
	return nil
}

// Recorder receives migration events.
type Recorder interface {
	// Record logs one event. Returns an error if the event is invalid.
	Record(ctx context.Context, event MigrationEvent) error

	// Summary returns counts of the events recorded so far.
	Summary() *Summary
}

// Summary aggregates recorded events.
type Summary struct {
	Applied int      `json:"applied"`
	Skipped int      `json:"skipped"`
	Faked   int      `json:"faked"`
	Failed  int      `json:"failed"`
	Total   int      `json:"total"`
	Failing []string `json:"failing"`
}

// ZapRecorder implements Recorder on a zap logger.
type ZapRecorder struct {
	logger *zap.Logger
	events []MigrationEvent
	mu     sync.RWMutex
}

// NewZapRecorder creates a recorder writing to logger.
func NewZapRecorder(logger *zap.Logger) *ZapRecorder {
	return &ZapRecorder{
		logger: logger,
		events: make([]MigrationEvent, 0),
	}
}

// Record logs an event at info level, or error level when it failed.
func (r *ZapRecorder) Record(ctx context.Context, event MigrationEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := event.Validate(); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("run_id", event.RunID),
		zap.String("migration_id", event.MigrationID),
		zap.String("outcome", event.Outcome),
		zap.Int("operations", event.Operations),
		zap.Duration("duration", event.Duration),
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}

	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
		r.logger.Error("migration", fields...)
	} else {
		r.logger.Info("migration", fields...)
	}

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// Summary returns counts of the recorded events.
func (r *ZapRecorder) Summary() *Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return summarize(r.events)
}

// Events returns a copy of the recorded events.
func (r *ZapRecorder) Events() []MigrationEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MigrationEvent, len(r.events))
	copy(out, r.events)
	return out
}

func summarize(events []MigrationEvent) *Summary {
	s := &Summary{Failing: []string{}}
	for _, e := range events {
		s.Total++
		switch e.Outcome {
		case OutcomeApplied:
			s.Applied++
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeFaked:
			s.Faked++
		case OutcomeFailed:
			s.Failed++
			s.Failing = append(s.Failing, e.MigrationID)
		}
	}
	sort.Strings(s.Failing)
	return s
}

// NoopRecorder discards all events.
// Useful for testing or when logging is disabled.
type NoopRecorder struct{}

// NewNoopRecorder creates a new no-op recorder.
func NewNoopRecorder() *NoopRecorder {
	return &NoopRecorder{}
}

// Record does nothing and always succeeds.
func (r *NoopRecorder) Record(ctx context.Context, event MigrationEvent) error {
	return nil
}

// Summary returns an empty summary.
func (r *NoopRecorder) Summary() *Summary {
	return &Summary{Failing: []string{}}
}
