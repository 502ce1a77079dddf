package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID is the standardized structured logging key for pipeline run identifiers.
	FieldRunID = "run_id"
	// FieldShotID is the standardized structured logging key for shot identifiers.
	FieldShotID = "shot_id"
	// FieldStage is the standardized structured logging key for backend stage names.
	FieldStage = "stage"
	// FieldAttempt is the standardized structured logging key for poll attempt counters.
	FieldAttempt = "attempt"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey string

const (
	runIDKey  contextKey = "run_id"
	shotIDKey contextKey = "shot_id"
	stageKey  contextKey = "stage"
)

// WithRun annotates context with the run identifier.
func WithRun(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, runID)
}

// WithShot annotates context with the shot identifier.
func WithShot(ctx context.Context, shotID string) context.Context {
	if shotID == "" {
		return ctx
	}
	return context.WithValue(ctx, shotIDKey, shotID)
}

// WithStage annotates context with a backend stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	for _, key := range []contextKey{runIDKey, shotIDKey, stageKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, slog.String(string(key), v))
		}
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
