package logging

import (
	"context"
	"log/slog"

	"cosflow/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldGroupID is the standardized structured logging key for document group identifiers.
	FieldGroupID = "group_id"
	// FieldCirculationID identifies the evaluation round a line belongs to.
	FieldCirculationID = "circulation_id"
	// FieldActorID is the standardized structured logging key for the acting user.
	FieldActorID = "actor_id"
	// FieldRequestID carries the HTTP request id assigned by the daemon.
	FieldRequestID = "request_id"
	// FieldEventType classifies a log line for filtering (e.g. "merge_fragment_skipped").
	FieldEventType = "event_type"
	// FieldErrorHint suggests the operator's next step.
	FieldErrorHint = "error_hint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if component, ok := services.ComponentFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldComponent, component))
	}
	if id, ok := services.GroupIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldGroupID, id))
	}
	if id, ok := services.ActorIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldActorID, id))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRequestID, rid))
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
