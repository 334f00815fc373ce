package service

import (
	"context"
	"log/slog"

	"github.com/bark-labs/pushdispatch/internal/metrics"
	"github.com/bark-labs/pushdispatch/internal/model"
	"github.com/bark-labs/pushdispatch/internal/storage"
)

// AuditLogger appends one dispatch log row per invocation. Writes are
// best-effort: failures are logged and counted, never returned.
type AuditLogger struct {
	store   storage.AuditStore
	metrics *metrics.Registry
	logger  *slog.Logger
}

func NewAuditLogger(store storage.AuditStore, reg *metrics.Registry, logger *slog.Logger) *AuditLogger {
	return &AuditLogger{store: store, metrics: reg, logger: logger}
}

// Record stores the criteria as submitted, the content, and the counts of res.
func (a *AuditLogger) Record(ctx context.Context, invocationID string, target model.TargetSpec, payload model.NotificationPayload, res model.DispatchResult) {
	entry := &model.DispatchLogEntry{
		InvocationID:   invocationID,
		Target:         target,
		Title:          payload.Title,
		Body:           payload.Body,
		Image:          payload.Image,
		Data:           payload.Data,
		Priority:       payload.Priority,
		RequestedCount: res.RequestedTokenCount,
		SuccessCount:   res.SuccessCount,
		FailureCount:   res.FailureCount,
		Errors:         res.FailureMessages(),
	}
	if err := a.store.AppendDispatchLog(ctx, entry); err != nil {
		a.metrics.IncAuditFailure()
		a.logger.Error("append dispatch log",
			slog.String("invocation_id", invocationID),
			slog.Any("error", err))
	}
}
