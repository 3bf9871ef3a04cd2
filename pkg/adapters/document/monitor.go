package document

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/event"
)

// commandMonitor logs mongo commands at debug level and failures at warn.
func commandMonitor(logger *slog.Logger, manager string) *event.CommandMonitor {
	logger = logger.With("manager", manager)
	return &event.CommandMonitor{
		Started: func(ctx context.Context, e *event.CommandStartedEvent) {
			logger.DebugContext(ctx, "mongo command",
				"command", e.CommandName,
				"database", e.DatabaseName,
				"request_id", e.RequestID,
			)
		},
		Succeeded: func(ctx context.Context, e *event.CommandSucceededEvent) {
			logger.DebugContext(ctx, "mongo command succeeded",
				"command", e.CommandName,
				"request_id", e.RequestID,
				"elapsed", e.Duration,
			)
		},
		Failed: func(ctx context.Context, e *event.CommandFailedEvent) {
			logger.WarnContext(ctx, "mongo command failed",
				"command", e.CommandName,
				"request_id", e.RequestID,
				"elapsed", e.Duration,
				"error", e.Failure,
			)
		},
	}
}
