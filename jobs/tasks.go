package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/warden-gate/warden-gate/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditAppend is the task type for persisting audit entries.
	TaskAuditAppend = "audit:append"
)

// NewAuditAppendTask constructs an Asynq task carrying one audit entry.
func NewAuditAppendTask(entry audit.Entry) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditAppend, data), nil
}

// LogAppender persists audit entries.
type LogAppender interface {
	AppendLog(ctx context.Context, entry audit.Entry) error
}

// NewAuditAppendHandler returns the handler processing TaskAuditAppend tasks.
func NewAuditAppendHandler(appender LogAppender, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var entry audit.Entry
		if err := json.Unmarshal(t.Payload(), &entry); err != nil {
			logger.Error("audit append payload malformed", slog.Any("error", err))
			return asynq.SkipRetry
		}
		if err := appender.AppendLog(ctx, entry); err != nil {
			logger.Warn("audit append retrying",
				slog.String("entry_id", entry.ID), slog.Any("error", err))
			return err
		}
		return nil
	}
}
