package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Enqueuer hands an entry to the background queue.
type Enqueuer interface {
	EnqueueAuditAppend(ctx context.Context, entry Entry) error
}

// Appender writes an entry to the store synchronously.
type Appender interface {
	AppendLog(ctx context.Context, entry Entry) error
}

// Dispatcher records audit entries without blocking the caller's response
// path. The happy path enqueues a background task; when the queue is
// unavailable the entry is appended synchronously so that every dispatched
// evaluation still yields exactly one stored entry. A write failure is
// surfaced to the operational log only — the access decision already
// computed must not change because audit-write failed.
type Dispatcher struct {
	queue  Enqueuer
	store  Appender
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher builds a dispatcher. queue may be nil, in which case every
// entry is appended synchronously.
func NewDispatcher(queue Enqueuer, store Appender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: queue, store: store, logger: logger, now: time.Now}
}

// Dispatch records one access-decision outcome. Never returns an error:
// failures land in the operational log.
func (d *Dispatcher) Dispatch(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = d.now()
	}

	// Detach from the request context so an already-finished request does
	// not cancel the write.
	ctx = context.WithoutCancel(ctx)

	if d.queue != nil {
		err := d.queue.EnqueueAuditAppend(ctx, entry)
		if err == nil {
			return
		}
		d.logger.Warn("audit enqueue failed, falling back to sync append",
			slog.String("entry_id", entry.ID), slog.Any("error", err))
	}
	if d.store == nil {
		d.logger.Error("audit entry dropped: no appender configured", slog.String("entry_id", entry.ID))
		return
	}
	if err := d.store.AppendLog(ctx, entry); err != nil {
		d.logger.Error("audit append failed",
			slog.String("entry_id", entry.ID),
			slog.String("user_id", entry.UserID),
			slog.String("permission_id", entry.PermissionID),
			slog.Any("error", err))
	}
}
