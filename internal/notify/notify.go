// Package notify delivers user notifications through a River job queue.
// Delivery is fire-and-forget: enqueue failures are logged and never block
// the state transition that triggered them.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/kerjalink/backend/internal/models"
)

type DeliverArgs struct {
	UserID    uuid.UUID  `json:"user_id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	RelatedID *uuid.UUID `json:"related_id,omitempty"`
}

func (DeliverArgs) Kind() string { return "deliver_notification" }

// Sink persists a delivered notification.
type Sink interface {
	Insert(ctx context.Context, n *models.Notification) error
}

// DeliverWorker is the River worker that writes notifications to the sink.
type DeliverWorker struct {
	river.WorkerDefaults[DeliverArgs]
	sink   Sink
	logger *slog.Logger
}

func NewDeliverWorker(sink Sink, logger *slog.Logger) *DeliverWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliverWorker{sink: sink, logger: logger}
}

func (w *DeliverWorker) Work(ctx context.Context, job *river.Job[DeliverArgs]) error {
	args := job.Args
	n := &models.Notification{
		ID:        uuid.New(),
		UserID:    args.UserID,
		Title:     args.Title,
		Message:   args.Message,
		Type:      args.Type,
		RelatedID: args.RelatedID,
	}
	if err := w.sink.Insert(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// InsertFunc enqueues a DeliverArgs job; main wires it to river.Client.Insert.
type InsertFunc func(ctx context.Context, args DeliverArgs) error

// Notifier is the sink handed to the lifecycle, ledger and escrow services.
// Its methods never return errors; a failed enqueue is logged and dropped.
type Notifier struct {
	insert InsertFunc
	logger *slog.Logger
}

func NewNotifier(insert InsertFunc, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{insert: insert, logger: logger}
}

// Notify enqueues a notification for userID.
func (n *Notifier) Notify(ctx context.Context, userID uuid.UUID, title, message, typ string, relatedID *uuid.UUID) {
	if n == nil || n.insert == nil {
		return
	}
	err := n.insert(ctx, DeliverArgs{
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      typ,
		RelatedID: relatedID,
	})
	if err != nil {
		n.logger.Warn("notification enqueue failed", "user_id", userID, "type", typ, "error", err)
	}
}
