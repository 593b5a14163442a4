package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/patrckmello/zg-planner/internal/mail"
)

const (
	defaultBatchSize  = 50
	maxLastErrorChars = 500
)

var (
	itemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zgplanner_outbox_items_processed_total",
		Help: "Outbox rows processed, by kind and result.",
	}, []string{"kind", "result"})

	deliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zgplanner_outbox_delivery_attempts_total",
		Help: "Per-recipient delivery attempts, by result.",
	}, []string{"result"})
)

// Worker drains due outbox rows. It is single-flight: the scheduler registry
// fires it on a fixed interval with max_instances=1, so no row locking is
// needed on top of the status filter.
type Worker struct {
	repo      ItemRepository
	sender    mail.Sender
	log       *zap.Logger
	batchSize int
	now       func() time.Time
}

func NewWorker(repo ItemRepository, sender mail.Sender, logger *zap.Logger) *Worker {
	return &Worker{
		repo:      repo,
		sender:    sender,
		log:       logger.Named("outbox_worker"),
		batchSize: defaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessBatch delivers up to batchSize due rows, oldest first. Each row is
// handled independently; one row's failure never aborts the batch.
func (w *Worker) ProcessBatch(ctx context.Context) error {
	now := w.now()
	items, err := w.repo.FetchDue(ctx, now, w.batchSize)
	if err != nil {
		return fmt.Errorf("fetch due items: %w", err)
	}

	for i := range items {
		if err := w.processItem(ctx, &items[i]); err != nil {
			w.log.Error("item_processing_failed",
				zap.Int64("item_id", items[i].ID),
				zap.String("kind", string(items[i].Kind)),
				zap.Error(err))
		}
	}
	return nil
}

func (w *Worker) processItem(ctx context.Context, item *Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing item %d: %v", item.ID, r)
			w.park(ctx, item, err)
		}
	}()

	item.Attempts++

	recipients := item.RecipientList()
	if len(recipients) == 0 {
		// Nothing to deliver. Mark sent so the row leaves the queue but
		// stays in the table as an audit record.
		w.markSent(ctx, item)
		itemsProcessed.WithLabelValues(string(item.Kind), "dropped").Inc()
		return nil
	}

	payload := item.PayloadMap()
	rendered, err := Render(item.Kind, payload)
	if err != nil {
		w.park(ctx, item, err)
		itemsProcessed.WithLabelValues(string(item.Kind), "poison").Inc()
		return nil
	}

	var delivered int
	var lastErr error
	for _, to := range recipients {
		sendErr := w.sender.Send(mail.Message{
			To:          []string{to},
			Subject:     rendered.Subject,
			HTMLBody:    rendered.HTML,
			TextBody:    rendered.Text,
			Attachments: payloadAttachments(payload),
		})
		if sendErr != nil {
			lastErr = sendErr
			deliveryAttempts.WithLabelValues("failure").Inc()
			w.log.Warn("delivery_failed",
				zap.Int64("item_id", item.ID),
				zap.String("kind", string(item.Kind)),
				zap.Error(sendErr))
			continue
		}
		delivered++
		deliveryAttempts.WithLabelValues("success").Inc()
	}

	// Partial success counts as sent: re-delivering to the recipients that
	// already got the mail would be worse than skipping the ones that failed.
	if delivered > 0 {
		w.markSent(ctx, item)
		itemsProcessed.WithLabelValues(string(item.Kind), "sent").Inc()
		return nil
	}

	w.retryLater(ctx, item, lastErr)
	itemsProcessed.WithLabelValues(string(item.Kind), "retry").Inc()
	return nil
}

func (w *Worker) markSent(ctx context.Context, item *Item) {
	now := w.now()
	item.Status = StatusSent
	item.SentAt = &now
	item.LastError = ""
	item.UpdatedAt = now
	if err := w.repo.Update(ctx, item); err != nil {
		w.log.Error("mark_sent_failed", zap.Int64("item_id", item.ID), zap.Error(err))
	}
}

func (w *Worker) retryLater(ctx context.Context, item *Item, cause error) {
	now := w.now()
	next := now.Add(BackoffDelay(item.Attempts))
	item.NextAttemptAt = &next
	item.LastError = truncate(errString(cause), maxLastErrorChars)
	item.UpdatedAt = now
	if err := w.repo.Update(ctx, item); err != nil {
		w.log.Error("schedule_retry_failed", zap.Int64("item_id", item.ID), zap.Error(err))
		return
	}
	w.log.Info("delivery_rescheduled",
		zap.Int64("item_id", item.ID),
		zap.Int("attempts", item.Attempts),
		zap.Time("next_attempt_at", next))
}

// park pushes an undeliverable row far into the future. It stays pending so
// operators can inspect and re-drive it after fixing the cause.
func (w *Worker) park(ctx context.Context, item *Item, cause error) {
	now := w.now()
	next := now.Add(PoisonDelay(item.Attempts))
	item.NextAttemptAt = &next
	item.LastError = truncate(errString(cause), maxLastErrorChars)
	item.UpdatedAt = now
	if err := w.repo.Update(ctx, item); err != nil {
		w.log.Error("park_failed", zap.Int64("item_id", item.ID), zap.Error(err))
		return
	}
	w.log.Warn("item_parked",
		zap.Int64("item_id", item.ID),
		zap.String("kind", string(item.Kind)),
		zap.String("cause", item.LastError))
}

// payloadAttachments pulls file paths out of a decoded payload. JSON decoding
// yields []any, so each element is checked individually.
func payloadAttachments(payload map[string]any) []string {
	raw, ok := payload["attachments"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return "delivery failed"
	}
	return err.Error()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
