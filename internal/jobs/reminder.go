package jobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrckmello/zg-planner/internal/domain/task"
	"github.com/patrckmello/zg-planner/internal/notification"
	"github.com/patrckmello/zg-planner/internal/outbox"
)

// leadTimes maps the reminder labels users can pick to their durations.
var leadTimes = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ParseLeadTime resolves a reminder label. Unknown labels fall through to
// Go duration syntax so "45m" or "2h30m" also work.
func ParseLeadTime(label string) (time.Duration, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if d, ok := leadTimes[label]; ok {
		return d, nil
	}
	// "Nd" and "Nw" are not valid time.ParseDuration units.
	if n := len(label); n > 1 {
		if v, err := strconv.Atoi(label[:n-1]); err == nil {
			switch label[n-1] {
			case 'd':
				return time.Duration(v) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(v) * 7 * 24 * time.Hour, nil
			}
		}
	}
	d, err := time.ParseDuration(label)
	if err != nil {
		return 0, fmt.Errorf("invalid reminder lead time %q", label)
	}
	return d, nil
}

// Reminderer polls for tasks whose reminder moment has passed and enqueues
// one email per (task, lead time) pair, deduplicated through the ledger.
type Reminderer struct {
	repo   task.Repository
	ledger ReminderLedger
	users  notification.UserDirectory
	store  *outbox.Store
	log    *zap.Logger
	now    func() time.Time
}

func NewReminderer(repo task.Repository, ledger ReminderLedger, users notification.UserDirectory, store *outbox.Store, logger *zap.Logger) *Reminderer {
	return &Reminderer{
		repo:   repo,
		ledger: ledger,
		users:  users,
		store:  store,
		log:    logger.Named("reminders"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reminderer) Run(ctx context.Context) error {
	tasks, err := r.repo.ListWithReminders(ctx)
	if err != nil {
		return err
	}

	now := r.now()
	for i := range tasks {
		r.process(ctx, &tasks[i], now)
	}
	return nil
}

func (r *Reminderer) process(ctx context.Context, t *task.Task, now time.Time) {
	if t.DueDate == nil || t.DeletedAt != nil {
		return
	}
	if t.Status == task.StatusDone || t.Status == task.StatusArchived || t.Status == task.StatusCancelled {
		return
	}

	for _, label := range t.Reminders {
		lead, err := ParseLeadTime(label)
		if err != nil {
			r.log.Warn("bad_reminder_label",
				zap.Int64("task_id", t.ID),
				zap.String("label", label))
			continue
		}

		sendAt := t.DueDate.Add(-lead)
		if now.Before(sendAt) || now.After(*t.DueDate) {
			continue
		}

		claimed, err := r.ledger.Claim(ctx, t.ID, label, *t.DueDate)
		if err != nil {
			r.log.Error("reminder_claim_failed", zap.Int64("task_id", t.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		if err := r.send(ctx, t, label); err != nil {
			r.log.Error("reminder_enqueue_failed", zap.Int64("task_id", t.ID), zap.Error(err))
			continue
		}
		r.log.Info("reminder_sent",
			zap.Int64("task_id", t.ID),
			zap.String("lead_time", label),
			zap.Time("due_date", *t.DueDate))
	}
}

func (r *Reminderer) send(ctx context.Context, t *task.Task, label string) error {
	ids := []int64{t.UserID}
	ids = append(ids, t.AssignedUserIDs...)

	emails, err := r.users.EmailsByIDs(ctx, ids)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	var recipients []string
	for _, id := range ids {
		email := emails[id]
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		recipients = append(recipients, email)
	}

	_, err = r.store.Enqueue(ctx, outbox.EnqueueParams{
		Kind:       outbox.KindPlainEmail,
		Recipients: recipients,
		Payload: map[string]any{
			"subject": fmt.Sprintf("Lembrete: %s vence em breve", t.Title),
			"html_body": fmt.Sprintf(
				"<p>A tarefa <strong>%s</strong> vence em %s (lembrete de %s).</p>",
				t.Title, t.DueDate.Format("02/01/2006 15:04"), label),
		},
	})
	return err
}
