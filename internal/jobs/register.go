package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/patrckmello/zg-planner/internal/outbox"
	"github.com/patrckmello/zg-planner/internal/scheduler"
)

// Job ids, also exposed through the ops API for listing and manual runs.
const (
	JobOutboxWorker   = "outbox_worker"
	JobReminders      = "reminders"
	JobPurgeTrash     = "purge_trash"
	JobArchiveDone    = "archive_completed"
	JobBackupDaily    = "backup_daily"
	JobBackupWeekly   = "backup_weekly"
	JobBackupMonthly  = "backup_monthly"
	JobBackupCleanup  = "backup_cleanup"
	JobBackupOpsEmail = "backup_weekly_email"
)

const (
	tickInterval = 60 * time.Second

	// Nightly maintenance tolerates up to an hour of catch-up lateness;
	// backup slots are tighter so a stale dump is not mislabeled as current.
	maintenanceGrace = time.Hour
	backupGrace      = 5 * time.Minute
)

// Handlers groups everything RegisterAll wires into the registry.
type Handlers struct {
	Worker    *outbox.Worker
	Reminders *Reminderer
	Purger    *Purger
	Archiver  *Archiver
	Backups   *BackupJobs
}

// RegisterAll installs the full maintenance schedule. loc anchors the cron
// expressions; the ticking jobs are location independent.
func RegisterAll(reg *scheduler.Registry, loc *time.Location, h Handlers) error {
	cronJobs := []struct {
		id    string
		expr  string
		grace time.Duration
		run   func(ctx context.Context) error
	}{
		{JobPurgeTrash, "30 3 * * *", maintenanceGrace, h.Purger.Run},
		{JobArchiveDone, "45 3 * * *", maintenanceGrace, h.Archiver.Run},
		{JobBackupDaily, "0 2 * * *", backupGrace, h.Backups.RunDaily},
		{JobBackupWeekly, "0 3 * * 0", backupGrace, h.Backups.RunWeekly},
		{JobBackupMonthly, "0 4 1 * *", backupGrace, h.Backups.RunMonthly},
		{JobBackupCleanup, "0 5 * * *", maintenanceGrace, h.Backups.RunCleanup},
		{JobBackupOpsEmail, "0 8 * * 1", maintenanceGrace, h.Backups.RunWeeklyEmail},
	}

	for _, j := range cronJobs {
		trigger, err := scheduler.NewCronTrigger(j.expr, loc)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.id, err)
		}
		if err := reg.Register(scheduler.Job{
			ID:           j.id,
			Trigger:      trigger,
			Handler:      j.run,
			MisfireGrace: j.grace,
		}); err != nil {
			return err
		}
	}

	ticking := []struct {
		id  string
		run func(ctx context.Context) error
	}{
		{JobOutboxWorker, h.Worker.ProcessBatch},
		{JobReminders, h.Reminders.Run},
	}
	for _, j := range ticking {
		if err := reg.Register(scheduler.Job{
			ID:      j.id,
			Trigger: scheduler.IntervalTrigger{Interval: tickInterval},
			Handler: j.run,
		}); err != nil {
			return err
		}
	}
	return nil
}
