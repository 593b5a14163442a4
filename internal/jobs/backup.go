package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/patrckmello/zg-planner/internal/audit"
	"github.com/patrckmello/zg-planner/internal/backup"
	"github.com/patrckmello/zg-planner/internal/config"
	"github.com/patrckmello/zg-planner/internal/outbox"
)

// BackupStore is the slice of the backup service the jobs need.
type BackupStore interface {
	Run(ctx context.Context, kind backup.Kind) (*backup.Backup, error)
	Cleanup(ctx context.Context) (int, error)
	LatestCompleted(ctx context.Context) (*backup.Backup, error)
	Path(b *backup.Backup) string
}

// BackupJobs bundles the rotation handlers around the backup service.
type BackupJobs struct {
	svc   BackupStore
	store *outbox.Store
	audit Auditor
	cfg   *config.Config
	log   *zap.Logger
	now   func() time.Time
}

func NewBackupJobs(svc BackupStore, store *outbox.Store, auditLog Auditor, cfg *config.Config, logger *zap.Logger) *BackupJobs {
	return &BackupJobs{
		svc:   svc,
		store: store,
		audit: auditLog,
		cfg:   cfg,
		log:   logger.Named("backup_jobs"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (b *BackupJobs) RunDaily(ctx context.Context) error {
	_, err := b.svc.Run(ctx, backup.KindDaily)
	return err
}

func (b *BackupJobs) RunWeekly(ctx context.Context) error {
	_, err := b.svc.Run(ctx, backup.KindWeekly)
	return err
}

func (b *BackupJobs) RunMonthly(ctx context.Context) error {
	_, err := b.svc.Run(ctx, backup.KindMonthly)
	return err
}

func (b *BackupJobs) RunCleanup(ctx context.Context) error {
	_, err := b.svc.Cleanup(ctx)
	return err
}

// RunWeeklyEmail mails the most recent completed backup to the operations
// address. An audit marker makes it at-most-once per calendar day, so a
// coalesced catch-up after downtime cannot double-send.
func (b *BackupJobs) RunWeeklyEmail(ctx context.Context) error {
	if b.cfg.BackupOpsEmail == "" {
		b.log.Debug("weekly_email_skipped_no_address")
		return nil
	}

	startOfDay := b.now().Truncate(24 * time.Hour)
	sent, err := b.audit.CountSince(ctx, audit.ActionBackupEmailWeekly, startOfDay)
	if err != nil {
		return fmt.Errorf("check weekly email marker: %w", err)
	}
	if sent > 0 {
		b.log.Info("weekly_email_already_sent_today")
		return nil
	}

	latest, err := b.svc.LatestCompleted(ctx)
	if err != nil {
		return fmt.Errorf("find latest backup: %w", err)
	}
	if latest == nil {
		b.log.Warn("weekly_email_skipped_no_backup")
		return nil
	}

	_, err = b.store.Enqueue(ctx, outbox.EnqueueParams{
		Kind:       outbox.KindPlainEmail,
		Recipients: []string{b.cfg.BackupOpsEmail},
		Payload: map[string]any{
			"subject": fmt.Sprintf("Backup semanal - %s", latest.CreatedAt.Format("02/01/2006")),
			"html_body": fmt.Sprintf(
				"<p>Backup mais recente: <strong>%s</strong> (%d bytes, criado em %s).</p>",
				latest.Filename, latest.SizeBytes, latest.CreatedAt.Format("02/01/2006 15:04")),
			"attachments": []string{b.svc.Path(latest)},
		},
	})
	if err != nil {
		return fmt.Errorf("enqueue weekly email: %w", err)
	}

	b.audit.System(ctx, audit.ActionBackupEmailWeekly, "backup", &latest.ID, nil)
	return nil
}
