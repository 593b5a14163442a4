package jobs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/patrckmello/zg-planner/internal/audit"
	"github.com/patrckmello/zg-planner/internal/domain/task"
)

// purgeAfter is the trash retention window. Within it a soft delete is
// reversible; after it the nightly purge is final.
const purgeAfter = 7 * 24 * time.Hour

// Purger hard-deletes tasks that sat in the trash past retention, along with
// their attachment files.
type Purger struct {
	repo      task.Repository
	audit     Auditor
	uploadDir string
	log       *zap.Logger
}

func NewPurger(repo task.Repository, auditLog Auditor, uploadDir string, logger *zap.Logger) *Purger {
	return &Purger{repo: repo, audit: auditLog, uploadDir: uploadDir, log: logger.Named("purger")}
}

func (p *Purger) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-purgeAfter)
	tasks, err := p.repo.ListDeletedBefore(ctx, cutoff, jobBatchSize)
	if err != nil {
		return err
	}

	purged := 0
	for i := range tasks {
		t := &tasks[i]

		// Audit before deletion so the trail survives the row.
		p.audit.System(ctx, audit.ActionPurge, "task", &t.ID, nil)

		for _, name := range t.Attachments {
			path := filepath.Join(p.uploadDir, name)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				p.log.Warn("attachment_remove_failed",
					zap.Int64("task_id", t.ID),
					zap.String("file", name),
					zap.Error(err))
			}
		}

		if err := p.repo.HardDelete(ctx, t.ID); err != nil {
			p.log.Error("purge_failed", zap.Int64("task_id", t.ID), zap.Error(err))
			continue
		}
		purged++
	}

	if purged > 0 {
		p.log.Info("tasks_purged", zap.Int("count", purged))
	}
	return nil
}
