// Package jobs holds the periodic maintenance handlers and their schedules.
// Every handler is idempotent: re-running after a missed slot or a restart
// repeats no visible effect.
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/patrckmello/zg-planner/internal/audit"
	"github.com/patrckmello/zg-planner/internal/domain/task"
)

// archiveAfter is how long a completed task stays visible before the nightly
// job archives it.
const archiveAfter = 7 * 24 * time.Hour

const jobBatchSize = 500

// Archiver moves long-completed tasks to archived.
type Archiver struct {
	repo  task.Repository
	audit Auditor
	log   *zap.Logger
}

func NewArchiver(repo task.Repository, auditLog Auditor, logger *zap.Logger) *Archiver {
	return &Archiver{repo: repo, audit: auditLog, log: logger.Named("archiver")}
}

func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-archiveAfter)
	tasks, err := a.repo.ListCompletedBefore(ctx, cutoff, jobBatchSize)
	if err != nil {
		return err
	}

	archived := 0
	for i := range tasks {
		t := &tasks[i]
		t.MarkArchived(nil)
		if err := a.repo.Save(ctx, t); err != nil {
			a.log.Error("archive_save_failed", zap.Int64("task_id", t.ID), zap.Error(err))
			continue
		}
		a.audit.System(ctx, audit.ActionArchive, "task", &t.ID, nil)
		archived++
	}

	if archived > 0 {
		a.log.Info("tasks_archived", zap.Int("count", archived))
	}
	return nil
}
