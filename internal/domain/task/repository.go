package task

import (
	"context"
	"time"
)

// Repository is the persistence port for tasks. Implementations live in
// internal/adapter/repository/postgres.
type Repository interface {
	FindByID(ctx context.Context, id int64) (*Task, error)
	Save(ctx context.Context, t *Task) error

	// ListCompletedBefore returns non-deleted, non-archived tasks in done
	// state whose completion timestamp is older than cutoff.
	ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Task, error)

	// ListDeletedBefore returns soft-deleted tasks whose deletion timestamp
	// is older than cutoff.
	ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Task, error)

	// ListWithReminders returns non-deleted tasks that carry reminder lead
	// times, a due date, and are not yet done or archived.
	ListWithReminders(ctx context.Context) ([]Task, error)

	// HardDelete removes the row permanently. Only valid for soft-deleted
	// tasks; the purge job is the sole caller.
	HardDelete(ctx context.Context, id int64) error
}
