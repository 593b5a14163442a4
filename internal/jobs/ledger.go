package jobs

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

// Auditor is the slice of the audit logger the jobs depend on.
type Auditor interface {
	System(ctx context.Context, action, itemType string, itemID *int64, details datatypes.JSON)
	CountSince(ctx context.Context, action string, since time.Time) (int64, error)
}

// ReminderLedger records which (task, lead time, due date) reminders were
// already sent, so the 60s poll survives restarts without double-sending.
// Claim returns true exactly once per key; the postgres implementation backs
// it with a unique constraint and insert-if-absent.
type ReminderLedger interface {
	Claim(ctx context.Context, taskID int64, leadTime string, dueDate time.Time) (bool, error)
}
