package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReminderLedgerModel is one "reminder already sent" marker. The composite
// unique index makes Claim race-safe across processes.
type ReminderLedgerModel struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	TaskID   int64     `gorm:"not null;uniqueIndex:idx_reminder_ledger_key"`
	LeadTime string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_reminder_ledger_key"`
	DueDate  time.Time `gorm:"not null;uniqueIndex:idx_reminder_ledger_key"`
	SentAt   time.Time
}

func (ReminderLedgerModel) TableName() string {
	return "reminder_ledger"
}

type ReminderLedger struct {
	db *gorm.DB
}

func NewReminderLedger(db *gorm.DB) *ReminderLedger {
	return &ReminderLedger{db: db}
}

// Claim inserts the marker if absent. The ON CONFLICT DO NOTHING path
// reports zero rows affected, which means another process already sent it.
func (l *ReminderLedger) Claim(ctx context.Context, taskID int64, leadTime string, dueDate time.Time) (bool, error) {
	entry := ReminderLedgerModel{
		TaskID:   taskID,
		LeadTime: leadTime,
		DueDate:  dueDate.UTC(),
		SentAt:   time.Now().UTC(),
	}
	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
