// Package audit records administrative and automated actions in an append-only
// log table. Entries are written best-effort: a failed insert is logged and
// swallowed so auditing never breaks the action it describes.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/patrckmello/zg-planner/pkg/snowflake"
)

// Well-known actions written by the background jobs and admin API.
const (
	ActionArchive               = "ARCHIVE"
	ActionPurge                 = "PURGE"
	ActionBackupEmailWeekly     = "BACKUP_EMAIL_WEEKLY"
	ActionApprovalInconsistency = "APPROVAL_INCONSISTENCY"
	ActionTaskApproved          = "TASK_APPROVED"
	ActionTaskRejected          = "TASK_REJECTED"
	ActionBackupCreated         = "BACKUP_CREATED"
	ActionBackupDeleted         = "BACKUP_DELETED"
	ActionSchedulerRunNow       = "SCHEDULER_RUN_NOW"
)

// Entry is one audit log row.
type Entry struct {
	ID        int64          `gorm:"primaryKey" json:"id,string"`
	UserID    *int64         `gorm:"index" json:"user_id,string,omitempty"`
	Action    string         `gorm:"size:64;index" json:"action"`
	ItemType  string         `gorm:"size:64" json:"item_type"`
	ItemID    *int64         `json:"item_id,string,omitempty"`
	Details   datatypes.JSON `json:"details,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (Entry) TableName() string { return "audit_logs" }

// Logger writes audit entries.
type Logger struct {
	db   *gorm.DB
	node *snowflake.Node
	log  *zap.Logger
}

func NewLogger(db *gorm.DB, node *snowflake.Node, logger *zap.Logger) *Logger {
	return &Logger{db: db, node: node, log: logger.Named("audit")}
}

// Record appends an entry. userID and itemID may be nil for system actions.
func (l *Logger) Record(ctx context.Context, userID *int64, action, itemType string, itemID *int64, details datatypes.JSON) {
	entry := Entry{
		ID:        l.node.GenerateID(),
		UserID:    userID,
		Action:    action,
		ItemType:  itemType,
		ItemID:    itemID,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		l.log.Error("audit_write_failed",
			zap.String("action", action),
			zap.String("item_type", itemType),
			zap.Error(err))
	}
}

// System records an action with no acting user.
func (l *Logger) System(ctx context.Context, action, itemType string, itemID *int64, details datatypes.JSON) {
	l.Record(ctx, nil, action, itemType, itemID, details)
}

// List returns the most recent entries, newest first.
func (l *Logger) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []Entry
	err := l.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// CountSince reports how many entries with the given action exist at or after
// the cutoff. The weekly backup mail job uses it as its once-per-day marker.
func (l *Logger) CountSince(ctx context.Context, action string, since time.Time) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).
		Model(&Entry{}).
		Where("action = ? AND created_at >= ?", action, since).
		Count(&n).Error
	return n, err
}
