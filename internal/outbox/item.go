package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type Kind string

type Status string

const (
	KindCommentEmail      Kind = "comment_email"
	KindApprovalSubmitted Kind = "approval_submitted"
	KindTaskApproved      Kind = "task_approved"
	KindTaskRejected      Kind = "task_rejected"
	KindPasswordReset     Kind = "password_reset"
	KindPlainEmail        Kind = "plain_email"
)

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	// StatusError exists for operator tooling; the worker parks poison rows
	// as pending with a far-out next_attempt_at instead, so nothing is ever
	// silently dropped from the queue.
	StatusError Status = "error"
)

// backoffTable holds the retry delays in minutes. The last entry repeats
// indefinitely, so a permanently failing row settles at one attempt per hour.
var backoffTable = []time.Duration{
	2 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

// BackoffDelay returns the retry delay after the given attempt count.
// attempts is the post-increment value, so the first failure gets index 0.
func BackoffDelay(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffTable) {
		idx = len(backoffTable) - 1
	}
	return backoffTable[idx]
}

// PoisonDelay is the parking delay for rows that cannot be delivered at all,
// such as an unknown kind. It grows with attempts and caps at an hour.
func PoisonDelay(attempts int) time.Duration {
	d := time.Duration(attempts) * 5 * time.Minute
	if d > 60*time.Minute {
		d = 60 * time.Minute
	}
	return d
}

// CommentDispatchKey correlates comment notifications for the same task and
// recipient so rapid-fire comments merge into one email.
func CommentDispatchKey(taskID, recipientUserID int64) string {
	return fmt.Sprintf("comment:%d:%d", taskID, recipientUserID)
}

// Item is one durable notification job. Rows are created in the same
// transaction as the triggering domain write and mutated only by the worker.
type Item struct {
	ID            int64          `gorm:"primaryKey"`
	Kind          Kind           `gorm:"type:varchar(50);not null"`
	Recipients    datatypes.JSON `gorm:"not null"`
	Payload       datatypes.JSON
	Status        Status  `gorm:"type:varchar(20);not null;index"`
	Attempts      int     `gorm:"not null;default:0"`
	LastError     string  `gorm:"type:text"`
	DispatchKey   *string `gorm:"type:varchar(255);index"`
	AggregatedIDs datatypes.JSON
	NextAttemptAt *time.Time `gorm:"index"`
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Item) TableName() string {
	return "outbox_items"
}

// RecipientList decodes the recipients column. A decode failure yields an
// empty list, which the worker treats as a drop.
func (i *Item) RecipientList() []string {
	var out []string
	if len(i.Recipients) == 0 {
		return out
	}
	_ = json.Unmarshal(i.Recipients, &out)
	return out
}

func (i *Item) SetRecipients(recipients []string) error {
	raw, err := json.Marshal(recipients)
	if err != nil {
		return err
	}
	i.Recipients = raw
	return nil
}

// PayloadMap decodes the payload column into a generic map.
func (i *Item) PayloadMap() map[string]any {
	out := map[string]any{}
	if len(i.Payload) == 0 {
		return out
	}
	_ = json.Unmarshal(i.Payload, &out)
	return out
}

func (i *Item) SetPayload(payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	i.Payload = raw
	return nil
}

// AggregatedIDList decodes the merged event ids.
func (i *Item) AggregatedIDList() []int64 {
	var out []int64
	if len(i.AggregatedIDs) == 0 {
		return out
	}
	_ = json.Unmarshal(i.AggregatedIDs, &out)
	return out
}

func (i *Item) SetAggregatedIDs(ids []int64) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	i.AggregatedIDs = raw
	return nil
}
