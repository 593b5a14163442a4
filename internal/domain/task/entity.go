package task

import (
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
	StatusArchived   Status = "archived"
)

// ApprovalStatus is the approval sub-state, only meaningful when
// RequiresApproval is set.
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = ""
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Priority represents task priority level.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var (
	ErrApprovalPending    = errors.New("cannot complete task: approval required")
	ErrSubtasksIncomplete = errors.New("cannot complete task: subtasks incomplete")
	ErrNotDeleted         = errors.New("task is not in the trash")
	ErrInvalidStatus      = errors.New("invalid task status")
)

// statusSynonyms maps historical status spellings (PT/EN, with and without
// accents) onto the canonical enum. Kept at the ingestion boundary only;
// stored rows always carry canonical values.
var statusSynonyms = map[string]Status{
	"pending":     StatusPending,
	"todo":        StatusPending,
	"in_progress": StatusInProgress,
	"done":        StatusDone,
	"completed":   StatusDone,
	"concluded":   StatusDone,
	"concluida":   StatusDone,
	"concluída":   StatusDone,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"archived":    StatusArchived,
}

// ParseStatus normalizes a raw status string to the canonical enum.
func ParseStatus(raw string) (Status, error) {
	s, ok := statusSynonyms[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// Subtask is an ordered checklist entry. Weight is always >= 1 so the
// weighted-completion rule degenerates to "every subtask done".
type Subtask struct {
	ID       int64  `json:"id,string"`
	Title    string `json:"title"`
	Done     bool   `json:"done"`
	Weight   int    `json:"weight"`
	Required bool   `json:"required"`
}

// Task is the core domain entity.
// It contains no database tags or infrastructure details.
type Task struct {
	ID          int64    `json:"id,string"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority,omitempty"`

	UserID           int64   `json:"user_id,string"`
	AssignedByUserID *int64  `json:"assigned_by_user_id,omitempty"`
	AssignedUserIDs  []int64 `json:"assigned_user_ids,omitempty"`
	CollaboratorIDs  []int64 `json:"collaborator_ids,omitempty"`

	DueDate   *time.Time `json:"due_date,omitempty"`
	Reminders []string   `json:"reminders,omitempty"`

	RequiresApproval bool           `json:"requires_approval"`
	ApprovalStatus   ApprovalStatus `json:"approval_status,omitempty"`
	ApprovedByUserID *int64         `json:"approved_by_user_id,omitempty"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`

	Subtasks    []Subtask `json:"subtasks,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
	Tags        []string  `json:"tags,omitempty"`

	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
	ArchivedByUserID *int64     `json:"archived_by_user_id,omitempty"`

	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	DeletedByUserID *int64     `json:"deleted_by_user_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a task in pending state.
func New(userID int64, title string) *Task {
	now := time.Now().UTC()
	return &Task{
		Title:     title,
		Status:    StatusPending,
		Priority:  PriorityMedium,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SubtasksSatisfied reports whether the weighted-completion rule holds:
// done weight must equal total weight, and no required subtask may be open.
func (t *Task) SubtasksSatisfied() bool {
	total, done := 0, 0
	for _, s := range t.Subtasks {
		w := s.Weight
		if w < 1 {
			w = 1
		}
		total += w
		if s.Done {
			done += w
		} else if s.Required {
			return false
		}
	}
	if total == 0 {
		return true
	}
	return done == total
}

// SubmitForApproval moves the approval sub-state to pending and clears any
// prior decision. It is a no-op for tasks that do not require approval.
func (t *Task) SubmitForApproval() {
	if !t.RequiresApproval {
		return
	}
	t.ApprovalStatus = ApprovalPending
	t.ApprovedByUserID = nil
	t.ApprovedAt = nil
	t.UpdatedAt = time.Now().UTC()
}

// SetApproved records an approval decision. Calling it again when already
// approved keeps the original approver and timestamp.
func (t *Task) SetApproved(approverID int64) {
	if t.ApprovalStatus == ApprovalApproved {
		return
	}
	now := time.Now().UTC()
	t.ApprovalStatus = ApprovalApproved
	t.ApprovedByUserID = &approverID
	t.ApprovedAt = &now
	t.UpdatedAt = now
}

// SetRejected records a rejection. If the task had somehow reached done
// despite the rejection, it is forced back to in_progress and the completion
// timestamp cleared. The returned flag reports whether that self-heal fired,
// so callers can surface the inconsistency instead of hiding it.
func (t *Task) SetRejected(approverID int64) (healed bool) {
	now := time.Now().UTC()
	t.ApprovalStatus = ApprovalRejected
	t.ApprovedByUserID = &approverID
	t.ApprovedAt = &now
	if t.Status == StatusDone {
		t.Status = StatusInProgress
		t.CompletedAt = nil
		healed = true
	}
	t.UpdatedAt = now
	return healed
}

// MarkDone transitions the task to done. It fails when approval is required
// but not granted, or when the subtask checklist is incomplete. CompletedAt
// is set once and preserved on repeat calls; archive fields are cleared since
// done and archived are mutually exclusive.
func (t *Task) MarkDone() error {
	if t.RequiresApproval && t.ApprovalStatus != ApprovalApproved {
		return ErrApprovalPending
	}
	if !t.SubtasksSatisfied() {
		return ErrSubtasksIncomplete
	}

	now := time.Now().UTC()
	t.Status = StatusDone
	if t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	t.ArchivedAt = nil
	t.ArchivedByUserID = nil
	t.UpdatedAt = now
	return nil
}

// MarkArchived transitions the task to archived. The first call's timestamp
// wins; CompletedAt is backfilled because archiving implies completion.
func (t *Task) MarkArchived(by *int64) {
	now := time.Now().UTC()
	t.Status = StatusArchived
	if t.ArchivedAt == nil {
		t.ArchivedAt = &now
		t.ArchivedByUserID = by
	}
	if t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	t.UpdatedAt = now
}

// Unarchive clears archive fields and resets the status. CompletedAt is
// cleared unless the caller restores straight to done, keeping the invariant
// that only done/archived tasks carry a completion timestamp.
func (t *Task) Unarchive(newStatus Status) {
	if newStatus == "" {
		newStatus = StatusPending
	}
	t.Status = newStatus
	t.ArchivedAt = nil
	t.ArchivedByUserID = nil
	if newStatus != StatusDone {
		t.CompletedAt = nil
	}
	t.UpdatedAt = time.Now().UTC()
}

// SetStatus applies a plain status change. Transitions with side effects
// (done, archived) have their own guarded methods; this one handles the rest
// and keeps the completion timestamp consistent.
func (t *Task) SetStatus(s Status) {
	if t.Status == StatusArchived && s != StatusArchived {
		t.Unarchive(s)
		return
	}
	t.Status = s
	if s != StatusDone {
		t.CompletedAt = nil
	}
	t.UpdatedAt = time.Now().UTC()
}

// SoftDelete hides the task from default queries without destroying it.
func (t *Task) SoftDelete(by *int64) {
	if t.DeletedAt != nil {
		return
	}
	now := time.Now().UTC()
	t.DeletedAt = &now
	t.DeletedByUserID = by
	t.UpdatedAt = now
}

// Restore undoes a soft delete. Archive and approval state are untouched;
// only visibility comes back.
func (t *Task) Restore() error {
	if t.DeletedAt == nil {
		return ErrNotDeleted
	}
	t.DeletedAt = nil
	t.DeletedByUserID = nil
	t.UpdatedAt = time.Now().UTC()
	return nil
}
