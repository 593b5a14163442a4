package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tk := New(42, "prepare quarterly report")

	assert.Equal(t, int64(42), tk.UserID)
	assert.Equal(t, "prepare quarterly report", tk.Title)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, PriorityMedium, tk.Priority)
	assert.Nil(t, tk.CompletedAt)
	assert.NotZero(t, tk.CreatedAt)
	assert.NotZero(t, tk.UpdatedAt)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    Status
		wantErr bool
	}{
		{"pending", StatusPending, false},
		{"done", StatusDone, false},
		{"Completed", StatusDone, false},
		{"CONCLUDED", StatusDone, false},
		{"concluida", StatusDone, false},
		{"concluída", StatusDone, false},
		{"  in_progress ", StatusInProgress, false},
		{"canceled", StatusCancelled, false},
		{"cancelled", StatusCancelled, false},
		{"archived", StatusArchived, false},
		{"nonsense", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseStatus(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStatus)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarkDone_ApprovalGuard(t *testing.T) {
	tk := New(1, "contract review")
	tk.RequiresApproval = true

	err := tk.MarkDone()
	assert.ErrorIs(t, err, ErrApprovalPending)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Nil(t, tk.CompletedAt)

	tk.SubmitForApproval()
	assert.Equal(t, ApprovalPending, tk.ApprovalStatus)

	err = tk.MarkDone()
	assert.ErrorIs(t, err, ErrApprovalPending)

	tk.SetApproved(99)
	err = tk.MarkDone()
	assert.NoError(t, err)
	assert.Equal(t, StatusDone, tk.Status)
	assert.NotNil(t, tk.CompletedAt)
}

func TestMarkDone_SubtaskGuard(t *testing.T) {
	tests := []struct {
		name     string
		subtasks []Subtask
		wantErr  bool
	}{
		{"no subtasks", nil, false},
		{"all done", []Subtask{{Done: true, Weight: 1}, {Done: true, Weight: 3}}, false},
		{"one open", []Subtask{{Done: true, Weight: 1}, {Done: false, Weight: 1}}, true},
		{"required open", []Subtask{{Done: false, Required: true, Weight: 1}}, true},
		{"zero weight treated as one", []Subtask{{Done: false, Weight: 0}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := New(1, "task with checklist")
			tk.Subtasks = tt.subtasks

			err := tk.MarkDone()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSubtasksIncomplete)
				assert.Nil(t, tk.CompletedAt)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, tk.CompletedAt)
			}
		})
	}
}

func TestMarkDone_IdempotentCompletedAt(t *testing.T) {
	tk := New(1, "repeatable completion")
	assert.NoError(t, tk.MarkDone())
	first := *tk.CompletedAt

	time.Sleep(5 * time.Millisecond)
	assert.NoError(t, tk.MarkDone())
	assert.Equal(t, first, *tk.CompletedAt)
}

func TestMarkDone_ClearsArchiveFields(t *testing.T) {
	by := int64(7)
	tk := New(1, "previously archived")
	tk.MarkArchived(&by)
	assert.Equal(t, StatusArchived, tk.Status)

	assert.NoError(t, tk.MarkDone())
	assert.Equal(t, StatusDone, tk.Status)
	assert.Nil(t, tk.ArchivedAt)
	assert.Nil(t, tk.ArchivedByUserID)
}

func TestSubmitForApproval_NoopWithoutFlag(t *testing.T) {
	tk := New(1, "no approval needed")
	tk.SubmitForApproval()
	assert.Equal(t, ApprovalNone, tk.ApprovalStatus)
}

func TestSubmitForApproval_ClearsPriorDecision(t *testing.T) {
	tk := New(1, "resubmission")
	tk.RequiresApproval = true
	tk.SubmitForApproval()
	tk.SetApproved(5)
	assert.NotNil(t, tk.ApprovedAt)

	tk.SubmitForApproval()
	assert.Equal(t, ApprovalPending, tk.ApprovalStatus)
	assert.Nil(t, tk.ApprovedByUserID)
	assert.Nil(t, tk.ApprovedAt)
}

func TestSetApproved_Idempotent(t *testing.T) {
	tk := New(1, "double approval")
	tk.RequiresApproval = true
	tk.SubmitForApproval()

	tk.SetApproved(5)
	firstApprover := *tk.ApprovedByUserID
	firstAt := *tk.ApprovedAt

	tk.SetApproved(6)
	assert.Equal(t, firstApprover, *tk.ApprovedByUserID)
	assert.Equal(t, firstAt, *tk.ApprovedAt)
}

func TestSetRejected_SelfHeal(t *testing.T) {
	tk := New(1, "rejected after done")
	tk.RequiresApproval = true
	tk.SubmitForApproval()
	tk.SetApproved(5)
	assert.NoError(t, tk.MarkDone())

	healed := tk.SetRejected(5)
	assert.True(t, healed)
	assert.Equal(t, StatusInProgress, tk.Status)
	assert.Equal(t, ApprovalRejected, tk.ApprovalStatus)
	assert.Nil(t, tk.CompletedAt)
}

func TestSetRejected_NoHealWhenNotDone(t *testing.T) {
	tk := New(1, "plain rejection")
	tk.RequiresApproval = true
	tk.SubmitForApproval()

	healed := tk.SetRejected(5)
	assert.False(t, healed)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, ApprovalRejected, tk.ApprovalStatus)
}

func TestMarkArchived_Idempotent(t *testing.T) {
	by := int64(3)
	other := int64(4)
	tk := New(1, "archive twice")

	tk.MarkArchived(&by)
	first := *tk.ArchivedAt

	time.Sleep(5 * time.Millisecond)
	tk.MarkArchived(&other)
	assert.Equal(t, first, *tk.ArchivedAt)
	assert.Equal(t, by, *tk.ArchivedByUserID)
}

func TestMarkArchived_BackfillsCompletedAt(t *testing.T) {
	tk := New(1, "archived without completion")
	tk.MarkArchived(nil)

	assert.Equal(t, StatusArchived, tk.Status)
	assert.NotNil(t, tk.CompletedAt)
	assert.NotNil(t, tk.ArchivedAt)
}

func TestUnarchive(t *testing.T) {
	tk := New(1, "back from the archive")
	assert.NoError(t, tk.MarkDone())
	tk.MarkArchived(nil)

	tk.Unarchive("")
	assert.Equal(t, StatusPending, tk.Status)
	assert.Nil(t, tk.ArchivedAt)
	assert.Nil(t, tk.ArchivedByUserID)
	assert.Nil(t, tk.CompletedAt)
}

func TestUnarchive_ToDoneKeepsCompletedAt(t *testing.T) {
	tk := New(1, "unarchive to done")
	assert.NoError(t, tk.MarkDone())
	completed := *tk.CompletedAt
	tk.MarkArchived(nil)

	tk.Unarchive(StatusDone)
	assert.Equal(t, StatusDone, tk.Status)
	assert.NotNil(t, tk.CompletedAt)
	assert.Equal(t, completed, *tk.CompletedAt)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	by := int64(9)
	tk := New(1, "trash and back")

	assert.ErrorIs(t, tk.Restore(), ErrNotDeleted)

	tk.SoftDelete(&by)
	assert.NotNil(t, tk.DeletedAt)
	assert.Equal(t, by, *tk.DeletedByUserID)

	first := *tk.DeletedAt
	tk.SoftDelete(nil) // repeat keeps original deletion record
	assert.Equal(t, first, *tk.DeletedAt)
	assert.Equal(t, by, *tk.DeletedByUserID)

	assert.NoError(t, tk.Restore())
	assert.Nil(t, tk.DeletedAt)
	assert.Nil(t, tk.DeletedByUserID)
}

func TestApprovalScenario_EndToEnd(t *testing.T) {
	tk := New(10, "release sign-off")
	tk.RequiresApproval = true

	tk.SubmitForApproval()
	assert.Equal(t, ApprovalPending, tk.ApprovalStatus)

	assert.ErrorIs(t, tk.MarkDone(), ErrApprovalPending)

	tk.SetApproved(77)
	assert.NoError(t, tk.MarkDone())
	assert.Equal(t, StatusDone, tk.Status)
	assert.NotNil(t, tk.CompletedAt)
}
