package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/patrckmello/zg-planner/internal/domain/task"
	"github.com/patrckmello/zg-planner/internal/notification"
	"github.com/patrckmello/zg-planner/internal/outbox"
	"github.com/patrckmello/zg-planner/pkg/snowflake"
)

type fakeTaskRepo struct {
	tasks   map[int64]*task.Task
	deleted []int64
}

func newFakeTaskRepo(tasks ...*task.Task) *fakeTaskRepo {
	r := &fakeTaskRepo{tasks: map[int64]*task.Task{}}
	for _, t := range tasks {
		cp := *t
		r.tasks[t.ID] = &cp
	}
	return r
}

func (r *fakeTaskRepo) FindByID(_ context.Context, id int64) (*task.Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d not found", id)
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTaskRepo) Save(_ context.Context, t *task.Task) error {
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *fakeTaskRepo) ListCompletedBefore(_ context.Context, cutoff time.Time, limit int) ([]task.Task, error) {
	var out []task.Task
	for _, t := range r.tasks {
		if t.Status == task.StatusDone && t.ArchivedAt == nil && t.DeletedAt == nil &&
			t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			out = append(out, *t)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) ListDeletedBefore(_ context.Context, cutoff time.Time, limit int) ([]task.Task, error) {
	var out []task.Task
	for _, t := range r.tasks {
		if t.DeletedAt != nil && t.DeletedAt.Before(cutoff) {
			out = append(out, *t)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) ListWithReminders(_ context.Context) ([]task.Task, error) {
	var out []task.Task
	for _, t := range r.tasks {
		if len(t.Reminders) > 0 && t.DueDate != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) HardDelete(_ context.Context, id int64) error {
	delete(r.tasks, id)
	r.deleted = append(r.deleted, id)
	return nil
}

type fakeLedger struct {
	claims map[string]bool
}

func newFakeLedger() *fakeLedger { return &fakeLedger{claims: map[string]bool{}} }

func (l *fakeLedger) Claim(_ context.Context, taskID int64, leadTime string, dueDate time.Time) (bool, error) {
	key := fmt.Sprintf("%d_%s_%s", taskID, leadTime, dueDate.Format(time.RFC3339))
	if l.claims[key] {
		return false, nil
	}
	l.claims[key] = true
	return true, nil
}

type fakeAuditor struct {
	actions []string
	counts  map[string]int64
}

func (a *fakeAuditor) System(_ context.Context, action, _ string, _ *int64, _ datatypes.JSON) {
	a.actions = append(a.actions, action)
}

func (a *fakeAuditor) CountSince(_ context.Context, action string, _ time.Time) (int64, error) {
	if a.counts == nil {
		return 0, nil
	}
	return a.counts[action], nil
}

type recordingItemRepo struct {
	items []*outbox.Item
}

func (r *recordingItemRepo) Create(_ context.Context, item *outbox.Item) error {
	cp := *item
	r.items = append(r.items, &cp)
	return nil
}

func (r *recordingItemRepo) Update(_ context.Context, item *outbox.Item) error { return nil }

func (r *recordingItemRepo) FindDebounceCandidate(_ context.Context, _ string, _ time.Time) (*outbox.Item, error) {
	return nil, nil
}

func (r *recordingItemRepo) FetchDue(_ context.Context, _ time.Time, _ int) ([]outbox.Item, error) {
	return nil, nil
}

func (r *recordingItemRepo) CountByStatus(_ context.Context) (map[outbox.Status]int64, error) {
	return nil, nil
}

type fixedDirectory map[int64]string

func (d fixedDirectory) EmailsByIDs(_ context.Context, ids []int64) (map[int64]string, error) {
	out := map[int64]string{}
	for _, id := range ids {
		if email, ok := d[id]; ok {
			out[id] = email
		}
	}
	return out, nil
}

func (d fixedDirectory) FindByEmail(_ context.Context, email string) (*notification.User, error) {
	for id, e := range d {
		if e == email {
			return &notification.User{ID: id, Email: e}, nil
		}
	}
	return nil, nil
}

func newOutboxStore(t *testing.T, repo outbox.ItemRepository) *outbox.Store {
	t.Helper()
	node, err := snowflake.NewNode()
	require.NoError(t, err)
	return outbox.NewStore(repo, node, zap.NewNop())
}

func TestParseLeadTime(t *testing.T) {
	tests := []struct {
		label   string
		want    time.Duration
		wantErr bool
	}{
		{"5m", 5 * time.Minute, false},
		{"15M", 15 * time.Minute, false},
		{" 1h ", time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"1w", 7 * 24 * time.Hour, false},
		{"3d", 72 * time.Hour, false},
		{"2h30m", 2*time.Hour + 30*time.Minute, false},
		{"soon", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := ParseLeadTime(tt.label)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReminderer_SendsOncePerPair(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(10 * time.Minute)

	tk := task.New(1, "sprint review")
	tk.ID = 50
	tk.DueDate = &due
	tk.Reminders = []string{"15m", "1h"}

	repo := newFakeTaskRepo(tk)
	items := &recordingItemRepo{}
	r := NewReminderer(repo, newFakeLedger(), fixedDirectory{1: "owner@example.com"}, newOutboxStore(t, items), zap.NewNop())
	r.now = func() time.Time { return now }

	// Both lead times have elapsed: due-15m and due-1h are in the past.
	require.NoError(t, r.Run(context.Background()))
	assert.Len(t, items.items, 2)

	// A second poll repeats nothing.
	require.NoError(t, r.Run(context.Background()))
	assert.Len(t, items.items, 2)
}

func TestReminderer_WindowNotReached(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(2 * time.Hour)

	tk := task.New(1, "far away")
	tk.ID = 51
	tk.DueDate = &due
	tk.Reminders = []string{"15m"}

	items := &recordingItemRepo{}
	r := NewReminderer(newFakeTaskRepo(tk), newFakeLedger(), fixedDirectory{1: "o@example.com"}, newOutboxStore(t, items), zap.NewNop())
	r.now = func() time.Time { return now }

	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, items.items)
}

func TestReminderer_SkipsFinishedAndOverdue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	pastDue := now.Add(-time.Hour)
	overdue := task.New(1, "already late")
	overdue.ID = 52
	overdue.DueDate = &pastDue
	overdue.Reminders = []string{"15m"}

	soon := now.Add(5 * time.Minute)
	finished := task.New(1, "wrapped up")
	finished.ID = 53
	finished.DueDate = &soon
	finished.Reminders = []string{"15m"}
	require.NoError(t, finished.MarkDone())

	items := &recordingItemRepo{}
	r := NewReminderer(newFakeTaskRepo(overdue, finished), newFakeLedger(), fixedDirectory{1: "o@example.com"}, newOutboxStore(t, items), zap.NewNop())
	r.now = func() time.Time { return now }

	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, items.items)
}

func TestArchiver_ArchivesOldCompleted(t *testing.T) {
	old := task.New(1, "shipped weeks ago")
	old.ID = 60
	require.NoError(t, old.MarkDone())
	past := time.Now().UTC().Add(-10 * 24 * time.Hour)
	old.CompletedAt = &past

	fresh := task.New(1, "shipped yesterday")
	fresh.ID = 61
	require.NoError(t, fresh.MarkDone())

	repo := newFakeTaskRepo(old, fresh)
	auditor := &fakeAuditor{}
	a := NewArchiver(repo, auditor, zap.NewNop())

	require.NoError(t, a.Run(context.Background()))

	archived, err := repo.FindByID(context.Background(), 60)
	require.NoError(t, err)
	assert.Equal(t, task.StatusArchived, archived.Status)
	assert.NotNil(t, archived.ArchivedAt)

	untouched, err := repo.FindByID(context.Background(), 61)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, untouched.Status)

	assert.Equal(t, []string{"ARCHIVE"}, auditor.actions)
}

func TestPurger_RemovesExpiredTrash(t *testing.T) {
	gone := task.New(1, "old trash")
	gone.ID = 70
	gone.SoftDelete(nil)
	past := time.Now().UTC().Add(-10 * 24 * time.Hour)
	gone.DeletedAt = &past

	kept := task.New(1, "recent trash")
	kept.ID = 71
	kept.SoftDelete(nil)

	repo := newFakeTaskRepo(gone, kept)
	auditor := &fakeAuditor{}
	p := NewPurger(repo, auditor, t.TempDir(), zap.NewNop())

	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []int64{70}, repo.deleted)
	_, err := repo.FindByID(context.Background(), 71)
	assert.NoError(t, err)
	assert.Equal(t, []string{"PURGE"}, auditor.actions)
}
