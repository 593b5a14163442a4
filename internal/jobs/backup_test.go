package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrckmello/zg-planner/internal/audit"
	"github.com/patrckmello/zg-planner/internal/backup"
	"github.com/patrckmello/zg-planner/internal/config"
	"github.com/patrckmello/zg-planner/internal/outbox"
)

type fakeBackupStore struct {
	latest *backup.Backup
	runs   []backup.Kind
}

func (s *fakeBackupStore) Run(_ context.Context, kind backup.Kind) (*backup.Backup, error) {
	s.runs = append(s.runs, kind)
	return &backup.Backup{ID: 1, Kind: kind, Status: backup.StatusCompleted}, nil
}

func (s *fakeBackupStore) Cleanup(context.Context) (int, error) { return 0, nil }

func (s *fakeBackupStore) LatestCompleted(context.Context) (*backup.Backup, error) {
	return s.latest, nil
}

func (s *fakeBackupStore) Path(b *backup.Backup) string { return "/backups/" + b.Filename }

func newBackupJobs(t *testing.T, svc *fakeBackupStore, auditor *fakeAuditor, items *recordingItemRepo, opsEmail string) *BackupJobs {
	t.Helper()
	cfg := &config.Config{BackupOpsEmail: opsEmail}
	b := NewBackupJobs(svc, newOutboxStore(t, items), auditor, cfg, zap.NewNop())
	b.now = func() time.Time { return time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC) }
	return b
}

func TestWeeklyEmail_SendsOncePerDay(t *testing.T) {
	svc := &fakeBackupStore{latest: &backup.Backup{
		ID:        9,
		Kind:      backup.KindWeekly,
		Filename:  "weekly.sql.gz",
		SizeBytes: 2048,
		Status:    backup.StatusCompleted,
		CreatedAt: time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC),
	}}
	auditor := &fakeAuditor{counts: map[string]int64{}}
	items := &recordingItemRepo{}
	b := newBackupJobs(t, svc, auditor, items, "ops@example.com")

	require.NoError(t, b.RunWeeklyEmail(context.Background()))
	require.Len(t, items.items, 1)
	assert.Equal(t, outbox.KindPlainEmail, items.items[0].Kind)
	assert.Equal(t, []string{audit.ActionBackupEmailWeekly}, auditor.actions)

	// The audit marker from the first send suppresses any catch-up
	// firing later the same day.
	auditor.counts[audit.ActionBackupEmailWeekly] = 1
	require.NoError(t, b.RunWeeklyEmail(context.Background()))
	assert.Len(t, items.items, 1)
	assert.Len(t, auditor.actions, 1)
}

func TestWeeklyEmail_SkipsWithoutOpsAddress(t *testing.T) {
	svc := &fakeBackupStore{latest: &backup.Backup{ID: 9, Filename: "weekly.sql.gz"}}
	items := &recordingItemRepo{}
	auditor := &fakeAuditor{}
	b := newBackupJobs(t, svc, auditor, items, "")

	require.NoError(t, b.RunWeeklyEmail(context.Background()))
	assert.Empty(t, items.items)
	assert.Empty(t, auditor.actions)
}

func TestWeeklyEmail_SkipsWithoutCompletedBackup(t *testing.T) {
	items := &recordingItemRepo{}
	auditor := &fakeAuditor{}
	b := newBackupJobs(t, &fakeBackupStore{}, auditor, items, "ops@example.com")

	require.NoError(t, b.RunWeeklyEmail(context.Background()))
	assert.Empty(t, items.items)
	assert.Empty(t, auditor.actions)
}
