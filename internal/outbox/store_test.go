package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrckmello/zg-planner/pkg/snowflake"
)

type memoryItemRepo struct {
	mu    sync.Mutex
	items map[int64]*Item
}

func newMemoryItemRepo() *memoryItemRepo {
	return &memoryItemRepo{items: map[int64]*Item{}}
}

func (r *memoryItemRepo) Create(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *memoryItemRepo) Update(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *memoryItemRepo) FindDebounceCandidate(_ context.Context, dispatchKey string, since time.Time) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.Status != StatusPending || it.DispatchKey == nil || *it.DispatchKey != dispatchKey {
			continue
		}
		if it.CreatedAt.Before(since) {
			continue
		}
		cp := *it
		return &cp, nil
	}
	return nil, nil
}

func (r *memoryItemRepo) FetchDue(_ context.Context, now time.Time, limit int) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Item
	for _, it := range r.items {
		if it.Status != StatusPending {
			continue
		}
		if it.NextAttemptAt != nil && it.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, *it)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *memoryItemRepo) CountByStatus(_ context.Context) (map[Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Status]int64{}
	for _, it := range r.items {
		out[it.Status]++
	}
	return out, nil
}

func (r *memoryItemRepo) all() []*Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Item
	for _, it := range r.items {
		cp := *it
		out = append(out, &cp)
	}
	return out
}

func newTestStore(t *testing.T, repo ItemRepository) *Store {
	t.Helper()
	node, err := snowflake.NewNode()
	require.NoError(t, err)
	return NewStore(repo, node, zap.NewNop())
}

func TestEnqueue_CreatesPendingItem(t *testing.T) {
	repo := newMemoryItemRepo()
	store := newTestStore(t, repo)

	item, err := store.Enqueue(context.Background(), EnqueueParams{
		Kind:       KindTaskApproved,
		Recipients: []string{"dev@example.com"},
		Payload:    map[string]any{"task_title": "deploy"},
	})
	require.NoError(t, err)
	require.NotNil(t, item)

	assert.Equal(t, StatusPending, item.Status)
	assert.Equal(t, 0, item.Attempts)
	assert.NotNil(t, item.NextAttemptAt)
	assert.Equal(t, []string{"dev@example.com"}, item.RecipientList())
	assert.Len(t, repo.all(), 1)
}

func TestEnqueue_EmptyRecipientsDropped(t *testing.T) {
	repo := newMemoryItemRepo()
	store := newTestStore(t, repo)

	item, err := store.Enqueue(context.Background(), EnqueueParams{
		Kind:       KindCommentEmail,
		Recipients: nil,
		Payload:    map[string]any{"task_title": "quiet"},
	})
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Empty(t, repo.all())
}

func TestEnqueue_DebounceMergesWithinWindow(t *testing.T) {
	repo := newMemoryItemRepo()
	store := newTestStore(t, repo)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	key := CommentDispatchKey(10, 20)
	first, err := store.Enqueue(context.Background(), EnqueueParams{
		Kind:        KindCommentEmail,
		Recipients:  []string{"user@example.com"},
		Payload:     map[string]any{"task_title": "specs", "comment_text": "first"},
		DispatchKey: key,
		EventID:     101,
	})
	require.NoError(t, err)

	// Ten seconds later, same task and recipient.
	store.now = func() time.Time { return base.Add(10 * time.Second) }
	second, err := store.Enqueue(context.Background(), EnqueueParams{
		Kind:        KindCommentEmail,
		Recipients:  []string{"user@example.com"},
		Payload:     map[string]any{"task_title": "specs", "comment_text": "second"},
		DispatchKey: key,
		EventID:     102,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.all(), 1)

	merged := repo.all()[0]
	assert.Equal(t, []int64{101, 102}, merged.AggregatedIDList())
	assert.Equal(t, float64(1), merged.PayloadMap()["extra_count"])
}

func TestEnqueue_NoMergeOutsideWindow(t *testing.T) {
	repo := newMemoryItemRepo()
	store := newTestStore(t, repo)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	key := CommentDispatchKey(10, 20)
	_, err := store.Enqueue(context.Background(), EnqueueParams{
		Kind:        KindCommentEmail,
		Recipients:  []string{"user@example.com"},
		DispatchKey: key,
		EventID:     101,
	})
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(DebounceWindow + time.Second) }
	_, err = store.Enqueue(context.Background(), EnqueueParams{
		Kind:        KindCommentEmail,
		Recipients:  []string{"user@example.com"},
		DispatchKey: key,
		EventID:     102,
	})
	require.NoError(t, err)

	assert.Len(t, repo.all(), 2)
}

func TestEnqueue_DifferentKeysDoNotMerge(t *testing.T) {
	repo := newMemoryItemRepo()
	store := newTestStore(t, repo)

	_, err := store.Enqueue(context.Background(), EnqueueParams{
		Kind:        KindCommentEmail,
		Recipients:  []string{"a@example.com"},
		DispatchKey: CommentDispatchKey(10, 20),
	})
	require.NoError(t, err)

	_, err = store.Enqueue(context.Background(), EnqueueParams{
		Kind:        KindCommentEmail,
		Recipients:  []string{"b@example.com"},
		DispatchKey: CommentDispatchKey(10, 21),
	})
	require.NoError(t, err)

	assert.Len(t, repo.all(), 2)
}
