package outbox

import (
	"context"
	"time"
)

// ItemRepository is the persistence boundary for outbox rows. The postgres
// implementation lives in the adapter layer; tests use an in-memory fake.
type ItemRepository interface {
	Create(ctx context.Context, item *Item) error
	Update(ctx context.Context, item *Item) error
	// FindDebounceCandidate returns the pending row with the given dispatch
	// key created at or after since, or nil when no such row exists.
	FindDebounceCandidate(ctx context.Context, dispatchKey string, since time.Time) (*Item, error)
	// FetchDue returns up to limit pending rows whose next_attempt_at is at
	// or before now, oldest first.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]Item, error)
	// CountByStatus reports queue depth per status for the ops endpoints.
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
