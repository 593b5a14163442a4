package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/patrckmello/zg-planner/pkg/snowflake"
)

// DebounceWindow bounds how far back Enqueue looks for a pending row with the
// same dispatch key before merging instead of inserting.
const DebounceWindow = 2 * time.Minute

// EnqueueParams describes one notification to enqueue. EventID identifies the
// triggering domain record (a comment id, for comment emails) and feeds the
// aggregated id list on merge; zero means no aggregation tracking.
type EnqueueParams struct {
	Kind        Kind
	Recipients  []string
	Payload     map[string]any
	DispatchKey string
	EventID     int64
}

// Store writes notification jobs. Delivery is the worker's problem.
type Store struct {
	repo ItemRepository
	node *snowflake.Node
	log  *zap.Logger
	now  func() time.Time
}

func NewStore(repo ItemRepository, node *snowflake.Node, logger *zap.Logger) *Store {
	return &Store{
		repo: repo,
		node: node,
		log:  logger.Named("outbox"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue inserts one pending row, or merges into an existing pending row
// when a dispatch key matches within the debounce window. Empty recipient
// lists are dropped silently; that is policy, not an error.
func (s *Store) Enqueue(ctx context.Context, p EnqueueParams) (*Item, error) {
	if len(p.Recipients) == 0 {
		s.log.Debug("enqueue_dropped_no_recipients", zap.String("kind", string(p.Kind)))
		return nil, nil
	}

	now := s.now()

	if p.DispatchKey != "" {
		existing, err := s.repo.FindDebounceCandidate(ctx, p.DispatchKey, now.Add(-DebounceWindow))
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.merge(ctx, existing, p)
		}
	}

	item := &Item{
		ID:            s.node.GenerateID(),
		Kind:          p.Kind,
		Status:        StatusPending,
		NextAttemptAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := item.SetRecipients(p.Recipients); err != nil {
		return nil, err
	}
	if err := item.SetPayload(p.Payload); err != nil {
		return nil, err
	}
	if p.DispatchKey != "" {
		key := p.DispatchKey
		item.DispatchKey = &key
	}
	if p.EventID != 0 {
		if err := item.SetAggregatedIDs([]int64{p.EventID}); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, item); err != nil {
		return nil, err
	}

	s.log.Debug("enqueued",
		zap.Int64("item_id", item.ID),
		zap.String("kind", string(p.Kind)),
		zap.Int("recipients", len(p.Recipients)))
	return item, nil
}

// merge folds a repeated event into the existing pending row: the new event
// id joins aggregated_ids and payload.extra_count counts the extras.
func (s *Store) merge(ctx context.Context, existing *Item, p EnqueueParams) (*Item, error) {
	if p.EventID != 0 {
		ids := existing.AggregatedIDList()
		if err := existing.SetAggregatedIDs(append(ids, p.EventID)); err != nil {
			return nil, err
		}
	}

	payload := existing.PayloadMap()
	extra := 0
	if v, ok := payload["extra_count"].(float64); ok {
		extra = int(v)
	}
	payload["extra_count"] = extra + 1
	if err := existing.SetPayload(payload); err != nil {
		return nil, err
	}

	existing.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}

	s.log.Debug("merged_into_pending",
		zap.Int64("item_id", existing.ID),
		zap.String("dispatch_key", p.DispatchKey),
		zap.Int("extra_count", extra+1))
	return existing, nil
}
