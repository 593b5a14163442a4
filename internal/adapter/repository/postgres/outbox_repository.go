package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/patrckmello/zg-planner/internal/outbox"
)

// OutboxRepository persists outbox items. The item struct carries its own
// Gorm tags, so no separate DTO is needed here.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, item *outbox.Item) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *OutboxRepository) Update(ctx context.Context, item *outbox.Item) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *OutboxRepository) FindDebounceCandidate(ctx context.Context, dispatchKey string, since time.Time) (*outbox.Item, error) {
	var item outbox.Item
	err := r.db.WithContext(ctx).
		Where("status = ?", outbox.StatusPending).
		Where("dispatch_key = ?", dispatchKey).
		Where("created_at >= ?", since).
		Order("created_at desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *OutboxRepository) FetchDue(ctx context.Context, now time.Time, limit int) ([]outbox.Item, error) {
	var items []outbox.Item
	err := r.db.WithContext(ctx).
		Where("status = ?", outbox.StatusPending).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("created_at asc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[outbox.Status]int64, error) {
	var rows []struct {
		Status outbox.Status
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&outbox.Item{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[outbox.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}
