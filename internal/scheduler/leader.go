package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LeaderGuard elects a single scheduling process via a Postgres session-level
// advisory lock. The lock lives on a dedicated connection; losing the
// connection releases it, so a crashed leader is replaced on the next poll.
type LeaderGuard struct {
	db      *gorm.DB
	lockKey int64
	log     *zap.Logger

	conn *sql.Conn
}

func NewLeaderGuard(db *gorm.DB, lockKey int64, logger *zap.Logger) *LeaderGuard {
	return &LeaderGuard{
		db:      db,
		lockKey: lockKey,
		log:     logger.Named("leader"),
	}
}

// TryAcquire attempts the advisory lock without blocking. It reports whether
// this process is now the leader.
func (g *LeaderGuard) TryAcquire(ctx context.Context) (bool, error) {
	if g.conn != nil {
		return true, nil
	}

	sqlDB, err := g.db.DB()
	if err != nil {
		return false, fmt.Errorf("access sql.DB: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", g.lockKey).Scan(&acquired); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return false, nil
	}

	g.conn = conn
	g.log.Info("leadership_acquired", zap.Int64("lock_key", g.lockKey))
	return true, nil
}

// Release gives up leadership. Safe to call when not leading.
func (g *LeaderGuard) Release(ctx context.Context) {
	if g.conn == nil {
		return
	}
	if _, err := g.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", g.lockKey); err != nil {
		g.log.Warn("advisory_unlock_failed", zap.Error(err))
	}
	if err := g.conn.Close(); err != nil {
		g.log.Warn("leader_conn_close_failed", zap.Error(err))
	}
	g.conn = nil
	g.log.Info("leadership_released", zap.Int64("lock_key", g.lockKey))
}

// WaitForLeadership polls until the lock is acquired or ctx is cancelled.
func (g *LeaderGuard) WaitForLeadership(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}

	for {
		acquired, err := g.TryAcquire(ctx)
		if err != nil {
			g.log.Warn("leadership_probe_failed", zap.Error(err))
		} else if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
