package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCronTrigger_Next(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	trigger, err := NewCronTrigger("30 3 * * *", loc)
	require.NoError(t, err)

	after := time.Date(2025, 6, 1, 10, 0, 0, 0, loc)
	next := trigger.Next(after)
	assert.Equal(t, time.Date(2025, 6, 2, 3, 30, 0, 0, loc), next)

	beforeFiring := time.Date(2025, 6, 1, 3, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2025, 6, 1, 3, 30, 0, 0, loc), trigger.Next(beforeFiring))
}

func TestCronTrigger_InvalidExpression(t *testing.T) {
	_, err := NewCronTrigger("not a cron", time.UTC)
	assert.Error(t, err)
}

func TestIntervalTrigger_Next(t *testing.T) {
	trigger := IntervalTrigger{Interval: time.Minute}
	after := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, after.Add(time.Minute), trigger.Next(after))
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	assert.Error(t, r.Register(Job{}))
	assert.Error(t, r.Register(Job{ID: "x", Trigger: IntervalTrigger{Interval: time.Second}}))
}

func TestRegistry_FiresOnInterval(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var runs atomic.Int64
	require.NoError(t, r.Register(Job{
		ID:      "tick",
		Trigger: IntervalTrigger{Interval: 20 * time.Millisecond},
		Handler: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	r.Start()
	time.Sleep(150 * time.Millisecond)
	r.Stop()

	assert.GreaterOrEqual(t, runs.Load(), int64(3))
}

func TestRegistry_RegisterReplacesExisting(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var oldRuns, newRuns atomic.Int64
	require.NoError(t, r.Register(Job{
		ID:      "rotate",
		Trigger: IntervalTrigger{Interval: 20 * time.Millisecond},
		Handler: func(context.Context) error {
			oldRuns.Add(1)
			return nil
		},
	}))

	r.Start()
	require.NoError(t, r.Register(Job{
		ID:      "rotate",
		Trigger: IntervalTrigger{Interval: 20 * time.Millisecond},
		Handler: func(context.Context) error {
			newRuns.Add(1)
			return nil
		},
	}))

	time.Sleep(120 * time.Millisecond)
	r.Stop()

	assert.GreaterOrEqual(t, newRuns.Load(), int64(2))
	// The replaced handler may have fired before replacement but must stop after.
	settled := oldRuns.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, oldRuns.Load())

	assert.Len(t, r.ListJobs(), 1)
}

func TestRegistry_PanicDoesNotKillJob(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var runs atomic.Int64
	require.NoError(t, r.Register(Job{
		ID:      "flaky",
		Trigger: IntervalTrigger{Interval: 20 * time.Millisecond},
		Handler: func(context.Context) error {
			if runs.Add(1) == 1 {
				panic("boom")
			}
			return nil
		},
	}))

	r.Start()
	time.Sleep(150 * time.Millisecond)
	r.Stop()

	assert.GreaterOrEqual(t, runs.Load(), int64(2))
}

func TestRegistry_JobErrorIsolation(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var healthyRuns atomic.Int64
	require.NoError(t, r.Register(Job{
		ID:      "failing",
		Trigger: IntervalTrigger{Interval: 20 * time.Millisecond},
		Handler: func(context.Context) error { return errors.New("db unavailable") },
	}))
	require.NoError(t, r.Register(Job{
		ID:      "healthy",
		Trigger: IntervalTrigger{Interval: 20 * time.Millisecond},
		Handler: func(context.Context) error {
			healthyRuns.Add(1)
			return nil
		},
	}))

	r.Start()
	time.Sleep(120 * time.Millisecond)
	r.Stop()

	assert.GreaterOrEqual(t, healthyRuns.Load(), int64(2))

	var failing JobStatus
	for _, js := range r.ListJobs() {
		if js.ID == "failing" {
			failing = js
		}
	}
	assert.Equal(t, "db unavailable", failing.LastError)
}

func TestRegistry_RunNow(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var runs atomic.Int64
	require.NoError(t, r.Register(Job{
		ID:      "manual",
		Trigger: IntervalTrigger{Interval: time.Hour},
		Handler: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	require.NoError(t, r.RunNow(context.Background(), "manual"))
	assert.Equal(t, int64(1), runs.Load())

	assert.Error(t, r.RunNow(context.Background(), "missing"))
}

func TestRegistry_RunNow_RejectsConcurrentRun(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, r.Register(Job{
		ID:      "slow",
		Trigger: IntervalTrigger{Interval: time.Hour},
		Handler: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))

	done := make(chan error, 1)
	go func() { done <- r.RunNow(context.Background(), "slow") }()
	<-started

	err := r.RunNow(context.Background(), "slow")
	assert.ErrorContains(t, err, "already running")

	close(release)
	require.NoError(t, <-done)
}

func TestRegistry_StartStopIdempotent(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(Job{
		ID:      "noop",
		Trigger: IntervalTrigger{Interval: time.Hour},
		Handler: func(context.Context) error { return nil },
	}))

	r.Start()
	r.Start()
	r.Stop()
	r.Stop()
}

func TestRegistry_ListJobsSorted(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	for _, id := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, r.Register(Job{
			ID:      id,
			Trigger: IntervalTrigger{Interval: time.Hour},
			Handler: func(context.Context) error { return nil },
		}))
	}

	jobs := r.ListJobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "alpha", jobs[0].ID)
	assert.Equal(t, "mike", jobs[1].ID)
	assert.Equal(t, "zulu", jobs[2].ID)
}

func TestRegistry_MisfireGraceSkipsLateFirings(t *testing.T) {
	var runs atomic.Int64
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(Job{
		ID:      "tight",
		Trigger: IntervalTrigger{Interval: time.Millisecond},
		// A one nanosecond grace is always exceeded by timer lateness,
		// so every slot is skipped instead of fired.
		MisfireGrace: time.Nanosecond,
		Handler: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	r.Start()
	time.Sleep(100 * time.Millisecond)
	r.Stop()

	assert.Zero(t, runs.Load())
	jobs := r.ListJobs()
	require.Len(t, jobs, 1)
	assert.Positive(t, jobs[0].Misfires)
}

func TestRegistry_StopDoesNotWaitForInFlightRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(Job{
		ID:      "slow",
		Trigger: IntervalTrigger{Interval: time.Millisecond},
		Handler: func(context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return nil
		},
	}))

	r.Start()
	<-started

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on an in-flight run")
	}
	close(release)
}
