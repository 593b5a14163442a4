// Package scheduler runs the periodic maintenance jobs on independent timers.
// One registry instance per process; leadership election decides which process
// actually starts it.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var firings = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zgplanner_scheduler_firings_total",
	Help: "Scheduled job firings, by job id and result.",
}, []string{"job", "result"})

// Trigger computes firing times.
type Trigger interface {
	Next(after time.Time) time.Time
}

// CronTrigger fires on a standard 5-field cron expression in a fixed location.
type CronTrigger struct {
	schedule cron.Schedule
	loc      *time.Location
}

func NewCronTrigger(expr string, loc *time.Location) (*CronTrigger, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CronTrigger{schedule: schedule, loc: loc}, nil
}

func (t *CronTrigger) Next(after time.Time) time.Time {
	return t.schedule.Next(after.In(t.loc))
}

// IntervalTrigger fires on a fixed period.
type IntervalTrigger struct {
	Interval time.Duration
}

func (t IntervalTrigger) Next(after time.Time) time.Time {
	return after.Add(t.Interval)
}

// Handler is one job firing. Errors are logged and counted; they never stop
// the job's timer.
type Handler func(ctx context.Context) error

// Job is a registered periodic task. MisfireGrace bounds how late a firing
// may start before it is abandoned; zero means no limit. Missed firings
// always coalesce into at most one catch-up run.
type Job struct {
	ID           string
	Trigger      Trigger
	Handler      Handler
	MisfireGrace time.Duration
}

// JobStatus is the ops view of one job.
type JobStatus struct {
	ID        string     `json:"id"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Running   bool       `json:"running"`
	Misfires  int64      `json:"misfires"`
}

type jobState struct {
	job     Job
	cancel  context.CancelFunc
	running bool

	nextRun  *time.Time
	lastRun  *time.Time
	lastErr  string
	misfires int64
}

// Registry owns the job timers. Each job runs on its own goroutine with
// max_instances=1: a firing that overruns into the next slot causes the next
// slot to be skipped, never a concurrent run.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*jobState
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
	now     func() time.Time
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		jobs: map[string]*jobState{},
		log:  logger.Named("scheduler"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Register adds a job. Registering an id that already exists replaces the
// previous definition; if the registry is running, the old timer is stopped
// and the new one started, so two timers for one id never coexist.
func (r *Registry) Register(job Job) error {
	if job.ID == "" || job.Trigger == nil || job.Handler == nil {
		return fmt.Errorf("job requires id, trigger and handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.jobs[job.ID]; ok {
		if old.cancel != nil {
			old.cancel()
		}
		// Reuse the state so the running flag is shared with any in-flight
		// firing of the old definition; until it finishes, the replacement
		// cannot fire concurrently with it.
		old.job = job
		r.log.Info("job_replaced", zap.String("job", job.ID))
		if r.started {
			r.launch(old)
		}
		return nil
	}

	state := &jobState{job: job}
	r.jobs[job.ID] = state
	if r.started {
		r.launch(state)
	}
	return nil
}

// Start launches every registered job. Calling it again is a no-op.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	for _, state := range r.jobs {
		r.launch(state)
	}
	r.log.Info("scheduler_started", zap.Int("jobs", len(r.jobs)))
}

// Stop cancels all timers without waiting for in-flight firings; the jobs
// are idempotent, so an interrupted run is retried on the next slot after a
// restart. Idempotent.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.cancel()
	r.mu.Unlock()

	r.log.Info("scheduler_stopped")
}

// launch starts the job loop. Caller holds r.mu.
func (r *Registry) launch(state *jobState) {
	ctx, cancel := context.WithCancel(r.ctx)
	state.cancel = cancel
	go r.runLoop(ctx, state)
}

func (r *Registry) runLoop(ctx context.Context, state *jobState) {
	for {
		now := r.now()
		next := state.job.Trigger.Next(now)

		r.mu.Lock()
		n := next
		state.nextRun = &n
		r.mu.Unlock()

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// Recomputing next from the current time after each run coalesces
		// any slots missed while the previous firing was in flight.
		lateness := r.now().Sub(next)
		if state.job.MisfireGrace > 0 && lateness > state.job.MisfireGrace {
			r.mu.Lock()
			state.misfires++
			r.mu.Unlock()
			firings.WithLabelValues(state.job.ID, "misfire").Inc()
			r.log.Warn("job_misfired",
				zap.String("job", state.job.ID),
				zap.Duration("lateness", lateness))
			continue
		}

		r.fire(ctx, state)
	}
}

// fire runs one firing with panic isolation.
func (r *Registry) fire(ctx context.Context, state *jobState) {
	r.mu.Lock()
	if state.running {
		r.mu.Unlock()
		firings.WithLabelValues(state.job.ID, "skipped").Inc()
		return
	}
	state.running = true
	r.mu.Unlock()

	started := r.now()
	err := r.invoke(ctx, state.job)

	r.mu.Lock()
	state.running = false
	state.lastRun = &started
	if err != nil {
		state.lastErr = err.Error()
	} else {
		state.lastErr = ""
	}
	r.mu.Unlock()

	if err != nil {
		firings.WithLabelValues(state.job.ID, "error").Inc()
		r.log.Error("job_failed", zap.String("job", state.job.ID), zap.Error(err))
		return
	}
	firings.WithLabelValues(state.job.ID, "success").Inc()
	r.log.Debug("job_completed",
		zap.String("job", state.job.ID),
		zap.Duration("took", r.now().Sub(started)))
}

func (r *Registry) invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return job.Handler(ctx)
}

// RunNow fires a job once, outside its schedule. It respects max_instances=1:
// a job already mid-firing returns an error instead of running twice.
func (r *Registry) RunNow(ctx context.Context, id string) error {
	r.mu.Lock()
	state, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown job: %s", id)
	}
	if state.running {
		r.mu.Unlock()
		return fmt.Errorf("job %s is already running", id)
	}
	state.running = true
	r.mu.Unlock()

	started := r.now()
	err := r.invoke(ctx, state.job)

	r.mu.Lock()
	state.running = false
	state.lastRun = &started
	if err != nil {
		state.lastErr = err.Error()
	} else {
		state.lastErr = ""
	}
	r.mu.Unlock()

	if err != nil {
		firings.WithLabelValues(id, "error").Inc()
		return err
	}
	firings.WithLabelValues(id, "manual").Inc()
	return nil
}

// ListJobs returns every job's status, sorted by id.
func (r *Registry) ListJobs() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobStatus, 0, len(r.jobs))
	for _, state := range r.jobs {
		out = append(out, JobStatus{
			ID:        state.job.ID,
			NextRun:   state.nextRun,
			LastRun:   state.lastRun,
			LastError: state.lastErr,
			Running:   state.running,
			Misfires:  state.misfires,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
