package application

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
)

// SyncRunner is the narrow dependency the scheduler needs from the sync
// service. Workers load fresh environment state through it at execution
// time instead of closing over possibly-stale objects.
type SyncRunner interface {
	RunSync(ctx context.Context, envID int64, scope model.SyncScope) (SyncOutcome, error)
}

// DefaultMisfireGrace is how late a firing may be and still run. A brief
// outage coalesces missed intervals into one catch-up run; anything older
// skips to the next interval.
const DefaultMisfireGrace = time.Hour

// JobKey identifies one recurring sync job: each environment owns up to
// two, one per source.
type JobKey struct {
	EnvironmentID int64
	Source        model.Source
}

// JobStatus describes one scheduled job for the admin API.
type JobStatus struct {
	Key      JobKey
	Interval time.Duration
	NextRun  time.Time
	Running  bool
}

type job struct {
	key      JobKey
	interval time.Duration
	running  atomic.Bool  // in-flight guard: firings are skipped, never queued
	nextRun  atomic.Int64 // unix nanos, read by Jobs()
	cancel   context.CancelFunc
}

// Scheduler owns the recurring sync jobs of the process. Each job runs in
// its own timer goroutine; firings are dispatched as job descriptions to
// a small bounded worker pool. One instance per job may be live at a
// time; different jobs run concurrently.
//
// The scheduler is restartable: scheduling operations on a stopped
// scheduler start it rather than silently doing nothing.
type Scheduler struct {
	runner       SyncRunner
	workers      int
	misfireGrace time.Duration

	mu      sync.Mutex
	jobs    map[JobKey]*job
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workCh  chan *job
}

// NewScheduler creates a stopped Scheduler. workers bounds concurrent job
// executions; non-positive values default to 4.
func NewScheduler(runner SyncRunner, workers int, misfireGrace time.Duration) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	if misfireGrace <= 0 {
		misfireGrace = DefaultMisfireGrace
	}
	return &Scheduler{
		runner:       runner,
		workers:      workers,
		misfireGrace: misfireGrace,
		jobs:         make(map[JobKey]*job),
	}
}

// Start launches the worker pool and the timer loops for any jobs already
// registered. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	if s.started {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancel = cancel
	s.workCh = make(chan *job, s.workers)
	s.started = true

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, s.workCh)
	}
	for _, j := range s.jobs {
		s.startJobLocked(ctx, j)
	}

	slog.Info("scheduler started", "workers", s.workers, "jobs", len(s.jobs))
}

func (s *Scheduler) startJobLocked(ctx context.Context, j *job) {
	jobCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	s.wg.Add(1)
	go s.runJob(jobCtx, j, s.workCh)
}

// Shutdown stops all timer loops and workers and waits for in-flight runs
// to finish. Registered jobs are retained, so a later Start (or schedule
// operation) resumes them.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("scheduler stopped")
}

// ScheduleEnvironment registers the environment's recurring jobs, one per
// source with syncing enabled and a positive interval. It is idempotent:
// any pre-existing job for either source is removed first, so
// configuration edits always take effect with no duplicate firings.
func (s *Scheduler) ScheduleEnvironment(env model.Environment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()

	for _, src := range []model.Source{model.SourceInstaller, model.SourceManager} {
		key := JobKey{EnvironmentID: env.ID, Source: src}
		s.removeJobLocked(key)

		cfg := env.Source(src)
		if !cfg.SyncEnabled || cfg.SyncIntervalMinutes <= 0 || !cfg.Configured() {
			continue
		}

		j := &job{
			key:      key,
			interval: time.Duration(cfg.SyncIntervalMinutes) * time.Minute,
		}
		s.jobs[key] = j
		s.startJobLocked(s.ctx, j)
		scheduledJobs.Inc()

		slog.Info("sync job scheduled",
			"environment_id", env.ID,
			"environment", env.Name,
			"source", src,
			"interval", j.interval,
		)
	}
}

// UnscheduleEnvironment removes both of the environment's jobs, if
// present.
func (s *Scheduler) UnscheduleEnvironment(envID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, src := range []model.Source{model.SourceInstaller, model.SourceManager} {
		s.removeJobLocked(JobKey{EnvironmentID: envID, Source: src})
	}
}

func (s *Scheduler) removeJobLocked(key JobKey) {
	j, ok := s.jobs[key]
	if !ok {
		return
	}
	if j.cancel != nil {
		j.cancel()
	}
	delete(s.jobs, key)
	scheduledJobs.Dec()
	slog.Info("sync job removed", "environment_id", key.EnvironmentID, "source", key.Source)
}

// Jobs returns a snapshot of the scheduled jobs, ordered by environment
// then source.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			Key:      j.key,
			Interval: j.interval,
			NextRun:  time.Unix(0, j.nextRun.Load()),
			Running:  j.running.Load(),
		})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Key.EnvironmentID != out[k].Key.EnvironmentID {
			return out[i].Key.EnvironmentID < out[k].Key.EnvironmentID
		}
		return out[i].Key.Source < out[k].Key.Source
	})
	return out
}

// Started reports whether the scheduler is currently running.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// runJob is the timer loop for one job. Late firings within the misfire
// grace run once (missed intervals coalesce); later ones skip to the next
// interval. A firing that lands while the previous run is still in flight
// is skipped, not queued.
func (s *Scheduler) runJob(ctx context.Context, j *job, workCh chan<- *job) {
	defer s.wg.Done()

	next := time.Now().Add(j.interval)
	j.nextRun.Store(next.UnixNano())
	timer := time.NewTimer(j.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fired := <-timer.C:
			switch {
			case fired.Sub(next) > s.misfireGrace:
				skippedFirings.WithLabelValues("misfire").Inc()
				slog.Warn("firing missed beyond grace period, skipping",
					"environment_id", j.key.EnvironmentID,
					"source", j.key.Source,
					"late", fired.Sub(next).Round(time.Second),
				)
			case !j.running.CompareAndSwap(false, true):
				skippedFirings.WithLabelValues("overlap").Inc()
				slog.Warn("previous run still in flight, skipping firing",
					"environment_id", j.key.EnvironmentID,
					"source", j.key.Source,
				)
			default:
				select {
				case workCh <- j:
				case <-ctx.Done():
					j.running.Store(false)
					return
				}
			}

			// Next run is computed from now, not from the missed slot, so
			// a burst of missed intervals triggers at most one catch-up.
			next = time.Now().Add(j.interval)
			j.nextRun.Store(next.UnixNano())
			timer.Reset(time.Until(next))
		}
	}
}

// worker executes dispatched job descriptions. The environment's fresh
// state is loaded by the runner at execution time.
func (s *Scheduler) worker(ctx context.Context, workCh <-chan *job) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-workCh:
			scope := model.ScopeManager
			if j.key.Source == model.SourceInstaller {
				scope = model.ScopeInstaller
			}

			outcome, err := s.runner.RunSync(ctx, j.key.EnvironmentID, scope)
			if err != nil {
				slog.Error("scheduled sync failed",
					"environment_id", j.key.EnvironmentID,
					"source", j.key.Source,
					"error", err,
				)
			} else {
				slog.Info("scheduled sync finished",
					"environment_id", j.key.EnvironmentID,
					"source", j.key.Source,
					"status", outcome.Status,
					"run_id", outcome.RunID,
				)
			}
			j.running.Store(false)
		}
	}
}
