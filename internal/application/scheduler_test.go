package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleeistaken/vcf-credential-manager/internal/application"
	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
)

// recordingRunner counts RunSync invocations per key, optionally blocking
// each run until released.
type recordingRunner struct {
	mu    sync.Mutex
	runs  map[application.JobKey]int
	block chan struct{}
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{runs: make(map[application.JobKey]int)}
}

func (r *recordingRunner) RunSync(ctx context.Context, envID int64, scope model.SyncScope) (application.SyncOutcome, error) {
	src := model.SourceManager
	if scope == model.ScopeInstaller {
		src = model.SourceInstaller
	}

	r.mu.Lock()
	r.runs[application.JobKey{EnvironmentID: envID, Source: src}]++
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	return application.SyncOutcome{Status: model.SyncStatusSuccess}, nil
}

func (r *recordingRunner) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.runs {
		n += c
	}
	return n
}

func scheduledEnv(id int64, installerMinutes, managerMinutes int) model.Environment {
	env := model.Environment{ID: id, Name: "env"}
	if installerMinutes > 0 {
		env.Installer = model.SourceConfig{
			Host: "i.local", Username: "u", Password: "p",
			SyncEnabled: true, SyncIntervalMinutes: installerMinutes,
		}
	}
	if managerMinutes > 0 {
		env.Manager = model.SourceConfig{
			Host: "m.local", Username: "u", Password: "p",
			SyncEnabled: true, SyncIntervalMinutes: managerMinutes,
		}
	}
	return env
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduler_SchedulesConfiguredSources(t *testing.T) {
	s := application.NewScheduler(newRecordingRunner(), 2, time.Hour)
	defer s.Shutdown()

	s.ScheduleEnvironment(scheduledEnv(1, 30, 60))

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, application.JobKey{EnvironmentID: 1, Source: model.SourceInstaller}, jobs[0].Key)
	assert.Equal(t, 30*time.Minute, jobs[0].Interval)
	assert.Equal(t, application.JobKey{EnvironmentID: 1, Source: model.SourceManager}, jobs[1].Key)
	assert.Equal(t, 60*time.Minute, jobs[1].Interval)
	assert.True(t, s.Started())
}

func TestScheduler_SkipsDisabledAndUnconfiguredSources(t *testing.T) {
	s := application.NewScheduler(newRecordingRunner(), 2, time.Hour)
	defer s.Shutdown()

	env := scheduledEnv(1, 30, 60)
	env.Installer.SyncEnabled = false
	env.Manager.Host = ""
	s.ScheduleEnvironment(env)

	assert.Empty(t, s.Jobs())
}

func TestScheduler_RescheduleReplacesJobs(t *testing.T) {
	s := application.NewScheduler(newRecordingRunner(), 2, time.Hour)
	defer s.Shutdown()

	s.ScheduleEnvironment(scheduledEnv(1, 30, 60))
	s.ScheduleEnvironment(scheduledEnv(1, 15, 0))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, model.SourceInstaller, jobs[0].Key.Source)
	assert.Equal(t, 15*time.Minute, jobs[0].Interval)
}

func TestScheduler_Unschedule(t *testing.T) {
	s := application.NewScheduler(newRecordingRunner(), 2, time.Hour)
	defer s.Shutdown()

	s.ScheduleEnvironment(scheduledEnv(1, 30, 60))
	s.ScheduleEnvironment(scheduledEnv(2, 30, 0))
	s.UnscheduleEnvironment(1)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(2), jobs[0].Key.EnvironmentID)
}

func TestScheduler_NextRunPublished(t *testing.T) {
	runner := newRecordingRunner()
	s := application.NewScheduler(runner, 2, time.Hour)
	defer s.Shutdown()

	before := time.Now()
	s.ScheduleEnvironment(scheduledEnv(1, 30, 0))

	// The timer loop publishes the first firing time shortly after start.
	waitFor(t, 2*time.Second, func() bool {
		jobs := s.Jobs()
		return len(jobs) == 1 && jobs[0].NextRun.After(before)
	})

	jobs := s.Jobs()
	assert.WithinDuration(t, before.Add(30*time.Minute), jobs[0].NextRun, 5*time.Second)
	assert.Zero(t, runner.total())
}

func TestScheduler_ShutdownWaitsForInFlightRun(t *testing.T) {
	runner := newRecordingRunner()
	runner.block = make(chan struct{})
	s := application.NewScheduler(runner, 2, time.Hour)

	s.ScheduleEnvironment(scheduledEnv(1, 30, 0))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Running, "job must not be running before its first firing")

	// Shutdown cancels the context, which releases any blocked run.
	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestScheduler_RestartAfterShutdown(t *testing.T) {
	runner := newRecordingRunner()
	s := application.NewScheduler(runner, 2, time.Hour)

	s.ScheduleEnvironment(scheduledEnv(1, 30, 0))
	require.True(t, s.Started())

	s.Shutdown()
	assert.False(t, s.Started())
	// Registered jobs survive the shutdown.
	assert.Len(t, s.Jobs(), 1)

	// A later schedule operation restarts the scheduler and keeps the
	// retained job alongside the new one.
	s.ScheduleEnvironment(scheduledEnv(2, 30, 0))
	defer s.Shutdown()

	assert.True(t, s.Started())
	assert.Len(t, s.Jobs(), 2)
}

func TestScheduler_ShutdownIdempotent(t *testing.T) {
	s := application.NewScheduler(newRecordingRunner(), 2, time.Hour)
	s.ScheduleEnvironment(scheduledEnv(1, 30, 0))

	s.Shutdown()
	s.Shutdown()
	assert.False(t, s.Started())
}
