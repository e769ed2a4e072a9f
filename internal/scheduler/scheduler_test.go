package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sitewatch/internal/monitor"
	"sitewatch/internal/store/memory"
)

type fakeRunner struct {
	mu      sync.Mutex
	started map[int64]int
	running map[int64]bool
	block   chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(map[int64]int), running: make(map[int64]bool)}
}

func (f *fakeRunner) RunTask(_ context.Context, taskID int64) (monitor.RunLog, error) {
	f.mu.Lock()
	f.started[taskID]++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return monitor.RunLog{TaskID: taskID, Status: monitor.RunStatusCompleted}, nil
}

func (f *fakeRunner) IsRunning(taskID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[taskID]
}

func (f *fakeRunner) startCount(taskID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started[taskID]
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	site := monitor.Site{IntervalMinutes: 30}

	require.True(t, due(monitor.Task{}, site, now), "never-run task is always due")

	recent := now.Add(-10 * time.Minute)
	require.False(t, due(monitor.Task{LastRunAt: &recent}, site, now))

	old := now.Add(-31 * time.Minute)
	require.True(t, due(monitor.Task{LastRunAt: &old}, site, now))

	exact := now.Add(-30 * time.Minute)
	require.True(t, due(monitor.Task{LastRunAt: &exact}, site, now))

	// Zero interval falls back to the default.
	justUnderDefault := now.Add(-59 * time.Minute)
	require.False(t, due(monitor.Task{LastRunAt: &justUnderDefault}, monitor.Site{}, now))
}

func TestTickLaunchesDueTasks(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	st.PutSite(monitor.Site{ID: 10, URL: "https://a.example", IntervalMinutes: 30})
	st.PutSite(monitor.Site{ID: 11, URL: "https://b.example", IntervalMinutes: 30})
	now := time.Now()
	recent := now.Add(-5 * time.Minute)
	st.PutTask(monitor.Task{ID: 1, SiteID: 10, Active: true})
	st.PutTask(monitor.Task{ID: 2, SiteID: 11, Active: true, LastRunAt: &recent})
	st.PutTask(monitor.Task{ID: 3, SiteID: 10, Active: false})

	fr := newFakeRunner()
	s := New(st, fr, fixedClock{now: now}, time.Minute, zap.NewNop())

	s.tick(context.Background())
	s.wg.Wait()

	require.Equal(t, 1, fr.startCount(1), "never-run active task launched")
	require.Zero(t, fr.startCount(2), "recently run task not due")
	require.Zero(t, fr.startCount(3), "inactive task never launched")
}

func TestTickSkipsRunningTask(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	st.PutSite(monitor.Site{ID: 10, URL: "https://a.example"})
	st.PutTask(monitor.Task{ID: 1, SiteID: 10, Active: true})

	fr := newFakeRunner()
	fr.running[1] = true
	s := New(st, fr, fixedClock{now: time.Now()}, time.Minute, zap.NewNop())

	s.tick(context.Background())
	s.wg.Wait()

	require.Zero(t, fr.startCount(1))
}

type failingSource struct{ calls atomic.Int32 }

func (f *failingSource) ListActiveTasks(context.Context) ([]monitor.Task, error) {
	f.calls.Add(1)
	return nil, errors.New("db down")
}

func (f *failingSource) GetSite(context.Context, int64) (monitor.Site, error) {
	return monitor.Site{}, errors.New("db down")
}

func TestRunSurvivesTickErrors(t *testing.T) {
	t.Parallel()

	src := &failingSource{}
	s := New(src, newFakeRunner(), fixedClock{now: time.Now()}, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond,
		"loop keeps ticking past errors")
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}
}

func TestConcurrentDueTasksRunInParallel(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	st.PutSite(monitor.Site{ID: 10, URL: "https://a.example"})
	st.PutSite(monitor.Site{ID: 11, URL: "https://b.example"})
	st.PutTask(monitor.Task{ID: 1, SiteID: 10, Active: true})
	st.PutTask(monitor.Task{ID: 2, SiteID: 11, Active: true})

	fr := newFakeRunner()
	fr.block = make(chan struct{})
	s := New(st, fr, fixedClock{now: time.Now()}, time.Minute, zap.NewNop())

	s.tick(context.Background())

	// Both launches are in flight simultaneously while blocked.
	require.Eventually(t, func() bool {
		return fr.startCount(1) == 1 && fr.startCount(2) == 1
	}, 2*time.Second, 5*time.Millisecond)

	close(fr.block)
	s.wg.Wait()
}
