package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler() (*Scheduler, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return New(clock, zap.NewNop()), clock
}

func TestDisabledTaskNeverRuns(t *testing.T) {
	s, clock := newTestScheduler()
	ctx := context.Background()
	task := s.Add("idle", time.Second, Forever, func(context.Context) {
		t.Error("disabled task ran")
	})

	for i := 0; i < 5; i++ {
		s.Tick(ctx)
		clock.Advance(time.Second)
	}
	assert.False(t, task.Enabled())
	assert.Equal(t, int64(0), task.Runs())
}

func TestForeverTaskRunsEveryPeriod(t *testing.T) {
	s, clock := newTestScheduler()
	ctx := context.Background()
	task := s.Add("deliver", time.Minute, Forever, func(context.Context) {})
	task.Enable()

	// runs immediately on enable
	assert.Equal(t, 1, s.Tick(ctx))

	clock.Advance(30 * time.Second)
	assert.Equal(t, 0, s.Tick(ctx))

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, s.Tick(ctx))

	clock.Advance(time.Minute)
	assert.Equal(t, 1, s.Tick(ctx))
	assert.Equal(t, int64(3), task.Runs())
	assert.True(t, task.Enabled())
}

func TestFallingBehindDoesNotBurst(t *testing.T) {
	s, clock := newTestScheduler()
	ctx := context.Background()
	task := s.Add("capture", time.Minute, Forever, func(context.Context) {})
	task.Enable()
	s.Tick(ctx)

	// the node was busy for ten periods
	clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, s.Tick(ctx))
	assert.Equal(t, 0, s.Tick(ctx))

	clock.Advance(time.Minute)
	assert.Equal(t, 1, s.Tick(ctx))
}

func TestOnceTaskDisablesItselfRegardlessOfOutcome(t *testing.T) {
	s, clock := newTestScheduler()
	ctx := context.Background()

	ok := s.Add("succeeds", time.Second, Once, func(context.Context) {})
	failing := s.Add("fails", time.Second, Once, func(context.Context) {
		panic("camera init exploded")
	})
	ok.Enable()
	failing.Enable()

	assert.Equal(t, 2, s.Tick(ctx))
	assert.False(t, ok.Enabled())
	assert.False(t, failing.Enabled())

	clock.Advance(time.Hour)
	assert.Equal(t, 0, s.Tick(ctx))
}

func TestOnceTaskMayRearmItself(t *testing.T) {
	s, clock := newTestScheduler()
	ctx := context.Background()

	var attempts int
	var task *Task
	task = s.Add("init", time.Second, Once, func(context.Context) {
		attempts++
		if attempts < 3 {
			task.EnableDelayed(30 * time.Second)
		}
	})
	task.Enable()

	s.Tick(ctx)
	require.True(t, task.Enabled())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 0, s.Tick(ctx))

	clock.Advance(20 * time.Second)
	assert.Equal(t, 1, s.Tick(ctx))
	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, s.Tick(ctx))

	assert.Equal(t, 3, attempts)
	assert.False(t, task.Enabled())
}

func TestTaskEnabledByAnotherRunsNextTick(t *testing.T) {
	s, _ := newTestScheduler()
	ctx := context.Background()

	var order []string
	second := s.Add("second", time.Second, Once, func(context.Context) {
		order = append(order, "second")
	})
	first := s.Add("first", time.Second, Once, func(context.Context) {
		order = append(order, "first")
		second.Enable()
	})
	first.Enable()

	s.Tick(ctx)
	assert.Equal(t, []string{"first"}, order)

	s.Tick(ctx)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDueOrder(t *testing.T) {
	s, clock := newTestScheduler()
	ctx := context.Background()

	var order []string
	record := func(name string) Func {
		return func(context.Context) { order = append(order, name) }
	}

	a := s.Add("a", time.Minute, Forever, record("a"))
	b := s.Add("b", time.Minute, Forever, record("b"))
	c := s.Add("c", time.Minute, Forever, record("c"))

	c.EnableDelayed(time.Second)
	b.EnableDelayed(2 * time.Second)
	a.EnableDelayed(2 * time.Second)

	clock.Advance(5 * time.Second)
	s.Tick(ctx)

	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestDisableFromAnotherTask(t *testing.T) {
	s, _ := newTestScheduler()
	ctx := context.Background()

	var victimRan bool
	var victim *Task
	killer := s.Add("killer", time.Second, Forever, func(context.Context) { victim.Disable() })
	victim = s.Add("victim", time.Second, Forever, func(context.Context) { victimRan = true })
	killer.Enable()
	victim.Enable()

	s.Tick(ctx)
	assert.False(t, victimRan)
	assert.False(t, victim.Enabled())
	assert.True(t, killer.Enabled())
}

func TestTickStopsOnCancelledContext(t *testing.T) {
	s, _ := newTestScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.Add("a", time.Second, Forever, func(context.Context) {}).Enable()
	assert.Equal(t, 0, s.Tick(ctx))
}

func TestStartDrivesTicks(t *testing.T) {
	s := New(clockwork.NewRealClock(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int64
	s.Add("beat", 10*time.Millisecond, Forever, func(context.Context) { runs.Add(1) }).Enable()

	require.NoError(t, s.Start(ctx, 10*time.Millisecond))
	defer s.Shutdown()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestShutdownWithoutStart(t *testing.T) {
	s, _ := newTestScheduler()
	assert.NoError(t, s.Shutdown())
}
