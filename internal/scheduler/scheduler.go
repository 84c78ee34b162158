// Package scheduler runs the node's periodic duties cooperatively: every
// due task runs to completion before the next one starts, so task bodies
// never race each other.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Repeat is a task's repeat policy
type Repeat int

const (
	// Once tasks disable themselves after one run, whatever the outcome
	Once Repeat = iota
	// Forever tasks run every period while enabled
	Forever
)

func (r Repeat) String() string {
	if r == Once {
		return "once"
	}
	return "forever"
}

// Func is a task body
type Func func(ctx context.Context)

// Task is a schedulable unit. Its state is owned by the Scheduler that
// created it and changes only through Enable, EnableDelayed and Disable.
type Task struct {
	name   string
	period time.Duration
	repeat Repeat
	fn     Func
	order  int

	enabled bool
	nextRun time.Time
	runs    int64
	rearmed bool

	sched *Scheduler
}

// Name returns the task name
func (t *Task) Name() string { return t.name }

// Period returns the task period
func (t *Task) Period() time.Duration { return t.period }

// Enabled reports whether the task is armed
func (t *Task) Enabled() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.enabled
}

// Runs returns how many times the task body has executed
func (t *Task) Runs() int64 {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.runs
}

// Enable arms the task to run on the next tick. Enabling an armed task
// leaves its schedule untouched.
func (t *Task) Enable() {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	t.rearmed = true
	if t.enabled {
		return
	}
	t.enabled = true
	t.nextRun = t.sched.clock.Now()
}

// EnableDelayed arms the task to run delay from now
func (t *Task) EnableDelayed(delay time.Duration) {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	t.rearmed = true
	t.enabled = true
	t.nextRun = t.sched.clock.Now().Add(delay)
}

// Disable disarms the task
func (t *Task) Disable() {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	t.enabled = false
	t.rearmed = false
}

// Scheduler owns a set of tasks and a single tick that runs the due ones
type Scheduler struct {
	mu     sync.Mutex
	tickMu sync.Mutex // serializes Tick

	clock  clockwork.Clock
	logger *zap.Logger
	tasks  []*Task

	cron gocron.Scheduler
}

// New creates a scheduler reading time from clock
func New(clock clockwork.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{clock: clock, logger: logger}
}

// Add registers a disabled task
func (s *Scheduler) Add(name string, period time.Duration, repeat Repeat, fn Func) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Task{
		name:   name,
		period: period,
		repeat: repeat,
		fn:     fn,
		order:  len(s.tasks),
		sched:  s,
	}
	s.tasks = append(s.tasks, t)
	return t
}

// Tick runs every due task to completion, earliest due first, ties broken
// by registration order. A task armed by another task during this tick
// runs on the next tick. It returns the number of bodies executed.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.clock.Now()

	s.mu.Lock()
	var due []*Task
	for _, t := range s.tasks {
		if t.enabled && !t.nextRun.After(now) {
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].nextRun.Equal(due[j].nextRun) {
			return due[i].order < due[j].order
		}
		return due[i].nextRun.Before(due[j].nextRun)
	})
	s.mu.Unlock()

	ran := 0
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}

		s.mu.Lock()
		// an earlier body in this tick may have disabled or re-armed it
		if !t.enabled || t.nextRun.After(now) {
			s.mu.Unlock()
			continue
		}
		dueAt := t.nextRun
		t.rearmed = false
		s.mu.Unlock()

		s.run(ctx, t)
		ran++

		s.mu.Lock()
		t.runs++
		switch {
		case t.rearmed:
			// the body re-armed or disabled itself; honour that
		case t.repeat == Once:
			t.enabled = false
		default:
			next := dueAt.Add(t.period)
			if after := s.clock.Now(); !next.After(after) {
				next = after.Add(t.period)
			}
			t.nextRun = next
		}
		s.mu.Unlock()
	}

	return ran
}

// run executes a body, recovering a panic so one task cannot stop the node
func (s *Scheduler) run(ctx context.Context, t *Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in task",
				zap.String("task", t.name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	t.fn(ctx)
}

// Start drives Tick every resolution from a single gocron job in singleton
// mode, so a slow tick delays the next one instead of overlapping it
func (s *Scheduler) Start(ctx context.Context, resolution time.Duration) error {
	cron, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return fmt.Errorf("failed to create tick scheduler: %w", err)
	}

	_, err = cron.NewJob(
		gocron.DurationJob(resolution),
		gocron.NewTask(func() {
			s.Tick(ctx)
		}),
		gocron.WithName("tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cron.Shutdown()
		return fmt.Errorf("failed to create tick job: %w", err)
	}

	s.cron = cron
	cron.Start()

	s.logger.Info("Scheduler started",
		zap.Duration("resolution", resolution),
		zap.Int("tasks", len(s.tasks)))
	return nil
}

// Shutdown stops the tick. A running task body is allowed to finish.
func (s *Scheduler) Shutdown() error {
	if s.cron == nil {
		return nil
	}
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop tick scheduler: %w", err)
	}
	return nil
}
