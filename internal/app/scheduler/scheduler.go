// Package scheduler runs named recurring tasks on independent timers.
//
// Each task has a completion gate: a tick that arrives while the previous run of
// the same task is still executing is skipped and counted, never queued.
// Distinct tasks run concurrently. Stop cancels the timers and the context
// handed to task bodies, then waits for in-flight bodies to return.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openctemio/secmon/pkg/logger"
)

// TaskFunc is the body of a scheduled task.
type TaskFunc func(ctx context.Context) error

// Metrics defines the interface for scheduler metrics collection.
type Metrics interface {
	RecordRun(task string, duration time.Duration, err error)
	IncrementSkipped(task string)
	SetTaskRunning(task string, running bool)
}

// Stats is a point-in-time view of a task's counters.
type Stats struct {
	Name      string
	Schedule  string
	Runs      int64
	Failures  int64
	Skipped   int64
	Running   bool
	LastRun   time.Time
	LastError string
}

// TaskOption customizes a registration.
type TaskOption func(*task)

// WithRunImmediately fires the task once as soon as its loop starts.
func WithRunImmediately() TaskOption {
	return func(t *task) {
		t.runImmediately = true
	}
}

// WithTimeout bounds each run of the task.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *task) {
		t.timeout = d
	}
}

type schedule interface {
	Next(time.Time) time.Time
}

type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// gate is shared by successive registrations of the same name so a replaced
// task's in-flight run still blocks the replacement's ticks.
type gate struct {
	running   atomic.Bool
	runs      atomic.Int64
	failures  atomic.Int64
	skipped   atomic.Int64
	mu        sync.Mutex
	lastRun   time.Time
	lastError string
}

type task struct {
	name           string
	describe       string
	sched          schedule
	fn             TaskFunc
	runImmediately bool
	timeout        time.Duration
	gate           *gate
	stopCh         chan struct{}
	stopOnce       sync.Once
}

func (t *task) rearm() *task {
	return &task{
		name:           t.name,
		describe:       t.describe,
		sched:          t.sched,
		fn:             t.fn,
		runImmediately: t.runImmediately,
		timeout:        t.timeout,
		gate:           t.gate,
		stopCh:         make(chan struct{}),
	}
}

func (t *task) stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// Config configures the scheduler.
type Config struct {
	// Metrics collector (optional)
	Metrics Metrics

	// Logger (required)
	Logger *logger.Logger
}

// Scheduler runs named recurring tasks.
type Scheduler struct {
	tasks   map[string]*task
	metrics Metrics
	logger  *logger.Logger
	parser  cron.Parser

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	bodies  sync.WaitGroup
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		tasks:   make(map[string]*task),
		metrics: cfg.Metrics,
		logger:  log.With("component", "scheduler"),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Register schedules fn every interval under name. Registering an existing name
// replaces the previous timer; its in-flight run still gates the new one.
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc, opts ...TaskOption) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive, got %s", name, interval)
	}
	return s.register(name, every(interval), interval.String(), fn, opts)
}

// RegisterCron schedules fn on a standard five-field cron expression.
func (s *Scheduler) RegisterCron(name, spec string, fn TaskFunc, opts ...TaskOption) error {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("task %s: invalid cron expression %q: %w", name, spec, err)
	}
	return s.register(name, sched, spec, fn, opts)
}

func (s *Scheduler) register(name string, sched schedule, describe string, fn TaskFunc, opts []TaskOption) error {
	if name == "" {
		return fmt.Errorf("task name is required")
	}
	if fn == nil {
		return fmt.Errorf("task %s: function is required", name)
	}

	t := &task{
		name:     name,
		describe: describe,
		sched:    sched,
		fn:       fn,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.tasks[name]; ok {
		t.gate = prev.gate
		prev.stop()
		s.logger.Info("task replaced", "task", name, "schedule", describe)
	} else {
		t.gate = &gate{}
		s.logger.Info("task registered", "task", name, "schedule", describe)
	}
	s.tasks[name] = t

	if s.running {
		s.loops.Add(1)
		go s.loop(t)
	}
	return nil
}

// Start starts the loops of all registered tasks.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("starting scheduler", "task_count", len(s.tasks))
	for name, t := range s.tasks {
		// fresh stop channel so a stopped scheduler can be started again
		t = t.rearm()
		s.tasks[name] = t
		s.loops.Add(1)
		go s.loop(t)
	}
	return nil
}

// Stop cancels every timer and waits for in-flight runs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	for _, t := range s.tasks {
		t.stop()
	}
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	cancel()
	s.loops.Wait()
	s.bodies.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// Stats returns the counters of a task.
func (s *Scheduler) Stats(name string) (Stats, bool) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return Stats{}, false
	}

	g := t.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Name:      name,
		Schedule:  t.describe,
		Runs:      g.runs.Load(),
		Failures:  g.failures.Load(),
		Skipped:   g.skipped.Load(),
		Running:   g.running.Load(),
		LastRun:   g.lastRun,
		LastError: g.lastError,
	}, true
}

// TaskNames returns the registered task names, sorted.
func (s *Scheduler) TaskNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRunning checks if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(t *task) {
	defer s.loops.Done()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if t.runImmediately {
		s.fire(ctx, t)
	}

	next := t.sched.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-timer.C:
			s.fire(ctx, t)
			next = t.sched.Next(next)
			if now := time.Now(); next.Before(now) {
				// Fell behind: resume from now instead of firing a burst.
				next = t.sched.Next(now)
			}
			timer.Reset(time.Until(next))
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, t *task) {
	g := t.gate
	if !g.running.CompareAndSwap(false, true) {
		g.skipped.Add(1)
		if s.metrics != nil {
			s.metrics.IncrementSkipped(t.name)
		}
		s.logger.Warn("task still running, tick skipped", "task", t.name, "skipped_total", g.skipped.Load())
		return
	}

	s.bodies.Add(1)
	go func() {
		defer s.bodies.Done()
		defer g.running.Store(false)
		s.execute(ctx, t)
	}()
}

func (s *Scheduler) execute(ctx context.Context, t *task) {
	if s.metrics != nil {
		s.metrics.SetTaskRunning(t.name, true)
		defer s.metrics.SetTaskRunning(t.name, false)
	}

	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeRun(runCtx, t.fn)
	duration := time.Since(start)

	g := t.gate
	g.runs.Add(1)
	g.mu.Lock()
	g.lastRun = start
	if err != nil {
		g.failures.Add(1)
		g.lastError = err.Error()
	} else {
		g.lastError = ""
	}
	g.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordRun(t.name, duration, err)
	}

	if err != nil {
		s.logger.Error("task failed", "task", t.name, "duration", duration, "error", err)
		return
	}
	s.logger.Debug("task completed", "task", t.name, "duration", duration)
}

func safeRun(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
