// Package scheduler runs periodic tasks on a single goroutine.
//
// Each task re-arms itself one period after its body completes, so a slow
// body delays the next firing instead of skipping it. Tasks never run
// concurrently with each other or with functions handed to Post, which lets
// the tasks share state without locks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Tickable is a unit of periodic work.
type Tickable interface {
	Fire(ctx context.Context, now time.Time) error
}

// TickFunc adapts a function to Tickable.
type TickFunc func(ctx context.Context, now time.Time) error

func (f TickFunc) Fire(ctx context.Context, now time.Time) error { return f(ctx, now) }

// PanicError wraps a value recovered from a tick body.
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}

var (
	ErrStopped = errors.New("scheduler: loop stopped")
	ErrRunning = errors.New("scheduler: loop already running")
)

type task struct {
	name   string
	period time.Duration
	tick   Tickable
	next   time.Time
	attrs  metric.MeasurementOption
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithLogger sets the logger for tick failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithPostBuffer sets how many posted functions may wait for the loop.
func WithPostBuffer(n int) Option {
	return func(l *Loop) { l.posted = make(chan func(), n) }
}

// Loop is a single-threaded earliest-deadline scheduler.
type Loop struct {
	tasks   []*task
	posted  chan func()
	done    chan struct{}
	running atomic.Bool
	now     func() time.Time
	logger  *slog.Logger

	duration metric.Float64Histogram
	failures metric.Int64Counter
}

// New creates an idle Loop. Instruments come from the global OTel meter.
func New(opts ...Option) (*Loop, error) {
	l := &Loop{
		posted: make(chan func(), 64),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}

	m := meter()
	var err error
	l.duration, err = m.Float64Histogram("scheduler.tick.duration",
		metric.WithDescription("Tick body duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	l.failures, err = m.Int64Counter("scheduler.tick.failures",
		metric.WithDescription("Tick bodies that returned an error or panicked"))
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}
	return l, nil
}

// Every registers t to fire every period, starting at the first pass of the
// loop. It must be called before Run.
func (l *Loop) Every(name string, period time.Duration, t Tickable) {
	if period <= 0 {
		panic(fmt.Sprintf("scheduler: task %s has non-positive period %v", name, period))
	}
	l.tasks = append(l.tasks, &task{
		name:   name,
		period: period,
		tick:   t,
		attrs:  metric.WithAttributes(attribute.String("task", name)),
	})
}

// Post queues fn to run on the loop goroutine between task firings. It
// blocks while the post buffer is full and fails once the loop has stopped.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.posted <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run drives the tasks until ctx is cancelled. Tick errors are logged and
// counted; they never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(l.done)

	start := l.now()
	for _, t := range l.tasks {
		if t.next.IsZero() {
			t.next = start
		}
	}

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		l.FireDue(ctx, l.now())

		wait := time.Hour
		if next, ok := l.NextDeadline(); ok {
			wait = next.Sub(l.now())
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(max(wait, 0))

		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.posted:
			l.runPosted(fn)
		case <-timer.C:
		}
	}
}

// FireDue fires, in deadline order, every task due at or before now. Each
// task fires at most once per call and is re-armed one period after its body
// returns. It returns the number of tasks fired.
func (l *Loop) FireDue(ctx context.Context, now time.Time) int {
	fired := 0
	for range l.tasks {
		t := l.earliest()
		if t == nil || t.next.After(now) {
			break
		}
		l.fire(ctx, t, now)
		t.next = l.now().Add(t.period)
		fired++
	}
	return fired
}

// NextDeadline reports the earliest pending deadline.
func (l *Loop) NextDeadline() (time.Time, bool) {
	t := l.earliest()
	if t == nil {
		return time.Time{}, false
	}
	return t.next, true
}

func (l *Loop) earliest() *task {
	var best *task
	for _, t := range l.tasks {
		if best == nil || t.next.Before(best.next) {
			best = t
		}
	}
	return best
}

func (l *Loop) fire(ctx context.Context, t *task, now time.Time) {
	began := time.Now()
	err := safeFire(ctx, t, now)
	l.duration.Record(ctx, float64(time.Since(began))/float64(time.Millisecond), t.attrs)
	if err != nil {
		l.failures.Add(ctx, 1, t.attrs)
		l.logger.Error("tick failed", "task", t.name, "error", err)
	}
}

func safeFire(ctx context.Context, t *task, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Task: t.name, Value: r, Stack: debug.Stack()}
		}
	}()
	return t.tick.Fire(ctx, now)
}

func (l *Loop) runPosted(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("posted function panicked", "error", r)
		}
	}()
	fn()
}
