package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func counter(n *int) TickFunc {
	return func(context.Context, time.Time) error {
		*n++
		return nil
	}
}

func TestFireDue_TwoRates(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	l, err := New(WithClock(clk.Now))
	require.NoError(t, err)

	var sim, poll int
	l.Every("sim", 40*time.Millisecond, counter(&sim))
	l.Every("poll", 5*time.Millisecond, counter(&poll))

	for i := 0; i <= 40; i++ {
		l.FireDue(context.Background(), clk.Now())
		clk.Advance(5 * time.Millisecond)
	}
	assert.Equal(t, 41, poll)
	assert.Equal(t, 6, sim)
}

func TestFireDue_DeadlineOrder(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	l, err := New(WithClock(clk.Now))
	require.NoError(t, err)

	var order []string
	rec := func(name string) TickFunc {
		return func(context.Context, time.Time) error {
			order = append(order, name)
			return nil
		}
	}
	l.Every("slow", 30*time.Millisecond, rec("slow"))
	l.Every("fast", 10*time.Millisecond, rec("fast"))

	l.FireDue(context.Background(), clk.Now())
	clk.Advance(30 * time.Millisecond)
	l.FireDue(context.Background(), clk.Now())
	// fast was due at 10 ms, slow at 30 ms.
	assert.Equal(t, []string{"slow", "fast", "fast", "slow"}, order)
}

func TestFireDue_SlowBodyDelaysNextFiring(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	l, err := New(WithClock(clk.Now))
	require.NoError(t, err)

	n := 0
	l.Every("slow", 10*time.Millisecond, TickFunc(func(context.Context, time.Time) error {
		n++
		clk.Advance(25 * time.Millisecond)
		return nil
	}))

	l.FireDue(context.Background(), clk.Now())
	next, ok := l.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, time.Unix(0, 0).Add(35*time.Millisecond), next, "re-armed after completion")

	assert.Equal(t, 1, l.FireDue(context.Background(), clk.Now().Add(10*time.Millisecond)))
	assert.Equal(t, 2, n, "late task fires once, no catch-up burst")
}

func TestFireDue_FailuresKeepRescheduling(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	l, err := New(WithClock(clk.Now))
	require.NoError(t, err)

	var panics, errs int
	l.Every("panicky", 10*time.Millisecond, TickFunc(func(context.Context, time.Time) error {
		panics++
		panic("bad frame")
	}))
	l.Every("failing", 10*time.Millisecond, TickFunc(func(context.Context, time.Time) error {
		errs++
		return errors.New("boom")
	}))

	for i := 0; i < 5; i++ {
		assert.Equal(t, 2, l.FireDue(context.Background(), clk.Now()))
		clk.Advance(10 * time.Millisecond)
	}
	assert.Equal(t, 5, panics)
	assert.Equal(t, 5, errs)
}

func TestSafeFire_ConvertsPanic(t *testing.T) {
	tk := &task{name: "sim", tick: TickFunc(func(context.Context, time.Time) error { panic("nil map") })}
	err := safeFire(context.Background(), tk, time.Now())
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "sim", pe.Task)
	assert.Equal(t, "nil map", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestRun_PostAndStop(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	var ticks atomic.Int64
	onLoop := 0
	l.Every("tick", time.Millisecond, TickFunc(func(context.Context, time.Time) error {
		ticks.Add(1)
		onLoop++
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() >= 5 }, time.Second, time.Millisecond)

	var seen int
	require.NoError(t, l.Do(context.Background(), func() { seen = onLoop }))
	assert.Positive(t, seen)

	require.NoError(t, l.Post(func() { panic("posted") }), "a panicking post is recovered")
	require.NoError(t, l.Do(context.Background(), func() {}))

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.ErrorIs(t, l.Post(func() {}), ErrStopped)
	assert.ErrorIs(t, l.Run(context.Background()), ErrRunning)
}

func TestEvery_RejectsNonPositivePeriod(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	assert.Panics(t, func() { l.Every("bad", 0, TickFunc(nil)) })
}
