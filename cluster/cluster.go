// Package cluster is the owning context of a simulated instrument cluster.
//
// A Cluster holds the vehicle state, pedal inputs, indicator toggles, held
// keys, blink oscillator and smoothed display values. It exposes the two
// periodic tasks and the key handlers. None of its methods are safe for
// concurrent use: run them all from one scheduler.Loop and reach in from
// other goroutines with Loop.Post or Loop.Do.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/notnil/dashsim/canbus"
	"github.com/notnil/dashsim/controls"
	"github.com/notnil/dashsim/gateway"
	"github.com/notnil/dashsim/scheduler"
	"github.com/notnil/dashsim/vehicle"
)

// Config holds the cluster's tunables.
type Config struct {
	Params          vehicle.Params
	BlinkHalfPeriod int
	Odometer        float64
	Trip            float64

	MinInterval time.Duration
	SendTimeout time.Duration
	Burst       int
	PollTimeout time.Duration
}

// DefaultConfig matches a 25 Hz simulation tick.
func DefaultConfig() Config {
	d := vehicle.DefaultState()
	return Config{
		Params:          vehicle.DefaultParams(),
		BlinkHalfPeriod: controls.DefaultHalfPeriod,
		Odometer:        d.Odometer,
		Trip:            d.Trip,
		MinInterval:     gateway.DefaultMinInterval,
		SendTimeout:     gateway.DefaultSendTimeout,
		Burst:           gateway.DefaultBurst,
		PollTimeout:     gateway.DefaultPollTimeout,
	}
}

// Display holds the eased gauge needles.
type Display struct {
	Speed float64 `json:"speed"`
	RPM   float64 `json:"rpm"`
}

// Snapshot is a value copy of everything a renderer or recorder reads.
type Snapshot struct {
	Tick    uint64           `json:"tick"`
	State   vehicle.State    `json:"state"`
	Inputs  vehicle.Inputs   `json:"inputs"`
	Toggles controls.Toggles `json:"toggles"`
	Blink   bool             `json:"blink"`
	Display Display          `json:"display"`
}

// Sink receives discrete trigger events. It is called on the loop
// goroutine and must not block.
type Sink interface {
	Trigger(ev controls.Event, snap Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(controls.Event, Snapshot)

func (f SinkFunc) Trigger(ev controls.Event, snap Snapshot) { f(ev, snap) }

// Observer receives a snapshot after every simulation tick. It is called on
// the loop goroutine and must not block.
type Observer interface {
	Observe(snap Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) Observe(snap Snapshot) { f(snap) }

// Option configures a Cluster.
type Option func(*Cluster)

// WithLogger sets the cluster logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cluster) { c.logger = l }
}

// WithSink adds an event sink.
func WithSink(s Sink) Option {
	return func(c *Cluster) { c.sinks = append(c.sinks, s) }
}

// WithObserver adds a per-tick observer.
func WithObserver(o Observer) Option {
	return func(c *Cluster) { c.observers = append(c.observers, o) }
}

// WithClock replaces time.Now for the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(c *Cluster) { c.now = now }
}

// Cluster is the simulation core.
type Cluster struct {
	cfg     Config
	state   vehicle.State
	inputs  vehicle.Inputs
	toggles controls.Toggles
	keys    *controls.Keyboard
	blink   controls.Blinker
	display Display
	tick    uint64

	pub    *gateway.Publisher
	ingest *gateway.Ingest

	sinks       []Sink
	observers   []Observer
	logger      *slog.Logger
	now         func() time.Time
	pollFailing bool
}

// New creates a cluster in the power-on state, publishing and ingesting on
// bus.
func New(bus canbus.Bus, cfg Config, opts ...Option) (*Cluster, error) {
	c := &Cluster{
		cfg:   cfg,
		state: vehicle.DefaultState(),
		keys:  controls.NewKeyboard(),
		blink: controls.Blinker{HalfPeriod: cfg.BlinkHalfPeriod},
		now:   time.Now,
	}
	c.state.Odometer = cfg.Odometer
	c.state.Trip = cfg.Trip
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	var err error
	c.pub, err = gateway.NewPublisher(bus,
		gateway.WithMinInterval(cfg.MinInterval),
		gateway.WithSendTimeout(cfg.SendTimeout),
		gateway.WithClock(c.now),
		gateway.WithPublisherLogger(c.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("creating publisher: %w", err)
	}
	c.ingest, err = gateway.NewIngest(bus,
		gateway.WithBurst(cfg.Burst),
		gateway.WithPollTimeout(cfg.PollTimeout),
		gateway.WithIngestLogger(c.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ingest: %w", err)
	}
	return c, nil
}

// AddSink registers an event sink after construction. Call it before the
// loop starts or from the loop goroutine.
func (c *Cluster) AddSink(s Sink) {
	c.sinks = append(c.sinks, s)
}

// AddObserver registers a per-tick observer, with the same rules as AddSink.
func (c *Cluster) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// Schedule registers the simulation and poll tasks on loop.
func (c *Cluster) Schedule(loop *scheduler.Loop, simPeriod, pollPeriod time.Duration) {
	loop.Every("sim", simPeriod, c.SimTask())
	loop.Every("poll", pollPeriod, c.PollTask())
}

// SimTask returns the simulation/render tick.
func (c *Cluster) SimTask() scheduler.Tickable {
	return scheduler.TickFunc(func(ctx context.Context, _ time.Time) error {
		c.stepSim(ctx)
		return nil
	})
}

// PollTask returns the bus poll tick.
func (c *Cluster) PollTask() scheduler.Tickable {
	return scheduler.TickFunc(func(ctx context.Context, _ time.Time) error {
		c.poll(ctx)
		return nil
	})
}

func (c *Cluster) stepSim(ctx context.Context) {
	held := c.keys.Held()
	c.inputs = vehicle.Ramp(c.inputs, held.Has(controls.KeyAccelerate), held.Has(controls.KeyBrake))
	c.state = vehicle.Step(c.state, c.inputs, c.cfg.Params)

	c.pub.PublishAll(ctx, gateway.Telemetry(c.state))

	if c.blink.Tick() && (c.toggles.LeftSignal || c.toggles.RightSignal) {
		c.emit(controls.EventTurnSignal)
	}

	c.display.Speed = vehicle.Clamp(vehicle.Lerp(c.display.Speed, c.state.Speed, vehicle.DefaultEase), 0, vehicle.MaxSpeed)
	c.display.RPM = vehicle.Clamp(vehicle.Lerp(c.display.RPM, c.state.RPM, vehicle.DefaultEase), 0, vehicle.MaxRPM)
	c.tick++

	if len(c.observers) > 0 {
		snap := c.Snapshot()
		for _, o := range c.observers {
			o.Observe(snap)
		}
	}
}

func (c *Cluster) poll(ctx context.Context) {
	st, err := c.ingest.Drain(ctx, &c.state)
	if err != nil {
		if !c.pollFailing {
			c.logger.Warn("bus poll failed", "error", err)
			c.pollFailing = true
		}
		return
	}
	if c.pollFailing {
		c.logger.Info("bus poll recovered")
		c.pollFailing = false
	}
	if st.Applied > 0 {
		c.logger.Debug("overrides applied", "count", st.Applied)
	}
}

// KeyDown handles a raw key-down. Known keys that were not already held
// trigger their transition immediately and publish the changed signals.
// Repeats and unknown names are ignored.
func (c *Cluster) KeyDown(ctx context.Context, name string) {
	for _, k := range c.keys.Down(name).Keys() {
		c.Press(ctx, k)
	}
}

// KeyUp handles a raw key-up.
func (c *Cluster) KeyUp(name string) {
	c.keys.Up(name)
}

// Press applies the transition for one logical key edge.
func (c *Cluster) Press(ctx context.Context, k controls.Key) {
	res := controls.Apply(k, &c.state, &c.toggles)
	if res.Outputs != 0 {
		c.pub.PublishAll(ctx, gateway.Controls(res.Outputs, c.state, c.toggles))
	}
	if res.Event != controls.EventNone {
		c.emit(res.Event)
	}
}

// ReleaseAll drops every held key, e.g. when the input source disconnects.
func (c *Cluster) ReleaseAll() {
	c.keys.Reset()
}

func (c *Cluster) emit(ev controls.Event) {
	if len(c.sinks) == 0 {
		return
	}
	snap := c.Snapshot()
	for _, s := range c.sinks {
		s.Trigger(ev, snap)
	}
}

// Snapshot returns a copy of the current cluster state.
func (c *Cluster) Snapshot() Snapshot {
	return Snapshot{
		Tick:    c.tick,
		State:   c.state,
		Inputs:  c.inputs,
		Toggles: c.toggles,
		Blink:   c.blink.On(),
		Display: c.display,
	}
}
