package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/notnil/dashsim/canbus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Default publisher timings.
const (
	DefaultMinInterval = 50 * time.Millisecond
	DefaultSendTimeout = 2 * time.Millisecond
)

// Outcome is what Publish did with a signal.
type Outcome uint8

const (
	Sent Outcome = iota
	Suppressed
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Suppressed:
		return "suppressed"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithMinInterval sets the per-identifier suppression window.
func WithMinInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.minInterval = d }
}

// WithSendTimeout bounds how long a single send may wait for the bus.
func WithSendTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.sendTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

// WithPublisherLogger sets the logger for transport failures.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// Publisher forwards signals to a bus, suppressing repeats of the same
// identifier inside the minimum interval. It is not safe for concurrent use;
// it belongs to the cluster's single thread of control.
type Publisher struct {
	bus         canbus.Bus
	minInterval time.Duration
	sendTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger

	last map[uint32]time.Time

	sent       metric.Int64Counter
	suppressed metric.Int64Counter
	dropped    metric.Int64Counter
}

// NewPublisher creates a Publisher on bus. Instruments come from the global
// OTel meter, which is a no-op unless providers were installed.
func NewPublisher(bus canbus.Bus, opts ...PublisherOption) (*Publisher, error) {
	p := &Publisher{
		bus:         bus,
		minInterval: DefaultMinInterval,
		sendTimeout: DefaultSendTimeout,
		now:         time.Now,
		last:        make(map[uint32]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	m := meter()
	var err error
	p.sent, err = m.Int64Counter("gateway.frames.sent",
		metric.WithDescription("Frames accepted by the bus"))
	if err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}
	p.suppressed, err = m.Int64Counter("gateway.frames.suppressed",
		metric.WithDescription("Publishes skipped inside the minimum interval"))
	if err != nil {
		return nil, fmt.Errorf("creating suppressed counter: %w", err)
	}
	p.dropped, err = m.Int64Counter("gateway.frames.dropped",
		metric.WithDescription("Publishes the bus could not accept"))
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	return p, nil
}

// Publish sends sig unless the same identifier was sent less than the
// minimum interval ago. A failed send is logged and dropped; the timestamp
// only advances on success so the next natural publish retries.
func (p *Publisher) Publish(ctx context.Context, sig Signal) Outcome {
	now := p.now()
	idAttr := metric.WithAttributes(attribute.String("id", fmt.Sprintf("%03X", sig.ID)))

	if last, ok := p.last[sig.ID]; ok && now.Sub(last) < p.minInterval {
		p.suppressed.Add(ctx, 1, idAttr)
		return Suppressed
	}

	sctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	err := p.bus.Send(sctx, sig.Frame())
	cancel()
	if err != nil {
		p.logger.Warn("publish dropped", "id", fmt.Sprintf("%03X", sig.ID), "error", err)
		p.dropped.Add(ctx, 1, idAttr)
		return Dropped
	}

	p.last[sig.ID] = now
	p.sent.Add(ctx, 1, idAttr)
	return Sent
}

// PublishAll publishes each signal in order and returns how many were sent.
func (p *Publisher) PublishAll(ctx context.Context, sigs []Signal) int {
	n := 0
	for _, s := range sigs {
		if p.Publish(ctx, s) == Sent {
			n++
		}
	}
	return n
}
