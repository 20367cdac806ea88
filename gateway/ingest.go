package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/notnil/dashsim/canbus"
	"github.com/notnil/dashsim/vehicle"
	"go.opentelemetry.io/otel/metric"
)

// Default ingest bounds.
const (
	DefaultBurst       = 10
	DefaultPollTimeout = 100 * time.Microsecond
)

// IngestOption configures an Ingest.
type IngestOption func(*Ingest)

// WithBurst caps the frames read per Drain.
func WithBurst(n int) IngestOption {
	return func(in *Ingest) { in.burst = n }
}

// WithPollTimeout sets the per-frame wait. Keep it near zero.
func WithPollTimeout(d time.Duration) IngestOption {
	return func(in *Ingest) { in.pollTimeout = d }
}

// WithIngestLogger sets the logger for malformed frames.
func WithIngestLogger(l *slog.Logger) IngestOption {
	return func(in *Ingest) { in.logger = l }
}

// IngestStats summarises one Drain.
type IngestStats struct {
	Read      int
	Applied   int
	Malformed int
	Ignored   int
}

// Ingest applies inbound override frames to the vehicle state.
type Ingest struct {
	bus         canbus.Bus
	burst       int
	pollTimeout time.Duration
	logger      *slog.Logger

	applied   metric.Int64Counter
	malformed metric.Int64Counter
	ignored   metric.Int64Counter
}

func NewIngest(bus canbus.Bus, opts ...IngestOption) (*Ingest, error) {
	in := &Ingest{
		bus:         bus,
		burst:       DefaultBurst,
		pollTimeout: DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.burst <= 0 {
		in.burst = DefaultBurst
	}
	if in.logger == nil {
		in.logger = slog.Default()
	}

	m := meter()
	var err error
	in.applied, err = m.Int64Counter("gateway.frames.applied",
		metric.WithDescription("Inbound overrides applied"))
	if err != nil {
		return nil, fmt.Errorf("creating applied counter: %w", err)
	}
	in.malformed, err = m.Int64Counter("gateway.frames.malformed",
		metric.WithDescription("Inbound frames discarded for a short payload"))
	if err != nil {
		return nil, fmt.Errorf("creating malformed counter: %w", err)
	}
	in.ignored, err = m.Int64Counter("gateway.frames.ignored",
		metric.WithDescription("Inbound frames with no decode rule"))
	if err != nil {
		return nil, fmt.Errorf("creating ignored counter: %w", err)
	}
	return in, nil
}

// Drain reads at most the burst count of frames, stopping early once the bus
// is idle, and applies each recognised one to s. A malformed frame is
// discarded without affecting the rest of the burst. A transport error ends
// the burst and is returned for the caller to log; frames applied before it
// stay applied.
func (in *Ingest) Drain(ctx context.Context, s *vehicle.State) (IngestStats, error) {
	var st IngestStats
	for st.Read < in.burst {
		f, ok, err := canbus.Poll(ctx, in.bus, in.pollTimeout)
		if err != nil {
			return st, fmt.Errorf("ingest poll: %w", err)
		}
		if !ok {
			break
		}
		st.Read++

		known, err := Decode(f, s)
		switch {
		case err != nil:
			st.Malformed++
			in.malformed.Add(ctx, 1)
			in.logger.Debug("malformed frame", "frame", f.String(), "error", err)
		case !known:
			st.Ignored++
			in.ignored.Add(ctx, 1)
		default:
			st.Applied++
			in.applied.Add(ctx, 1)
		}
	}
	return st, nil
}
