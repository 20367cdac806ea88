package canbus

import (
	"context"
	"errors"
	"time"
)

// Bus represents a CAN bus connection which can send and receive CAN frames.
// Implementations should be safe for concurrent use by multiple goroutines.
type Bus interface {
	// Send transmits a frame. It may block until the frame is queued or sent.
	// Context cancellation should abort the operation and return the context error.
	Send(ctx context.Context, frame Frame) error

	// Receive retrieves the next available frame. It should block until a frame
	// is available or the context is cancelled.
	Receive(ctx context.Context) (Frame, error)

	// Close releases resources. Further Send/Receive may return an error.
	Close() error
}

// ErrClosed indicates the bus or endpoint has been closed.
var ErrClosed = errors.New("canbus: closed")

// Poll waits at most timeout for a single frame. When nothing arrives in time
// it returns ok=false and a nil error, so callers running inside a tick never
// block on an idle bus. A non-positive timeout still gives the bus one chance
// to hand over an already queued frame.
func Poll(ctx context.Context, bus Bus, timeout time.Duration) (Frame, bool, error) {
	if timeout <= 0 {
		timeout = time.Microsecond
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	f, err := bus.Receive(pctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Frame{}, false, nil
		}
		return Frame{}, false, err
	}
	return f, true, nil
}
