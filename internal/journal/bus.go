package journal

import (
	"context"

	"github.com/notnil/dashsim/canbus"
)

type journaledBus struct {
	inner canbus.Bus
	j     *Journal
}

// Wrap returns a bus that records every successful Send and Receive on inner.
func Wrap(inner canbus.Bus, j *Journal) canbus.Bus {
	return &journaledBus{inner: inner, j: j}
}

func (b *journaledBus) Send(ctx context.Context, f canbus.Frame) error {
	if err := b.inner.Send(ctx, f); err != nil {
		return err
	}
	b.j.Record(TX, f)
	return nil
}

func (b *journaledBus) Receive(ctx context.Context) (canbus.Frame, error) {
	f, err := b.inner.Receive(ctx)
	if err != nil {
		return f, err
	}
	b.j.Record(RX, f)
	return f, nil
}

func (b *journaledBus) Close() error { return b.inner.Close() }
