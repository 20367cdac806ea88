package canbus

import (
	"context"
	"sync"
)

// Mux multiplexes frames from a Bus to any number of subscribers via filters.
//
// It owns the provided Bus instance for receiving and runs a single background
// goroutine to read from Receive and fan-out frames to subscribers. Send is
// not proxied; callers keep using the original Bus to Send.
type Mux struct {
	bus    Bus
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	subs map[uint64]*subscriber
	next uint64
}

type subscriber struct {
	filter FrameFilter
	ch     chan Frame
}

// NewMux creates and starts a multiplexer bound to the given Bus. It stops
// when ctx is cancelled, Close is called or the bus fails.
func NewMux(ctx context.Context, bus Bus) *Mux {
	mctx, cancel := context.WithCancel(ctx)
	m := &Mux{
		bus:    bus,
		ctx:    mctx,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[uint64]*subscriber),
	}
	go m.run()
	return m
}

// Close stops the background reader and closes all subscriber channels.
func (m *Mux) Close() error {
	m.cancel()
	<-m.done
	return nil
}

// Done is closed once the reader has exited.
func (m *Mux) Done() <-chan struct{} {
	return m.done
}

// Subscribe registers a new subscriber with the provided filter and channel
// buffer. Slow subscribers lose frames rather than stalling the others. The
// cancel function closes the channel.
func (m *Mux) Subscribe(filter FrameFilter, buffer int) (<-chan Frame, func()) {
	if buffer < 0 {
		buffer = 0
	}
	s := &subscriber{filter: filter, ch: make(chan Frame, buffer)}
	m.mu.Lock()
	id := m.next
	m.next++
	select {
	case <-m.done:
		close(s.ch)
	default:
		m.subs[id] = s
	}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.subs[id]; ok && cur == s {
			close(cur.ch)
			delete(m.subs, id)
		}
	}
	return s.ch, cancel
}

func (m *Mux) run() {
	defer func() {
		m.mu.Lock()
		for id, s := range m.subs {
			close(s.ch)
			delete(m.subs, id)
		}
		close(m.done)
		m.mu.Unlock()
	}()
	for {
		f, err := m.bus.Receive(m.ctx)
		if err != nil {
			return
		}
		m.mu.Lock()
		for _, s := range m.subs {
			if s.filter != nil && !s.filter(f) {
				continue
			}
			select {
			case s.ch <- f:
			default:
			}
		}
		m.mu.Unlock()
	}
}
