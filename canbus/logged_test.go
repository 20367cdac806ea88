package canbus

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type recordSink struct {
	mu      sync.Mutex
	records []slog.Record
}

func (s *recordSink) Enabled(context.Context, slog.Level) bool { return true }
func (s *recordSink) Handle(_ context.Context, r slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r.Clone())
	return nil
}
func (s *recordSink) WithAttrs([]slog.Attr) slog.Handler { return s }
func (s *recordSink) WithGroup(string) slog.Handler      { return s }

func (s *recordSink) has(level slog.Level, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Level == level && r.Message == msg {
			return true
		}
	}
	return false
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestLoggedBus_WriteAndReadLogging(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()

	sink := &recordSink{}
	logger := slog.New(sink)

	sender := NewLoggedBus(lb.Open(), logger, slog.LevelInfo, LogWrite, nil)
	receiver := NewLoggedBus(lb.Open(), logger, slog.LevelInfo, LogRead, nil)
	defer sender.Close()
	defer receiver.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sender.Send(ctx, MustFrame(0x123, []byte{1, 2, 3})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := receiver.Receive(ctx); err != nil {
		t.Fatalf("receive: %v", err)
	}

	if !sink.has(slog.LevelInfo, "canbus send") {
		t.Fatalf("expected write log entry")
	}
	if !sink.has(slog.LevelInfo, "canbus receive") {
		t.Fatalf("expected read log entry")
	}
}

func TestLoggedBus_FilterAndPollTimeouts(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()

	sink := &recordSink{}
	bus := NewLoggedBus(lb.Open(), slog.New(sink), slog.LevelDebug, LogAll, ByID(0x100))
	defer bus.Close()

	if err := bus.Send(context.Background(), MustFrame(0x200, []byte{1})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok, err := Poll(context.Background(), bus, time.Millisecond); ok || err != nil {
		t.Fatalf("poll: ok=%v err=%v", ok, err)
	}
	if n := sink.count(); n != 0 {
		t.Fatalf("expected no records, got %d", n)
	}
}

func TestLoggedBus_ErrorLogging(t *testing.T) {
	lb := NewLoopbackBus()
	rx := lb.Open()
	_ = rx.Close()

	sink := &recordSink{}
	wrapped := NewLoggedBus(rx, slog.New(sink), slog.LevelInfo, LogAll, nil)
	_, _ = wrapped.Receive(context.Background())
	_ = wrapped.Send(context.Background(), MustFrame(0x100, nil))

	if !sink.has(slog.LevelError, "canbus receive error") {
		t.Fatalf("expected receive error log entry")
	}
	if !sink.has(slog.LevelError, "canbus send error") {
		t.Fatalf("expected send error log entry")
	}
}
