package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// captureHandler records everything it handles, optionally slowly.
type captureHandler struct {
	mu      sync.Mutex
	handled []slog.Record
	delay   time.Duration
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.handled = append(h.handled, rec)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func record(msg string) slog.Record {
	return slog.NewRecord(time.Now(), slog.LevelInfo, msg, 0)
}

func TestAsyncHandler_DeliversRecord(t *testing.T) {
	inner := &captureHandler{}
	h := NewAsyncHandler(inner, 64, 1)

	if err := h.Handle(context.Background(), record("task started")); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	h.Close()

	if got := inner.count(); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
}

func TestAsyncHandler_ConcurrentProducers(t *testing.T) {
	const producers = 50
	const perProducer = 200
	inner := &captureHandler{}
	h := NewAsyncHandler(inner, producers*perProducer, 4)

	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perProducer {
				_ = h.Handle(context.Background(), record("progress"))
			}
		}()
	}
	wg.Wait()
	h.Close()

	if got := inner.count(); got != producers*perProducer {
		t.Fatalf("expected %d records, got %d", producers*perProducer, got)
	}
}

func TestAsyncHandler_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	inner := &captureHandler{delay: 10 * time.Millisecond}
	h := NewAsyncHandler(inner, 1, 1)

	done := make(chan struct{})
	go func() {
		for range 40 {
			_ = h.Handle(context.Background(), record("agent output"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Handle blocked on a full queue")
	}
	h.Close()

	if h.DroppedCount() == 0 {
		t.Fatal("expected drops on a full queue, got none")
	}
}

func TestAsyncHandler_CloseDrainsQueue(t *testing.T) {
	inner := &captureHandler{}
	h := NewAsyncHandler(inner, 500, 2)

	const total = 300
	for range total {
		_ = h.Handle(context.Background(), record("shutdown burst"))
	}
	h.Close()

	if got := inner.count(); got != total {
		t.Fatalf("expected %d records after Close, got %d", total, got)
	}
}
