package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lib/pq"
)

func testListener(handler Handler) *Listener {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewListener("postgres://unused", Config{
		PauseBackoff:  time.Millisecond,
		MaxPauseDelay: 5 * time.Millisecond,
	}, handler, log)
}

func notification(payload string) *pq.Notification {
	return &pq.Notification{Channel: "entity_changes", Extra: payload}
}

func TestProcess_RetriesInPlaceOnPause(t *testing.T) {
	calls := 0
	l := testListener(func(ctx context.Context, ev *ChangeEvent) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: index down", ErrPause)
		}
		return nil
	})

	l.process(context.Background(), notification(
		`{"table":"names","operation":"UPDATE","data":{"id":"n1"}}`))

	if calls != 3 {
		t.Errorf("handler called %d times, want 3 (retry until downstream recovers)", calls)
	}
}

func TestProcess_SkipsSingleEventFailures(t *testing.T) {
	calls := 0
	l := testListener(func(ctx context.Context, ev *ChangeEvent) error {
		calls++
		return errors.New("row specific problem")
	})

	l.process(context.Background(), notification(
		`{"table":"names","operation":"UPDATE","data":{"id":"n1"}}`))

	if calls != 1 {
		t.Errorf("handler called %d times, want 1 (non-systemic errors skip)", calls)
	}
}

func TestProcess_MalformedEventNeverReachesHandler(t *testing.T) {
	calls := 0
	l := testListener(func(ctx context.Context, ev *ChangeEvent) error {
		calls++
		return nil
	})

	l.process(context.Background(), notification(`{broken`))

	if calls != 0 {
		t.Errorf("handler called %d times for a malformed payload, want 0", calls)
	}
}

func TestProcess_PauseStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := testListener(func(ctx context.Context, ev *ChangeEvent) error {
		cancel()
		return fmt.Errorf("%w: index down", ErrPause)
	})

	done := make(chan struct{})
	go func() {
		l.process(ctx, notification(`{"table":"names","operation":"UPDATE","data":{"id":"n1"}}`))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("process did not stop after context cancellation")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := (&Config{}).withDefaults()
	if cfg.Channel != "entity_changes" {
		t.Errorf("got channel %q, want entity_changes", cfg.Channel)
	}
	if cfg.BufferSize != 256 {
		t.Errorf("got buffer size %d, want 256", cfg.BufferSize)
	}
	if cfg.MinReconnect <= 0 || cfg.MaxReconnect < cfg.MinReconnect {
		t.Errorf("bad reconnect window: %v-%v", cfg.MinReconnect, cfg.MaxReconnect)
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateListening:    "listening",
		StateProcessing:   "processing",
		StateReconnecting: "reconnecting",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
