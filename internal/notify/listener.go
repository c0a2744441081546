package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/grailsmarket/backend-sub003/internal/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrPause marks a handler failure as systemic (downstream unreachable).
// The listener stops draining and retries the same event with backoff instead
// of skipping it. All other handler errors are logged and skipped; durability
// comes from reconciliation, not from the listener.
var ErrPause = errors.New("notify: downstream unavailable")

// State is the listener connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateProcessing
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Handler processes one change event. Called sequentially, preserving
// per-connection ordering.
type Handler func(ctx context.Context, ev *ChangeEvent) error

// Config for the listener.
type Config struct {
	Channel        string        // notification channel, default entity_changes
	MinReconnect   time.Duration // backoff floor, default 1s
	MaxReconnect   time.Duration // backoff ceiling, default 1m
	BufferSize     int           // pending events held while processing, default 256
	PauseBackoff   time.Duration // initial retry delay on systemic failure, default 2s
	MaxPauseDelay  time.Duration // ceiling for systemic retry delay, default 30s
	PingInterval   time.Duration // connection liveness check, default 90s
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Channel == "" {
		out.Channel = "entity_changes"
	}
	if out.MinReconnect <= 0 {
		out.MinReconnect = time.Second
	}
	if out.MaxReconnect <= 0 {
		out.MaxReconnect = time.Minute
	}
	if out.BufferSize <= 0 {
		out.BufferSize = 256
	}
	if out.PauseBackoff <= 0 {
		out.PauseBackoff = 2 * time.Second
	}
	if out.MaxPauseDelay <= 0 {
		out.MaxPauseDelay = 30 * time.Second
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 90 * time.Second
	}
	return out
}

// Listener subscribes to the trigger notification channel and feeds events to
// a handler one at a time. Events that arrive while the listener is
// disconnected are lost; that gap is repaired by reconciliation.
type Listener struct {
	dsn     string
	cfg     Config
	handler Handler
	log     *slog.Logger

	state   atomic.Int32
	dropped atomic.Int64
}

// NewListener creates a listener. Run must be called to start it.
func NewListener(dsn string, cfg Config, handler Handler, log *slog.Logger) *Listener {
	return &Listener{
		dsn:     dsn,
		cfg:     cfg.withDefaults(),
		handler: handler,
		log:     log,
	}
}

// State returns the current connection state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Dropped returns the number of events discarded because the pending buffer
// overflowed.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

func (l *Listener) setState(s State) {
	old := State(l.state.Swap(int32(s)))
	if old != s {
		l.log.Debug("listener state change", "from", old.String(), "to", s.String())
	}
}

// Run connects and processes events until the context is cancelled. A failure
// to establish the initial subscription is returned to the caller (fatal,
// expects external restart); connection drops after that are retried with
// bounded exponential backoff by the underlying driver.
func (l *Listener) Run(ctx context.Context) error {
	l.setState(StateConnecting)

	pl := pq.NewListener(l.dsn, l.cfg.MinReconnect, l.cfg.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected, pq.ListenerEventReconnected:
			l.setState(StateListening)
		case pq.ListenerEventDisconnected:
			l.setState(StateReconnecting)
			l.log.Warn("listener disconnected", "error", err)
		case pq.ListenerEventConnectionAttemptFailed:
			l.log.Warn("listener reconnect attempt failed", "error", err)
		}
	})
	defer pl.Close()

	if err := pl.Listen(l.cfg.Channel); err != nil {
		l.setState(StateDisconnected)
		return fmt.Errorf("failed to listen on %q: %w", l.cfg.Channel, err)
	}
	l.setState(StateListening)
	l.log.Info("listening for entity changes", "channel", l.cfg.Channel)

	// Bounded hand-off between the connection and the processing loop. When
	// processing stalls (index outage) the buffer absorbs a burst; past that
	// the oldest events are dropped and counted. Memory stays bounded either
	// way.
	pending := make(chan *pq.Notification, l.cfg.BufferSize)

	go func() {
		defer close(pending)
		ping := time.NewTicker(l.cfg.PingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-pl.Notify:
				if !ok {
					return
				}
				if n == nil {
					// driver signals a reconnect; events in the gap are gone
					l.log.Warn("listener reconnected, events during the gap are lost until reconciliation")
					continue
				}
				select {
				case pending <- n:
				default:
					// drop the oldest to make room, keep the newest
					select {
					case old := <-pending:
						l.dropped.Add(1)
						l.log.Warn("pending buffer full, dropping event",
							"dropped_total", l.dropped.Load(), "payload_bytes", len(old.Extra))
					default:
					}
					select {
					case pending <- n:
					default:
					}
				}
			case <-ping.C:
				if err := pl.Ping(); err != nil {
					l.log.Warn("listener ping failed", "error", err)
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			l.setState(StateDisconnected)
			return ctx.Err()
		case n, ok := <-pending:
			if !ok {
				l.setState(StateDisconnected)
				return ctx.Err()
			}
			l.setState(StateProcessing)
			l.process(ctx, n)
			l.setState(StateListening)
		}
	}
}

// process handles one notification, retrying in place on systemic failure.
func (l *Listener) process(ctx context.Context, n *pq.Notification) {
	ev, err := ParseEvent(n.Extra)
	if err != nil {
		// permanent: log and skip, never retried
		l.log.Error("skipping malformed change event", "error", err, "payload", n.Extra)
		return
	}

	// correlation id follows the event through the handler's logs
	ctx = logger.WithEventID(ctx, uuid.NewString())

	delay := l.cfg.PauseBackoff
	for {
		err := l.handler(ctx, ev)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrPause) {
			// single-event failure: log and move on
			l.log.Warn("change event handling failed",
				"table", ev.Table, "operation", string(ev.Operation), "error", err)
			return
		}

		l.log.Warn("downstream unavailable, pausing event processing",
			"retry_in", delay.String(), "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > l.cfg.MaxPauseDelay {
			delay = l.cfg.MaxPauseDelay
		}
	}
}
