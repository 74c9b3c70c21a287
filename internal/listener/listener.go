// Package listener runs the background worker that polls the chat backend
// for replies while the operator is away and correlates them to pending
// input requests.
package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
	"github.com/zulipmcp/zulipmcp/internal/events/bus"
	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/store"
	"github.com/zulipmcp/zulipmcp/internal/telemetry"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

// State is the worker lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
)

const (
	pollTimeout = 55 * time.Second
	// backoffStep is the linear backoff increment after repeated queue
	// failures.
	backoffStep = 5 * time.Second
	maxBackoff  = 60 * time.Second
)

// EventSource is the slice of the REST client the listener needs.
type EventSource interface {
	RegisterQueue(ctx context.Context, creds identity.Credentials, eventTypes []string, narrow zulip.Narrow) (*zulip.EventQueue, error)
	GetEvents(ctx context.Context, creds identity.Credentials, queueID string, lastEventID int64, pollTimeout time.Duration) ([]zulip.Event, error)
	DeregisterQueue(ctx context.Context, creds identity.Credentials, queueID string) error
}

// Options configures the listener.
type Options struct {
	// Channel is the dedicated agent stream the queue is narrowed to.
	Channel string
	// BotEmail is the bot's own address; its messages are never correlated.
	BotEmail string
	// FallbackWindow bounds the recency fallback in correlation.
	FallbackWindow time.Duration
}

// Listener owns the event queue and the correlation loop.
type Listener struct {
	source  EventSource
	creds   identity.Credentials
	store   *store.Store
	bus     bus.Bus
	opts    Options
	logger  *logger.Logger
	metrics *telemetry.Metrics

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds a stopped listener using the bot credentials.
func New(source EventSource, creds identity.Credentials, st *store.Store, b bus.Bus, opts Options, log *logger.Logger, metrics *telemetry.Metrics) *Listener {
	if opts.FallbackWindow <= 0 {
		opts.FallbackWindow = 10 * time.Minute
	}
	return &Listener{
		source:  source,
		creds:   creds,
		store:   st,
		bus:     b,
		opts:    opts,
		logger:  log,
		metrics: metrics,
		state:   StateStopped,
	}
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start launches the run loop. Starting a non-stopped listener is a no-op.
func (l *Listener) Start(parent context.Context) {
	l.mu.Lock()
	if l.state != StateStopped {
		l.mu.Unlock()
		return
	}
	l.state = StateStarting
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	l.group = group
	l.mu.Unlock()

	group.Go(func() error {
		l.run(ctx)
		return nil
	})
}

// Stop drains the worker: the queue is deregistered and the loop exits.
// Blocks until the loop returns or the context deadline passes.
func (l *Listener) Stop(ctx context.Context) {
	l.mu.Lock()
	if l.state == StateStopped {
		l.mu.Unlock()
		return
	}
	l.state = StateDraining
	cancel := l.cancel
	group := l.group
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		if group != nil {
			_ = group.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		l.logger.Warn("listener drain deadline exceeded")
	}

	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
}

// run is the poll loop: register, poll, correlate, recover.
func (l *Listener) run(ctx context.Context) {
	l.setState(StateRunning)
	defer l.setState(StateStopped)
	l.logger.Info("listener started", zap.String("channel", l.opts.Channel))

	queue, err := l.register(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Error("initial queue registration failed", zap.Error(err))
		queue = l.reregisterWithBackoff(ctx)
		if queue == nil {
			return
		}
	}
	defer l.deregister(queue)

	failures := 0
	for ctx.Err() == nil {
		events, err := l.source.GetEvents(ctx, l.creds, queue.QueueID, queue.LastEventID, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if zulip.IsQueueExpired(err) {
				// One immediate re-register; repeated expiry backs off.
				l.metrics.QueueReregistration(ctx)
				l.logger.Warn("event queue expired, re-registering")
				fresh, regErr := l.register(ctx)
				if regErr != nil {
					fresh = l.reregisterWithBackoff(ctx)
					if fresh == nil {
						return
					}
				}
				queue = fresh
				failures = 0
				continue
			}
			failures++
			wait := linearBackoff(failures)
			l.logger.Warn("event poll failed",
				zap.Int("failures", failures),
				zap.Duration("backoff", wait),
				zap.Error(err))
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		failures = 0
		for _, event := range events {
			if event.ID > queue.LastEventID {
				queue.LastEventID = event.ID
			}
			if event.Type != "message" || event.Message == nil {
				continue
			}
			l.handleMessage(ctx, event.Message)
		}
	}
}

func (l *Listener) register(ctx context.Context) (*zulip.EventQueue, error) {
	narrow := zulip.Narrow{{Operator: "stream", Operand: l.opts.Channel}}
	queue, err := l.source.RegisterQueue(ctx, l.creds, []string{"message"}, narrow)
	if err != nil {
		return nil, fmt.Errorf("registering event queue: %w", err)
	}
	l.logger.Info("event queue registered", zap.String("queue_id", queue.QueueID))
	return queue, nil
}

// reregisterWithBackoff retries registration with linearly growing waits
// until success or cancellation.
func (l *Listener) reregisterWithBackoff(ctx context.Context) *zulip.EventQueue {
	for attempt := 1; ; attempt++ {
		if !sleep(ctx, linearBackoff(attempt)) {
			return nil
		}
		queue, err := l.register(ctx)
		if err == nil {
			l.metrics.QueueReregistration(ctx)
			return queue
		}
		l.logger.Warn("queue re-registration failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
}

func (l *Listener) deregister(queue *zulip.EventQueue) {
	if queue == nil {
		return
	}
	// The loop context is already cancelled by the time we drain.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := l.source.DeregisterQueue(ctx, l.creds, queue.QueueID); err != nil {
		l.logger.Warn("queue deregistration failed", zap.Error(err))
	}
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func linearBackoff(failures int) time.Duration {
	wait := time.Duration(failures) * backoffStep
	if wait > maxBackoff {
		return maxBackoff
	}
	return wait
}

// sleep waits d or until cancellation; reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
