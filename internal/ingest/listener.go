package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/nexlytix-core/internal/infrastructure/mqtt"
)

// Listener defaults.
const (
	DefaultRestartDelay = 5 * time.Second
	DefaultDrainTimeout = 5 * time.Second
)

// State is the connection state of a Listener.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is one broker connection as seen by the Listener.
// *mqtt.Client satisfies it.
type Session interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SetOnReconnecting(callback func())
	SetOnResubscribeFailed(callback func(topic string, err error))
	Close() error
}

// DialFunc opens a new Session. It should honour ctx cancellation.
type DialFunc func(ctx context.Context) (Session, error)

// Handler processes one inbound message. Pipeline implements it.
type Handler interface {
	Handle(ctx context.Context, topic string, payload []byte) error
}

// ListenerObserver receives connection lifecycle events.
type ListenerObserver interface {
	ObserveListenerState(s State)
	ListenerRestarted()
}

// ListenerOptions configures a Listener. Dial, Handler and Topic are required.
type ListenerOptions struct {
	Dial    DialFunc
	Handler Handler
	Topic   string
	QoS     byte

	// RestartDelay is slept after a failed dial or subscribe before the whole
	// connect+subscribe sequence starts again.
	RestartDelay time.Duration

	// DrainTimeout bounds how long shutdown waits for in-flight handlers.
	DrainTimeout time.Duration

	Logger   Logger
	Observer ListenerObserver
}

// Listener owns the broker subscription and feeds payloads to a Handler.
//
// It runs a two-level reconnect machine. The inner level is the MQTT
// client's own auto-reconnect with bounded backoff, which restores
// subscriptions itself; the Listener only tracks the resulting state. The
// outer level covers failures the client cannot recover from (dial or
// subscribe errors, or a subscription the client failed to restore after
// reconnecting): the session is discarded, the Listener sleeps
// RestartDelay and starts from scratch.
//
// Run returns only when its context is cancelled.
type Listener struct {
	dial         DialFunc
	handler      Handler
	topic        string
	qos          byte
	restartDelay time.Duration
	drainTimeout time.Duration
	logger       Logger
	observer     ListenerObserver

	state atomic.Int32

	// mu guards closing and the Add side of inflight so no handler starts
	// once shutdown has begun.
	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup

	// handlerCtx outlives Run's ctx so in-flight writes can finish during drain.
	handlerCtx context.Context
}

// NewListener creates a Listener from opts.
func NewListener(opts ListenerOptions) (*Listener, error) {
	if opts.Dial == nil {
		return nil, errors.New("ingest: dial func is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("ingest: handler is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("ingest: topic is required")
	}

	l := &Listener{
		dial:         opts.Dial,
		handler:      opts.Handler,
		topic:        opts.Topic,
		qos:          opts.QoS,
		restartDelay: opts.RestartDelay,
		drainTimeout: opts.DrainTimeout,
		logger:       opts.Logger,
		observer:     opts.Observer,
	}
	if l.restartDelay <= 0 {
		l.restartDelay = DefaultRestartDelay
	}
	if l.drainTimeout <= 0 {
		l.drainTimeout = DefaultDrainTimeout
	}
	if l.logger == nil {
		l.logger = noopLogger{}
	}
	if l.observer == nil {
		l.observer = noopListenerObserver{}
	}
	return l, nil
}

// State returns the current connection state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Run connects, subscribes and consumes until ctx is cancelled.
// It always returns nil; connection failures are retried, never returned.
// Run must not be called more than once.
func (l *Listener) Run(ctx context.Context) error {
	l.handlerCtx = context.WithoutCancel(ctx)
	l.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := l.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}

		l.setState(StateDisconnected)
		l.observer.ListenerRestarted()
		l.logger.Warn("listener session failed, restarting",
			"topic", l.topic,
			"retry_in", l.restartDelay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.restartDelay):
		}
	}
}

// runSession performs one connect+subscribe+consume cycle. It returns an
// error when the session could not be established or lost its
// subscription, or nil once ctx is cancelled and the session has been
// shut down.
func (l *Listener) runSession(ctx context.Context) error {
	l.setState(StateConnecting)

	sess, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	sess.SetOnConnect(func() {
		l.setState(StateConnected)
		l.logger.Info("broker connection restored", "topic", l.topic)
	})
	sess.SetOnDisconnect(func(err error) {
		l.setState(StateDisconnected)
		l.logger.Warn("broker connection lost", "topic", l.topic, "error", err)
	})
	sess.SetOnReconnecting(func() {
		l.setState(StateConnecting)
	})

	lost := make(chan error, 1)
	sess.SetOnResubscribeFailed(func(topic string, err error) {
		select {
		case lost <- fmt.Errorf("resubscribe %s: %w", topic, err):
		default:
		}
	})

	if ctx.Err() != nil {
		l.closeSession(sess)
		return nil
	}

	if err := sess.Subscribe(l.topic, l.qos, l.dispatch); err != nil {
		l.closeSession(sess)
		return fmt.Errorf("subscribe %s: %w", l.topic, err)
	}

	l.setState(StateConnected)
	l.logger.Info("listener subscribed", "topic", l.topic, "qos", l.qos)

	select {
	case <-ctx.Done():
		l.shutdown(sess)
		return nil
	case err := <-lost:
		l.closeSession(sess)
		return err
	}
}

// dispatch is the broker message callback. Rejections are logged by the
// handler and never returned to the client.
func (l *Listener) dispatch(topic string, payload []byte) error {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return nil
	}
	l.inflight.Add(1)
	l.mu.Unlock()
	defer l.inflight.Done()

	_ = l.handler.Handle(l.handlerCtx, topic, payload) //nolint:errcheck // already logged and counted
	return nil
}

// shutdown refuses new messages, releases the connection and waits up to
// drainTimeout for in-flight handlers.
func (l *Listener) shutdown(sess Session) {
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()

	l.closeSession(sess)

	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("listener stopped", "topic", l.topic)
	case <-time.After(l.drainTimeout):
		l.logger.Warn("listener drain timed out, abandoning in-flight messages",
			"timeout", l.drainTimeout,
		)
	}
}

func (l *Listener) closeSession(sess Session) {
	// Detach callbacks so late events do not overwrite the final state.
	sess.SetOnConnect(nil)
	sess.SetOnDisconnect(nil)
	sess.SetOnReconnecting(nil)
	sess.SetOnResubscribeFailed(nil)

	if err := sess.Close(); err != nil {
		l.logger.Warn("closing broker session", "error", err)
	}
	l.setState(StateDisconnected)
}

func (l *Listener) setState(s State) {
	if State(l.state.Swap(int32(s))) != s {
		l.observer.ObserveListenerState(s)
	}
}

type noopListenerObserver struct{}

func (noopListenerObserver) ObserveListenerState(State) {}
func (noopListenerObserver) ListenerRestarted()         {}
