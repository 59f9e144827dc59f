package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/nexlytix-core/internal/infrastructure/mqtt"
)

type fakeSession struct {
	subscribeErr error

	mu             sync.Mutex
	handler        mqtt.MessageHandler
	topic          string
	onConnect      func()
	onDisconnect   func(error)
	onReconnecting func()
	onResubscribe  func(string, error)

	subscribed chan struct{}
	closed     atomic.Bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{subscribed: make(chan struct{})}
}

func (s *fakeSession) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.mu.Lock()
	s.topic = topic
	s.handler = handler
	s.mu.Unlock()
	close(s.subscribed)
	return nil
}

func (s *fakeSession) SetOnConnect(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = cb
}

func (s *fakeSession) SetOnDisconnect(cb func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = cb
}

func (s *fakeSession) SetOnReconnecting(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnecting = cb
}

func (s *fakeSession) SetOnResubscribeFailed(cb func(string, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResubscribe = cb
}

func (s *fakeSession) resubscribeCallback() func(string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onResubscribe
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

// deliver simulates the client invoking the subscription handler.
func (s *fakeSession) deliver(topic string, payload []byte) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	_ = h(topic, payload)
}

func (s *fakeSession) callbacks() (func(), func(error), func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onConnect, s.onDisconnect, s.onReconnecting
}

type handlerFunc func(ctx context.Context, topic string, payload []byte) error

func (f handlerFunc) Handle(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

type stateRecorder struct {
	mu       sync.Mutex
	states   []State
	restarts atomic.Int32
}

func (r *stateRecorder) ObserveListenerState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) ListenerRestarted() { r.restarts.Add(1) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func startListener(t *testing.T, opts ListenerOptions) (cancel func(), done <-chan error) {
	t.Helper()
	l, err := NewListener(opts)
	if err != nil {
		t.Fatalf("NewListener() error = %v", err)
	}
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- l.Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, ch
}

func TestNewListenerValidation(t *testing.T) {
	dial := func(context.Context) (Session, error) { return newFakeSession(), nil }
	h := handlerFunc(func(context.Context, string, []byte) error { return nil })

	tests := []struct {
		name string
		opts ListenerOptions
	}{
		{"no dial", ListenerOptions{Handler: h, Topic: "t"}},
		{"no handler", ListenerOptions{Dial: dial, Topic: "t"}},
		{"no topic", ListenerOptions{Dial: dial, Handler: h}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewListener(tt.opts); err == nil {
				t.Error("NewListener() expected error")
			}
		})
	}
}

func TestListenerDeliversAndStops(t *testing.T) {
	sess := newFakeSession()
	var got atomic.Value
	obs := &stateRecorder{}

	l, err := NewListener(ListenerOptions{
		Dial:    func(context.Context) (Session, error) { return sess, nil },
		Handler: handlerFunc(func(_ context.Context, topic string, payload []byte) error {
			got.Store(topic + "|" + string(payload))
			return ErrRange
		}),
		Topic:    "nexlytix/+/+/telemetry",
		QoS:      1,
		Observer: obs,
	})
	if err != nil {
		t.Fatalf("NewListener() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	<-sess.subscribed
	waitFor(t, "connected state", func() bool { return l.State() == StateConnected })

	sess.deliver("nexlytix/acme/A/telemetry", []byte("x"))
	if got.Load() != "nexlytix/acme/A/telemetry|x" {
		t.Errorf("handler saw %v", got.Load())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if !sess.closed.Load() {
		t.Error("session not closed on shutdown")
	}
	if l.State() != StateDisconnected {
		t.Errorf("State() = %v after stop, want disconnected", l.State())
	}
	if obs.restarts.Load() != 0 {
		t.Errorf("restarts = %d, want 0", obs.restarts.Load())
	}

	// Messages arriving after shutdown are refused.
	got.Store("")
	sess.deliver("nexlytix/acme/A/telemetry", []byte("late"))
	if got.Load() != "" {
		t.Error("handler invoked after shutdown")
	}
}

func TestListenerRestartsAfterDialFailure(t *testing.T) {
	var dials atomic.Int32
	sess := newFakeSession()
	obs := &stateRecorder{}

	cancel, done := startListener(t, ListenerOptions{
		Dial: func(context.Context) (Session, error) {
			if dials.Add(1) <= 2 {
				return nil, errors.New("dns lookup failed")
			}
			return sess, nil
		},
		Handler:      handlerFunc(func(context.Context, string, []byte) error { return nil }),
		Topic:        "t/+",
		RestartDelay: 5 * time.Millisecond,
		Observer:     obs,
	})

	<-sess.subscribed
	if dials.Load() != 3 {
		t.Errorf("dials = %d, want 3", dials.Load())
	}
	if obs.restarts.Load() != 2 {
		t.Errorf("restarts = %d, want 2", obs.restarts.Load())
	}

	cancel()
	<-done
}

func TestListenerRestartsAfterSubscribeFailure(t *testing.T) {
	first := newFakeSession()
	first.subscribeErr = mqtt.ErrSubscribeFailed
	second := newFakeSession()

	var dials atomic.Int32
	cancel, done := startListener(t, ListenerOptions{
		Dial: func(context.Context) (Session, error) {
			if dials.Add(1) == 1 {
				return first, nil
			}
			return second, nil
		},
		Handler:      handlerFunc(func(context.Context, string, []byte) error { return nil }),
		Topic:        "t/+",
		RestartDelay: 5 * time.Millisecond,
	})

	<-second.subscribed
	if !first.closed.Load() {
		t.Error("failed session was not closed before restart")
	}

	cancel()
	<-done
}

func TestListenerRestartsAfterLostSubscription(t *testing.T) {
	first := newFakeSession()
	second := newFakeSession()
	obs := &stateRecorder{}

	var dials atomic.Int32
	cancel, done := startListener(t, ListenerOptions{
		Dial: func(context.Context) (Session, error) {
			if dials.Add(1) == 1 {
				return first, nil
			}
			return second, nil
		},
		Handler:      handlerFunc(func(context.Context, string, []byte) error { return nil }),
		Topic:        "t/+",
		RestartDelay: 5 * time.Millisecond,
		Observer:     obs,
	})

	<-first.subscribed

	// The client reconnected on its own but could not restore the topic.
	onConnect, _, _ := first.callbacks()
	onConnect()
	first.resubscribeCallback()("t/+", mqtt.ErrSubscribeFailed)

	select {
	case <-second.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not rebuild the session")
	}
	if !first.closed.Load() {
		t.Error("session with lost subscription was not closed")
	}
	if first.resubscribeCallback() != nil {
		t.Error("resubscribe callback still attached to the discarded session")
	}
	if obs.restarts.Load() != 1 {
		t.Errorf("restarts = %d, want 1", obs.restarts.Load())
	}

	cancel()
	<-done
}

func TestListenerNoRedialAfterCancel(t *testing.T) {
	var dials atomic.Int32
	cancel, done := startListener(t, ListenerOptions{
		Dial: func(context.Context) (Session, error) {
			dials.Add(1)
			return nil, errors.New("refused")
		},
		Handler:      handlerFunc(func(context.Context, string, []byte) error { return nil }),
		Topic:        "t/+",
		RestartDelay: time.Hour,
	})

	waitFor(t, "first dial", func() bool { return dials.Load() == 1 })
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return while sleeping between restarts")
	}
	if dials.Load() != 1 {
		t.Errorf("dials = %d, want 1", dials.Load())
	}
}

func TestListenerTracksConnectionCallbacks(t *testing.T) {
	sess := newFakeSession()
	l, err := NewListener(ListenerOptions{
		Dial:    func(context.Context) (Session, error) { return sess, nil },
		Handler: handlerFunc(func(context.Context, string, []byte) error { return nil }),
		Topic:   "t/+",
	})
	if err != nil {
		t.Fatalf("NewListener() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	<-sess.subscribed
	waitFor(t, "connected", func() bool { return l.State() == StateConnected })

	onConnect, onDisconnect, onReconnecting := sess.callbacks()
	onDisconnect(errors.New("broker went away"))
	if l.State() != StateDisconnected {
		t.Errorf("after disconnect State() = %v", l.State())
	}
	onReconnecting()
	if l.State() != StateConnecting {
		t.Errorf("after reconnecting State() = %v", l.State())
	}
	onConnect()
	if l.State() != StateConnected {
		t.Errorf("after reconnect State() = %v", l.State())
	}

	cancel()
	<-done

	onConnect, onDisconnect, onReconnecting = sess.callbacks()
	if onConnect != nil || onDisconnect != nil || onReconnecting != nil {
		t.Error("callbacks still attached after shutdown")
	}
}

func TestListenerDrainsInFlight(t *testing.T) {
	sess := newFakeSession()
	entered := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr atomic.Value

	cancel, done := startListener(t, ListenerOptions{
		Dial: func(context.Context) (Session, error) { return sess, nil },
		Handler: handlerFunc(func(ctx context.Context, _ string, _ []byte) error {
			close(entered)
			<-release
			handlerCtxErr.Store(ctx.Err() == nil)
			return nil
		}),
		Topic:        "t/+",
		DrainTimeout: 5 * time.Second,
	})

	<-sess.subscribed
	go sess.deliver("t/a", nil)
	<-entered

	cancel()
	select {
	case <-done:
		t.Fatal("Run() returned before in-flight handler finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after drain")
	}
	if handlerCtxErr.Load() != true {
		t.Error("in-flight handler context was cancelled by shutdown")
	}
}

func TestListenerDrainTimeout(t *testing.T) {
	sess := newFakeSession()
	entered := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	cancel, done := startListener(t, ListenerOptions{
		Dial: func(context.Context) (Session, error) { return sess, nil },
		Handler: handlerFunc(func(context.Context, string, []byte) error {
			close(entered)
			<-release
			return nil
		}),
		Topic:        "t/+",
		DrainTimeout: 20 * time.Millisecond,
	})

	<-sess.subscribed
	go sess.deliver("t/a", nil)
	<-entered

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() blocked past the drain timeout")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		State(9):          "state(9)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), s.String(), want)
		}
	}
}
