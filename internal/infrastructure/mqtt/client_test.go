package mqtt

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/nexlytix-core/internal/infrastructure/config"
)

const testBrokerAddr = "127.0.0.1:1883"

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "nexlytix-test",
		},
		QoS:       1,
		Namespace: "nexlytix-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
			RestartDelay: 1,
		},
	}
}

// skipIfNoBroker skips the test when no broker listens on testBrokerAddr.
func skipIfNoBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", testBrokerAddr, 500*time.Millisecond)
	if err != nil {
		t.Skipf("MQTT broker not available at %s: %v", testBrokerAddr, err)
	}
	conn.Close()
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Options
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "ingest", Password: "secret"}
	cfg.Reconnect.InitialDelay = 2
	cfg.Reconnect.MaxDelay = 30

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "nexlytix-test" {
		t.Errorf("ClientID = %q, want nexlytix-test", opts.ClientID)
	}
	if opts.Username != "ingest" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want ingest/secret", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false so dial failures reach the caller")
	}
	if opts.ConnectRetryInterval != 2*time.Second {
		t.Errorf("ConnectRetryInterval = %v, want 2s", opts.ConnectRetryInterval)
	}
	if opts.MaxReconnectInterval != 30*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 30s", opts.MaxReconnectInterval)
	}
	if opts.Order {
		t.Error("Order = true, want false (concurrent dispatch)")
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	cfg.OrderMatters = true

	opts := buildClientOptions(cfg)

	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %s, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig missing or below minimum version")
	}
	if !opts.Order {
		t.Error("Order = false, want true")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, Topics{Namespace: "plant"}, "core-1")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if opts.WillTopic != "plant/system/status" {
		t.Errorf("WillTopic = %q, want plant/system/status", opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will qos/retained = %d/%v, want 1/true", opts.WillQos, opts.WillRetained)
	}
	if !strings.Contains(string(opts.WillPayload), `"client_id":"core-1"`) {
		t.Errorf("WillPayload = %s, missing client_id", opts.WillPayload)
	}
}

// =============================================================================
// Validation (no broker required)
// =============================================================================

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"qos too high", "a/b", 3, noop, ErrInvalidQoS},
		{"nil handler", "a/b", 1, nil, ErrSubscribeFailed},
		{"not connected", "a/b", 1, noop, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes, want 0", c.SubscriptionCount())
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"qos too high", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"payload too large", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "a/b", []byte("x"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestHealthCheckNotConnected(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestInvokeRecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.invoke(func(string, []byte) error { panic("boom") }, "a/b", nil)
	c.invoke(func(string, []byte) error { return errors.New("bad") }, "a/b", nil)

	if len(logger.errors) != 1 {
		t.Errorf("errors logged = %d, want 1 (panic)", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns logged = %d, want 1 (handler error)", len(logger.warns))
	}
}

func TestCallbacks(t *testing.T) {
	c := &Client{}

	var connects, disconnects, reconnects int
	c.SetOnConnect(func() { connects++ })
	c.SetOnDisconnect(func(error) { disconnects++ })
	c.SetOnReconnecting(func() { reconnects++ })

	c.handleDisconnect(errors.New("lost"))
	c.handleReconnecting()

	if disconnects != 1 || reconnects != 1 {
		t.Errorf("disconnects=%d reconnects=%d, want 1/1", disconnects, reconnects)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}

	c.SetOnDisconnect(nil)
	c.handleDisconnect(errors.New("lost again"))
	if disconnects != 1 {
		t.Errorf("cleared callback still invoked")
	}
	if connects != 0 {
		t.Errorf("connects = %d, want 0", connects)
	}
}

// fakeToken completes immediately unless pending is set.
type fakeToken struct {
	pending bool
	err     error
}

func (t fakeToken) Wait() bool                     { return !t.pending }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

var _ pahomqtt.Token = fakeToken{}

func TestAwaitResubscribe(t *testing.T) {
	tests := []struct {
		name       string
		token      fakeToken
		wantReport bool
	}{
		{"restored", fakeToken{}, false},
		{"refused", fakeToken{err: errors.New("not authorised")}, true},
		{"timed out", fakeToken{pending: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &recordingLogger{}
			c := &Client{}
			c.SetLogger(logger)

			var gotTopic string
			var gotErr error
			c.SetOnResubscribeFailed(func(topic string, err error) {
				gotTopic, gotErr = topic, err
			})

			c.awaitResubscribe("nexlytix/+/+/telemetry", tt.token, time.Millisecond)

			if !tt.wantReport {
				if gotErr != nil || len(logger.errors) != 0 {
					t.Errorf("reported %v (%d errors logged), want nothing", gotErr, len(logger.errors))
				}
				return
			}
			if gotTopic != "nexlytix/+/+/telemetry" || !errors.Is(gotErr, ErrSubscribeFailed) {
				t.Errorf("callback got (%q, %v), want topic and ErrSubscribeFailed", gotTopic, gotErr)
			}
			if len(logger.errors) != 1 {
				t.Errorf("errors logged = %d, want 1", len(logger.errors))
			}
		})
	}
}

func TestAwaitResubscribeNoCallback(t *testing.T) {
	c := &Client{}
	c.SetOnResubscribeFailed(func(string, error) { t.Error("cleared callback invoked") })
	c.SetOnResubscribeFailed(nil)

	c.awaitResubscribe("t", fakeToken{err: errors.New("x")}, time.Millisecond)
}

// =============================================================================
// Broker tests
// =============================================================================

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(ctx, cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectAndClose(t *testing.T) {
	skipIfNoBroker(t)

	client, err := Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestPublishSubscribeTelemetry(t *testing.T) {
	skipIfNoBroker(t)

	cfg := testConfig()
	cfg.Broker.ClientID = "nexlytix-test-pubsub"
	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := Topics{Namespace: cfg.Namespace}
	received := make(chan string, 1)

	err = client.Subscribe(topics.AllTelemetry(), 1, func(topic string, payload []byte) error {
		received <- topic + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topics.AllTelemetry()) {
		t.Error("HasSubscription() = false after Subscribe")
	}

	topic := topics.Telemetry("acme", "pump-01")
	if err := client.Publish(topic, []byte(`{"seq":1}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		want := topic + ` {"seq":1}`
		if got != want {
			t.Errorf("received %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for telemetry message")
	}
}
