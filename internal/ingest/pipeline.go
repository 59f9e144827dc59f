package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultWriteTimeout bounds a single store write when none is configured.
const DefaultWriteTimeout = 5 * time.Second

// Writer persists validated readings. Implementations convert a Reading
// into their store's record format and report success synchronously.
//
// Writers are called concurrently and must be safe for concurrent use.
type Writer interface {
	WriteReading(ctx context.Context, r *Reading) error
}

// Logger is the logging surface used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer receives pipeline outcomes, typically for metrics.
type Observer interface {
	MessageReceived()
	ReadingAccepted()
	ReadingRejected(reason string)
	ObserveStoreWrite(d time.Duration)
}

// Rejection describes one dropped message.
type Rejection struct {
	Reason   string
	DeviceID string
	Topic    string
	Detail   string
	At       time.Time
}

// Recorder keeps a trail of rejected messages. Record must not block.
type Recorder interface {
	Record(r Rejection)
}

// Options configures a Pipeline. Verifier, Replay and Writer are required.
type Options struct {
	Verifier *Verifier
	Replay   *ReplayGuard
	Writer   Writer

	// WriteTimeout bounds each store write. Zero uses DefaultWriteTimeout.
	WriteTimeout time.Duration

	Logger   Logger
	Observer Observer
	Recorder Recorder

	// Now returns the arrival time of a message. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline gates every inbound payload before persistence:
//
//	decode → identity → integrity → replay → range → store
//
// Decoding is split around the identity stage: JSON shape and member types
// are checked first, then device_id, and only then are seq and ts
// interpreted.
//
// The first failing stage drops the message; no later stage runs.
// Pipeline is safe for concurrent use.
type Pipeline struct {
	verifier     *Verifier
	replay       *ReplayGuard
	writer       Writer
	writeTimeout time.Duration
	logger       Logger
	observer     Observer
	recorder     Recorder
	now          func() time.Time
}

// NewPipeline creates a Pipeline from opts.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Verifier == nil {
		return nil, errors.New("ingest: verifier is required")
	}
	if opts.Replay == nil {
		return nil, errors.New("ingest: replay guard is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("ingest: writer is required")
	}

	p := &Pipeline{
		verifier:     opts.Verifier,
		replay:       opts.Replay,
		writer:       opts.Writer,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		observer:     opts.Observer,
		recorder:     opts.Recorder,
		now:          opts.Now,
	}
	if p.writeTimeout <= 0 {
		p.writeTimeout = DefaultWriteTimeout
	}
	if p.logger == nil {
		p.logger = noopLogger{}
	}
	if p.observer == nil {
		p.observer = noopObserver{}
	}
	if p.recorder == nil {
		p.recorder = noopRecorder{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Handle runs one raw payload through every stage.
//
// It returns nil when the reading was stored, otherwise an error wrapping
// exactly one of ErrDecode, ErrIdentity, ErrIntegrity, ErrReplay, ErrRange
// or ErrStore. Rejections are already logged; callers only need the error
// for classification.
func (p *Pipeline) Handle(ctx context.Context, topic string, raw []byte) error {
	p.observer.MessageReceived()

	wire, err := decodeWire(raw)
	if err != nil {
		return p.reject(topic, "", err)
	}

	deviceID := wire.deviceID()
	if err := ValidateDeviceID(deviceID); err != nil {
		return p.reject(topic, clipDeviceID(deviceID), err)
	}

	reading, err := wire.reading(p.now())
	if err != nil {
		return p.reject(topic, deviceID, err)
	}

	if err := p.verifier.Verify(raw, reading.Signature); err != nil {
		return p.reject(topic, reading.DeviceID, err)
	}

	if last, ok := p.replay.Accept(reading.DeviceID, reading.Sequence); !ok {
		err := fmt.Errorf("%w: seq %d, last accepted %d", ErrReplay, reading.Sequence, last)
		return p.reject(topic, reading.DeviceID, err,
			"seq", reading.Sequence,
			"last_seq", last,
		)
	}

	if err := ValidateRanges(reading.Sensors); err != nil {
		return p.reject(topic, reading.DeviceID, err)
	}

	if err := p.write(ctx, reading); err != nil {
		return p.reject(topic, reading.DeviceID, err, "seq", reading.Sequence)
	}

	p.observer.ReadingAccepted()
	p.logger.Debug("reading stored",
		"device_id", reading.DeviceID,
		"seq", reading.Sequence,
		"topic", topic,
	)
	return nil
}

func (p *Pipeline) write(ctx context.Context, reading *Reading) error {
	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	start := time.Now()
	err := p.writer.WriteReading(ctx, reading)
	p.observer.ObserveStoreWrite(time.Since(start))

	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// reject logs and records a dropped message and returns err unchanged.
// Decode and store failures log at error level, everything else at warn.
func (p *Pipeline) reject(topic, deviceID string, err error, attrs ...any) error {
	reason := Reason(err)
	p.observer.ReadingRejected(reason)
	p.recorder.Record(Rejection{
		Reason:   reason,
		DeviceID: deviceID,
		Topic:    topic,
		Detail:   err.Error(),
		At:       p.now().UTC(),
	})

	args := make([]any, 0, 8+len(attrs))
	args = append(args, "reason", reason, "topic", topic)
	if deviceID != "" {
		args = append(args, "device_id", deviceID)
	}
	args = append(args, attrs...)
	args = append(args, "error", err)

	switch reason {
	case ReasonDecode, ReasonStore:
		p.logger.Error("reading dropped", args...)
	default:
		p.logger.Warn("reading dropped", args...)
	}
	return err
}

// clipDeviceID bounds a rejected identifier before it reaches logs and the
// audit trail.
func clipDeviceID(id string) string {
	const limit = 2 * MaxDeviceIDLength
	if len(id) <= limit {
		return id
	}
	return id[:limit] + "..."
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopObserver struct{}

func (noopObserver) MessageReceived()                {}
func (noopObserver) ReadingAccepted()                {}
func (noopObserver) ReadingRejected(string)          {}
func (noopObserver) ObserveStoreWrite(time.Duration) {}

type noopRecorder struct{}

func (noopRecorder) Record(Rejection) {}
