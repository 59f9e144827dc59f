package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

// Recorder defaults.
const (
	DefaultBufferSize   = 256
	DefaultWriteTimeout = 2 * time.Second
)

// Logger is the logging surface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	BufferSize   int
	WriteTimeout time.Duration
	Logger       Logger
}

// Recorder implements ingest.Recorder. Record enqueues onto a bounded
// channel drained by a single writer goroutine; when the channel is full the
// rejection is dropped and counted so the pipeline never waits on SQLite.
type Recorder struct {
	repo         Repository
	writeTimeout time.Duration
	logger       Logger

	queue   chan Entry
	dropped atomic.Uint64
	failed  atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ ingest.Recorder = (*Recorder)(nil)

// NewRecorder starts a Recorder writing to repo. Call Close to flush.
func NewRecorder(repo Repository, opts RecorderOptions) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	r := &Recorder{
		repo:         repo,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		queue:        make(chan Entry, opts.BufferSize),
		done:         make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues rej for storage without blocking.
func (r *Recorder) Record(rej ingest.Rejection) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.queue <- Entry{
		Reason:    rej.Reason,
		DeviceID:  rej.DeviceID,
		Topic:     rej.Topic,
		Detail:    rej.Detail,
		CreatedAt: rej.At,
	}:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of rejections discarded because the queue was
// full or the recorder was closed.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Failed returns the number of rejections whose insert failed.
func (r *Recorder) Failed() uint64 {
	return r.failed.Load()
}

// Close stops accepting rejections and waits for queued ones to be written
// or for ctx to expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		err := r.repo.Create(ctx, &e)
		cancel()

		if err != nil {
			r.failed.Add(1)
			if r.logger != nil {
				r.logger.Warn("recording rejection failed",
					"reason", e.Reason,
					"device_id", e.DeviceID,
					"error", err,
				)
			}
		}
	}
}
