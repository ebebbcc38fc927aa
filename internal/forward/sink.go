// Package forward mirrors stored readings to external sinks such as an MQTT
// broker or InfluxDB. Forwarding is best effort: readings are queued and sent
// by a background worker, so a slow or failing sink never delays or fails
// ingestion. When the queue is full the reading is dropped for every sink.
package forward

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jwulff/farmlink-go/internal/domain"
)

const (
	// DefaultTimeout bounds a single Send.
	DefaultTimeout = 3 * time.Second
	// DefaultQueueSize is how many readings may wait for the worker.
	DefaultQueueSize = 256
)

// Sink receives a copy of every stored reading.
type Sink interface {
	Name() string
	Send(ctx context.Context, reading domain.Reading) error
}

// FailureRecorder is notified when a sink fails.
type FailureRecorder interface {
	SinkFailed(sink string)
}

// Fanout sends each reading to every configured sink.
type Fanout struct {
	sinks    []Sink
	timeout  time.Duration
	queue    chan domain.Reading
	logger   *zap.Logger
	recorder FailureRecorder
}

// NewFanout creates a fanout over sinks. A zero timeout uses DefaultTimeout.
func NewFanout(logger *zap.Logger, timeout time.Duration, sinks ...Sink) *Fanout {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fanout{
		sinks:   sinks,
		timeout: timeout,
		queue:   make(chan domain.Reading, DefaultQueueSize),
		logger:  logger.Named("forward"),
	}
}

// WithQueueSize replaces the queue. Call it before Run.
func (f *Fanout) WithQueueSize(n int) *Fanout {
	if n < 1 {
		n = 1
	}
	f.queue = make(chan domain.Reading, n)
	return f
}

// WithRecorder sets the recorder notified on sink failures.
func (f *Fanout) WithRecorder(r FailureRecorder) *Fanout {
	f.recorder = r
	return f
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Enqueue hands reading to the worker without waiting. It returns false when
// the queue is full and the reading was dropped.
func (f *Fanout) Enqueue(reading domain.Reading) bool {
	if len(f.sinks) == 0 {
		return true
	}
	select {
	case f.queue <- reading:
		return true
	default:
		f.logger.Warn("forward queue full, dropping reading", zap.Int64("id", reading.ID))
		if f.recorder != nil {
			for _, s := range f.sinks {
				f.recorder.SinkFailed(s.Name())
			}
		}
		return false
	}
}

// Run forwards queued readings until ctx is done. Sends get their own
// timeout and are not cut short by ctx, so a reading taken off the queue is
// still delivered during shutdown.
func (f *Fanout) Run(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			if n := len(f.queue); n > 0 {
				f.logger.Info("forward worker stopped", zap.Int("pending", n))
			}
			return
		case reading := <-f.queue:
			f.Forward(base, reading)
		}
	}
}

// Forward sends reading to each sink in turn and returns how many accepted it.
func (f *Fanout) Forward(ctx context.Context, reading domain.Reading) int {
	ok := 0
	for _, s := range f.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
		err := s.Send(sendCtx, reading)
		cancel()
		if err != nil {
			f.logger.Warn("failed to forward reading",
				zap.String("sink", s.Name()),
				zap.Int64("id", reading.ID),
				zap.Error(err),
			)
			if f.recorder != nil {
				f.recorder.SinkFailed(s.Name())
			}
			continue
		}
		ok++
	}
	return ok
}
