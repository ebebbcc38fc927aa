package forward

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jwulff/farmlink-go/internal/domain"
)

// BreakerSink wraps a sink in a circuit breaker so a dead downstream is
// skipped instead of costing a timeout on every reading.
type BreakerSink struct {
	sink Sink
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerSink trips after failures consecutive errors and stays open for openFor.
func NewBreakerSink(sink Sink, failures int, openFor time.Duration) *BreakerSink {
	if failures < 1 {
		failures = 1
	}
	return &BreakerSink{
		sink: sink,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    sink.Name(),
			Timeout: openFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(failures)
			},
		}),
	}
}

func (b *BreakerSink) Name() string {
	return b.sink.Name()
}

func (b *BreakerSink) Send(ctx context.Context, reading domain.Reading) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.sink.Send(ctx, reading)
	})
	return err
}

// State reports the breaker state.
func (b *BreakerSink) State() gobreaker.State {
	return b.cb.State()
}
