// Package telemetry ties reading storage, forwarding and metrics together
// behind the operations the HTTP API and the serial bridge share.
package telemetry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jwulff/farmlink-go/internal/domain"
	"github.com/jwulff/farmlink-go/internal/forward"
	"github.com/jwulff/farmlink-go/internal/metrics"
	"github.com/jwulff/farmlink-go/internal/storage"
)

// Transports a reading can arrive on.
const (
	TransportHTTP   = "http"
	TransportSerial = "serial"
)

// Repository is the reading storage the service needs.
type Repository interface {
	InsertReading(ctx context.Context, reading domain.Reading) (int64, error)
	ListReadings(ctx context.Context) ([]domain.Reading, error)
}

// Service stores readings and mirrors them to the configured sinks.
type Service struct {
	repo    Repository
	fanout  *forward.Fanout
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates a service. fanout and m may be nil. The caller runs
// fanout's worker.
func NewService(repo Repository, fanout *forward.Fanout, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		fanout:  fanout,
		metrics: m,
		logger:  logger.Named("telemetry"),
	}
}

// Ingest stores one reading and returns it with its assigned ID.
func (s *Service) Ingest(ctx context.Context, transport string, in domain.ReadingInput) (domain.Reading, error) {
	reading := in.ToReading()

	id, err := s.repo.InsertReading(ctx, reading)
	if err != nil {
		s.fail(metrics.ReasonStorage)
		return domain.Reading{}, fmt.Errorf("failed to store reading: %w", err)
	}
	reading.ID = id

	if s.metrics != nil {
		s.metrics.ReadingsIngested.WithLabelValues(transport).Inc()
	}
	s.logger.Debug("reading stored",
		zap.Int64("id", id),
		zap.String("transport", transport),
		zap.String("dispositivo_id", reading.DeviceOr("")),
	)

	if s.fanout != nil {
		s.fanout.Enqueue(reading)
	}
	return reading, nil
}

// List returns all readings, newest first.
func (s *Service) List(ctx context.Context) ([]domain.Reading, error) {
	readings, err := s.repo.ListReadings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	if readings == nil {
		readings = []domain.Reading{}
	}
	return readings, nil
}

// RecordRejected counts a reading that never reached storage.
func (s *Service) RecordRejected(reason string) {
	s.fail(reason)
}

func (s *Service) fail(reason string) {
	if s.metrics != nil {
		s.metrics.IngestFailures.WithLabelValues(reason).Inc()
	}
}

// Verify the SQLite store satisfies Repository through storage.Store.
var _ Repository = (storage.Store)(nil)
