package serialbridge

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/jwulff/farmlink-go/internal/domain"
	"github.com/jwulff/farmlink-go/internal/metrics"
	"github.com/jwulff/farmlink-go/internal/telemetry"
)

// Replies written back to the device.
const (
	ReplyOK    = "OK"
	ReplyRetry = "RETRY"
)

// Config configures the serial port.
type Config struct {
	PortName string
	BaudRate int
	MaxFrame int
}

// Ingester stores decoded readings.
type Ingester interface {
	Ingest(ctx context.Context, transport string, in domain.ReadingInput) (domain.Reading, error)
	RecordRejected(reason string)
}

// Bridge reads frames from a port and ingests them.
type Bridge struct {
	port    io.ReadWriteCloser
	decoder *Decoder
	ingest  Ingester
	logger  *zap.Logger
}

// Open opens the configured serial port and returns a bridge on it.
func Open(cfg Config, ingest Ingester, logger *zap.Logger) (*Bridge, error) {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:   cfg.PortName,
		Baud:   baud,
		Parity: serial.ParityNone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.PortName, err)
	}
	logger.Info("serial port opened", zap.String("port", cfg.PortName), zap.Int("baud", baud))
	return New(port, cfg.MaxFrame, ingest, logger), nil
}

// New creates a bridge on an open port.
func New(port io.ReadWriteCloser, maxFrame int, ingest Ingester, logger *zap.Logger) *Bridge {
	return &Bridge{
		port:    port,
		decoder: NewDecoder(port, maxFrame),
		ingest:  ingest,
		logger:  logger.Named("serial"),
	}
}

// Run processes frames until ctx is done or the port fails. The port is
// closed on return.
func (b *Bridge) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			b.port.Close()
		case <-stop:
		}
	}()
	defer b.port.Close()

	for {
		in, err := b.decoder.Next()
		if err != nil {
			var frameErr *FrameError
			if errors.As(err, &frameErr) {
				b.logger.Warn("rejected frame", zap.Error(err))
				b.ingest.RecordRejected(metrics.ReasonFrame)
				b.reply(ReplyRetry)
				continue
			}
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read serial port: %w", err)
		}

		reading, err := b.ingest.Ingest(ctx, telemetry.TransportSerial, in)
		if err != nil {
			b.logger.Error("failed to ingest serial reading", zap.Error(err))
			b.reply(ReplyRetry)
			continue
		}
		b.logger.Debug("serial reading stored", zap.Int64("id", reading.ID))
		b.reply(ReplyOK)
	}
}

func (b *Bridge) reply(msg string) {
	if _, err := io.WriteString(b.port, msg); err != nil {
		b.logger.Warn("failed to write reply", zap.String("reply", msg), zap.Error(err))
	}
}
