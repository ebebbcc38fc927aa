package forward

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/jwulff/farmlink-go/internal/domain"
)

// DefaultMeasurement is the Influx measurement readings are written to.
const DefaultMeasurement = "registros"

// InfluxConfig configures the Influx sink.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// pointWriter is satisfied by api.WriteAPIBlocking.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes each reading as one point.
type InfluxSink struct {
	writer      pointWriter
	measurement string
	now         func() time.Time
}

// NewInfluxSink creates a sink over an existing writer.
func NewInfluxSink(writer pointWriter, measurement string) *InfluxSink {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &InfluxSink{writer: writer, measurement: measurement, now: time.Now}
}

// DialInflux creates the Influx client and a sink on its blocking write API.
// Close the returned client on shutdown.
func DialInflux(cfg InfluxConfig) (influxdb2.Client, *InfluxSink) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return client, NewInfluxSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement)
}

func (s *InfluxSink) Name() string {
	return "influx"
}

// Point builds the point written for a reading. Text fields become tags and
// the numeric measurements become fields; the storage ID is always a field.
func (s *InfluxSink) Point(reading domain.Reading) *write.Point {
	p := influxdb2.NewPointWithMeasurement(s.measurement).
		AddField("registro_id", reading.ID).
		SetTime(s.now())

	if reading.Farm != nil {
		p.AddTag("fazenda", *reading.Farm)
	}
	if reading.DeviceID != nil {
		p.AddTag("dispositivo_id", *reading.DeviceID)
	}
	if reading.Fruit != nil {
		p.AddTag("fruto", *reading.Fruit)
	}
	if reading.PackageNumber != nil {
		p.AddField("numero_pacote", *reading.PackageNumber)
	}
	for k, v := range reading.Measurements() {
		p.AddField(k, v)
	}
	return p
}

func (s *InfluxSink) Send(ctx context.Context, reading domain.Reading) error {
	if err := s.writer.WritePoint(ctx, s.Point(reading)); err != nil {
		return fmt.Errorf("failed to write point: %w", err)
	}
	return nil
}
