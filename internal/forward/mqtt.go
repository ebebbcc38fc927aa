package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/jwulff/farmlink-go/internal/domain"
)

// unknownDevice is the topic segment used when a reading has no device ID.
const unknownDevice = "unknown"

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string
	Topic    string // readings go to <Topic>/<dispositivo_id>

	MaxRetries     int
	MaxElapsedTime time.Duration
}

// publisher is the part of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes each reading as JSON.
type MQTTSink struct {
	client publisher
	topic  string
}

// NewMQTTSink creates a sink on an already connected client.
func NewMQTTSink(client publisher, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: topic}
}

func (s *MQTTSink) Name() string {
	return "mqtt"
}

// topicEscaper replaces characters that would split the device segment or
// act as wildcards.
var topicEscaper = strings.NewReplacer("/", "_", "+", "_", "#", "_", "\x00", "_")

// TopicFor returns the topic a reading is published on. The device ID always
// stays a single topic level.
func (s *MQTTSink) TopicFor(reading domain.Reading) string {
	return s.topic + "/" + topicEscaper.Replace(reading.DeviceOr(unknownDevice))
}

func (s *MQTTSink) Send(ctx context.Context, reading domain.Reading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	token := s.client.Publish(s.TopicFor(reading), 0, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish timed out: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish reading: %w", err)
	}
	return nil
}

// ConnectMQTT connects to the broker, retrying with exponential backoff. The
// client is disconnected when ctx is done.
func ConnectMQTT(ctx context.Context, cfg MQTTConfig, logger *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.MaxElapsedTime
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 5
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Warn("failed to connect to mqtt broker", zap.String("broker", cfg.Broker), zap.Error(token.Error()))
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker after retries: %w", err)
	}

	logger.Info("connected to mqtt broker", zap.String("broker", cfg.Broker))

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		logger.Info("mqtt connection closed")
	}()

	return client, nil
}
