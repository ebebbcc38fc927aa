// Package config loads farmlink settings from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. FARMLINK_DB_PATH.
const Prefix = "FARMLINK"

// Config holds every runtime setting. Optional integrations are disabled
// while their address is empty.
type Config struct {
	Port            string        `envconfig:"PORT" default:"5000"`
	DBPath          string        `split_words:"true" default:"dados.db"`
	LogLevel        string        `split_words:"true" default:"info"`
	ShutdownTimeout time.Duration `split_words:"true" default:"5s"`

	MQTTBroker   string `envconfig:"MQTT_BROKER"`
	MQTTTopic    string `envconfig:"MQTT_TOPIC" default:"farmlink/registros"`
	MQTTClientID string `envconfig:"MQTT_CLIENT_ID" default:"farmlink"`
	MQTTUsername string `envconfig:"MQTT_USERNAME"`
	MQTTPassword string `envconfig:"MQTT_PASSWORD"`

	InfluxURL         string `split_words:"true"`
	InfluxToken       string `split_words:"true"`
	InfluxOrg         string `split_words:"true" default:"farmlink"`
	InfluxBucket      string `split_words:"true" default:"registros"`
	InfluxMeasurement string `split_words:"true" default:"registros"`

	ForwardTimeout  time.Duration `split_words:"true" default:"3s"`
	BreakerFailures int           `split_words:"true" default:"5"`
	BreakerOpenFor  time.Duration `split_words:"true" default:"30s"`

	SerialPort     string `split_words:"true"`
	SerialBaud     int    `split_words:"true" default:"115200"`
	SerialMaxFrame int    `split_words:"true" default:"4096"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// MQTTEnabled reports whether readings are mirrored to a broker.
func (c *Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

// InfluxEnabled reports whether readings are mirrored to InfluxDB.
func (c *Config) InfluxEnabled() bool {
	return c.InfluxURL != ""
}

// SerialEnabled reports whether the serial bridge runs.
func (c *Config) SerialEnabled() bool {
	return c.SerialPort != ""
}
