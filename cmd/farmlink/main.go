// Package main is the entry point for the farmlink telemetry server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jwulff/farmlink-go/internal/api"
	"github.com/jwulff/farmlink-go/internal/config"
	"github.com/jwulff/farmlink-go/internal/domain"
	"github.com/jwulff/farmlink-go/internal/forward"
	"github.com/jwulff/farmlink-go/internal/metrics"
	"github.com/jwulff/farmlink-go/internal/serialbridge"
	"github.com/jwulff/farmlink-go/internal/storage/sqlite"
	"github.com/jwulff/farmlink-go/internal/telemetry"
)

func main() {
	os.Exit(run())
}

// run executes one subcommand and returns the process exit code, so deferred
// cleanup such as flushing the logger happens before exit.
func run() int {
	if len(os.Args) < 2 {
		showUsage()
		return 0
	}

	conf, err := config.Load()
	if err != nil {
		log.Printf("unable to build configuration: %v", err)
		return 1
	}
	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		log.Printf("error building zap logger: %v", err)
		return 1
	}
	defer logger.Sync()

	switch os.Args[1] {
	case "serve":
		err = serve(conf, logger)
	case "migrate":
		err = migrate(conf, logger)
	case "dump":
		err = dump(conf)
	default:
		showUsage()
		return 2
	}
	if err != nil {
		logger.Error(os.Args[1]+" failed", zap.Error(err))
		return 1
	}
	return 0
}

func showUsage() {
	fmt.Println("Usage:")
	fmt.Println("  farmlink serve     - Run the HTTP server (and serial bridge when configured)")
	fmt.Println("  farmlink migrate   - Create or patch the registros table and exit")
	fmt.Println("  farmlink dump      - Print every stored reading as JSON, newest first (read-only)")
	fmt.Println()
	fmt.Println("Environment variables (prefix FARMLINK_):")
	fmt.Println("  PORT               - HTTP port (default 5000; unprefixed PORT also read)")
	fmt.Println("  DB_PATH            - SQLite file (default dados.db)")
	fmt.Println("  LOG_LEVEL          - debug, info, warn, error (default info)")
	fmt.Println("  MQTT_BROKER        - Mirror readings to this broker, e.g. tcp://localhost:1883")
	fmt.Println("  INFLUX_URL         - Mirror readings to InfluxDB (with INFLUX_TOKEN/ORG/BUCKET)")
	fmt.Println("  SERIAL_PORT        - Read framed readings from this serial device")
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logConf := zap.NewProductionConfig()
	logConf.Level = zap.NewAtomicLevelAt(lvl)
	logConf.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	logConf.DisableCaller = true
	return logConf.Build()
}

func serve(conf *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.NewFileStore(conf.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	logSchema(logger, store)

	m := metrics.New()
	sinks := buildSinks(ctx, conf, logger)
	fanout := forward.NewFanout(logger, conf.ForwardTimeout, sinks...).WithRecorder(m)
	go fanout.Run(ctx)
	svc := telemetry.NewService(store, fanout, m, logger)

	control := domain.NewControlState()
	handler := api.NewHandler(svc, control, m, store, logger)

	srv := &http.Server{
		Addr:              conf.Addr(),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr), zap.Int("sinks", fanout.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if conf.SerialEnabled() {
		bridge, err := serialbridge.Open(serialbridge.Config{
			PortName: conf.SerialPort,
			BaudRate: conf.SerialBaud,
			MaxFrame: conf.SerialMaxFrame,
		}, svc, logger)
		if err != nil {
			logger.Error("serial bridge disabled", zap.Error(err))
		} else {
			go func() {
				if err := bridge.Run(ctx); err != nil {
					logger.Error("serial bridge stopped", zap.Error(err))
				}
			}()
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shCtx)
}

// buildSinks connects the optional reading mirrors. A sink that cannot be
// reached at startup is skipped.
func buildSinks(ctx context.Context, conf *config.Config, logger *zap.Logger) []forward.Sink {
	var sinks []forward.Sink

	if conf.MQTTEnabled() {
		client, err := forward.ConnectMQTT(ctx, forward.MQTTConfig{
			Broker:   conf.MQTTBroker,
			ClientID: conf.MQTTClientID,
			Username: conf.MQTTUsername,
			Password: conf.MQTTPassword,
			Topic:    conf.MQTTTopic,
		}, logger.Named("mqtt"))
		if err != nil {
			logger.Error("mqtt mirror disabled", zap.Error(err))
		} else {
			sink := forward.NewMQTTSink(client, conf.MQTTTopic)
			sinks = append(sinks, forward.NewBreakerSink(sink, conf.BreakerFailures, conf.BreakerOpenFor))
		}
	}

	if conf.InfluxEnabled() {
		client, sink := forward.DialInflux(forward.InfluxConfig{
			URL:         conf.InfluxURL,
			Token:       conf.InfluxToken,
			Org:         conf.InfluxOrg,
			Bucket:      conf.InfluxBucket,
			Measurement: conf.InfluxMeasurement,
		})
		go func() {
			<-ctx.Done()
			client.Close()
		}()
		logger.Info("influx mirror enabled", zap.String("url", conf.InfluxURL), zap.String("bucket", conf.InfluxBucket))
		sinks = append(sinks, forward.NewBreakerSink(sink, conf.BreakerFailures, conf.BreakerOpenFor))
	}

	return sinks
}

func migrate(conf *config.Config, logger *zap.Logger) error {
	store, err := sqlite.NewFileStore(conf.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	logSchema(logger, store)
	return nil
}

func logSchema(logger *zap.Logger, store *sqlite.Store) {
	status, added := store.InitReport()
	logger.Info("schema ready",
		zap.Stringer("table", status),
		zap.Strings("added_columns", added),
	)
}

func dump(conf *config.Config) error {
	store, err := sqlite.NewReadOnlyFileStore(conf.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	readings, err := store.ListReadings(context.Background())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(readings)
}
