// Command correlate cross-references the readings of two sensors and reports
// every pair that lies within twice the sensor accuracy of each other.
//
// Usage:
//
//	go run ./cmd/correlate \
//	  -sensor1 data/SensorData1.csv \
//	  -sensor2 data/SensorData2.json \
//	  -out genuine_detections.csv
//
// Every flag falls back to its environment variable (SENSOR1_PATH,
// SENSOR2_PATH, OUTPUT_PATH); see internal/config for the rest.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/sensor-correlator/internal/adapter/console"
	"github.com/couchcryptid/sensor-correlator/internal/adapter/csvfile"
	"github.com/couchcryptid/sensor-correlator/internal/adapter/jsonfile"
	kafkaadapter "github.com/couchcryptid/sensor-correlator/internal/adapter/kafka"
	"github.com/couchcryptid/sensor-correlator/internal/adapter/sqlite"
	"github.com/couchcryptid/sensor-correlator/internal/config"
	"github.com/couchcryptid/sensor-correlator/internal/domain"
	"github.com/couchcryptid/sensor-correlator/internal/observability"
	"github.com/couchcryptid/sensor-correlator/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := applyFlags(cfg, os.Args[1:]); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	if err := run(cfg, logger, os.Stdout); err != nil {
		logger.Error("correlation failed", "error", err)
		os.Exit(1)
	}
}

// applyFlags overrides the configured paths from the command line and
// re-validates the result.
func applyFlags(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("correlate", flag.ContinueOnError)
	fs.StringVar(&cfg.Sensor1Path, "sensor1", cfg.Sensor1Path, "sensor 1 readings (CSV)")
	fs.StringVar(&cfg.Sensor2Path, "sensor2", cfg.Sensor2Path, "sensor 2 readings (JSON)")
	fs.StringVar(&cfg.OutputPath, "out", cfg.OutputPath, "output CSV of genuine detections")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return cfg.Validate()
}

// run executes one correlation. The console report goes to stdout.
func run(cfg *config.Config, logger *slog.Logger, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, cfg, os.Stderr, logger)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(shutdownTracing, logger)

	metrics := observability.NewMetrics()

	opts := domain.ReadOptions{
		Mode:       cfg.ParseMode,
		CheckRange: cfg.ValidateCoordinates,
		OnSkip:     pipeline.SkipReporter(logger, metrics),
	}
	sensor1 := csvfile.NewReader(cfg.Sensor1Path, "sensor1", opts, logger)
	sensor2 := jsonfile.NewReader(cfg.Sensor2Path, "sensor2", opts, logger)

	sinks := []pipeline.DetectionSink{
		csvfile.NewWriter(cfg.OutputPath),
		console.NewPrinter(stdout),
	}
	if cfg.KafkaEnabled() {
		w := kafkaadapter.NewWriter(cfg, logger)
		defer closeWithLog(logger, "kafka writer", w.Close)
		sinks = append(sinks, w)
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaDetectionsTopic)
	}
	if cfg.ArchiveSQLitePath != "" {
		archive, err := sqlite.Open(ctx, cfg.ArchiveSQLitePath, logger)
		if err != nil {
			return err
		}
		defer closeWithLog(logger, "sqlite archive", archive.Close)
		sinks = append(sinks, archive)
	}

	correlator := domain.NewCorrelator(cfg.EarthRadiusMeters)
	p := pipeline.New(sensor1, sensor2, correlator, cfg.ThresholdMeters(), sinks, logger, metrics)

	_, runErr := p.Run(ctx)

	// Export metrics for failed runs too; the error counters matter most then.
	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.Error("metrics export failed", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}
	logger.Info("detections written", "path", cfg.OutputPath)
	return nil
}

func closeWithLog(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error(what+" close error", "error", err)
	}
}
