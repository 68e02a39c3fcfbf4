package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/sensor-correlator/internal/domain"
)

// Config holds all run settings, populated from environment variables.
type Config struct {
	Sensor1Path string
	Sensor2Path string
	OutputPath  string

	SensorAccuracyMeters float64
	EarthRadiusMeters    float64
	ParseMode            domain.ParseMode
	ValidateCoordinates  bool

	LogLevel   string
	LogFormat  string
	RunTimeout time.Duration

	// Optional sinks and exports; empty disables them.
	MetricsTextfile      string
	KafkaBrokers         []string
	KafkaDetectionsTopic string
	ArchiveSQLitePath    string

	TracingEnabled  bool
	TracingExporter string
	OTLPEndpoint    string
}

// ThresholdMeters is the matching distance: twice the per-sensor accuracy.
func (c *Config) ThresholdMeters() float64 {
	return domain.ThresholdForAccuracy(c.SensorAccuracyMeters)
}

// KafkaEnabled reports whether detections should be published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	accuracy, err := parsePositiveFloat("SENSOR_ACCURACY_M", "100")
	if err != nil {
		return nil, err
	}

	radius, err := parsePositiveFloat("EARTH_RADIUS_M", strconv.FormatFloat(domain.EarthRadiusMeters, 'f', -1, 64))
	if err != nil {
		return nil, err
	}

	mode, err := domain.ParseParseMode(strings.ToLower(sharedcfg.EnvOrDefault("PARSE_MODE", string(domain.ParseStrict))))
	if err != nil {
		return nil, fmt.Errorf("invalid PARSE_MODE: %w", err)
	}

	validate, err := parseBool("VALIDATE_COORDINATES", false)
	if err != nil {
		return nil, err
	}

	runTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("RUN_TIMEOUT", "1m"))
	if err != nil || runTimeout <= 0 {
		return nil, errors.New("invalid RUN_TIMEOUT")
	}

	tracingEnabled, err := parseBool("TRACING_ENABLED", false)
	if err != nil {
		return nil, err
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = sharedcfg.ParseBrokers(raw)
	}

	cfg := &Config{
		Sensor1Path: sharedcfg.EnvOrDefault("SENSOR1_PATH", "data/SensorData1.csv"),
		Sensor2Path: sharedcfg.EnvOrDefault("SENSOR2_PATH", "data/SensorData2.json"),
		OutputPath:  sharedcfg.EnvOrDefault("OUTPUT_PATH", "genuine_detections.csv"),

		SensorAccuracyMeters: accuracy,
		EarthRadiusMeters:    radius,
		ParseMode:            mode,
		ValidateCoordinates:  validate,

		LogLevel:   sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:  sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		RunTimeout: runTimeout,

		MetricsTextfile:      os.Getenv("METRICS_TEXTFILE"),
		KafkaBrokers:         brokers,
		KafkaDetectionsTopic: sharedcfg.EnvOrDefault("KAFKA_DETECTIONS_TOPIC", "genuine-detections"),
		ArchiveSQLitePath:    os.Getenv("ARCHIVE_SQLITE_PATH"),

		TracingEnabled:  tracingEnabled,
		TracingExporter: strings.ToLower(sharedcfg.EnvOrDefault("TRACING_EXPORTER", "stdout")),
		OTLPEndpoint:    sharedcfg.EnvOrDefault("OTLP_ENDPOINT", "localhost:4317"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that may also be overridden after Load, such as
// the file paths taken from command-line flags.
func (c *Config) Validate() error {
	if c.Sensor1Path == "" {
		return errors.New("SENSOR1_PATH is required")
	}
	if c.Sensor2Path == "" {
		return errors.New("SENSOR2_PATH is required")
	}
	if c.OutputPath == "" {
		return errors.New("OUTPUT_PATH is required")
	}
	if c.KafkaEnabled() && c.KafkaDetectionsTopic == "" {
		return errors.New("KAFKA_DETECTIONS_TOPIC is required when KAFKA_BROKERS is set")
	}
	switch c.TracingExporter {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("invalid TRACING_EXPORTER %q", c.TracingExporter)
	}
	return nil
}

func parsePositiveFloat(key, def string) (float64, error) {
	v, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, def), 64)
	if err != nil || !(v > 0) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s: must be a positive number", key)
	}
	return v, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
