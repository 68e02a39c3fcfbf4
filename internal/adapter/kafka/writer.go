package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/sensor-correlator/internal/config"
	"github.com/couchcryptid/sensor-correlator/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes detections to a Kafka topic, one message per detection.
// It implements pipeline.DetectionSink.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured detections topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaDetectionsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

func (w *Writer) Name() string { return "kafka" }

// Write serializes every detection of the report and publishes them in a
// single WriteMessages call. The hash balancer keys on the sensor 1 id, so
// all detections of one reading land on the same partition in report order.
func (w *Writer) Write(ctx context.Context, report domain.Report) error {
	if len(report.Detections) == 0 {
		w.logger.Debug("no detections to publish")
		return nil
	}
	msgs := make([]kafkago.Message, len(report.Detections))
	for i := range report.Detections {
		msg, err := serializeToMessage(report.Detections[i], report)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish detections: %w", err)
	}
	w.logger.Info("detections published", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// DetectionMessage is the JSON value of a published detection.
type DetectionMessage struct {
	Sensor1ID       string  `json:"sensor1_id"`
	Sensor2ID       string  `json:"sensor2_id"`
	DistanceMeters  float64 `json:"distance_m"`
	ThresholdMeters float64 `json:"threshold_m"`
}

// serializeToMessage marshals a Detection into a Kafka message.
func serializeToMessage(d domain.Detection, report domain.Report) (kafkago.Message, error) {
	data, err := json.Marshal(DetectionMessage{
		Sensor1ID:       d.SourceAID,
		Sensor2ID:       d.SourceBID,
		DistanceMeters:  d.DistanceMeters,
		ThresholdMeters: report.ThresholdMeters,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize detection: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(d.SourceAID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "generated_at", Value: []byte(report.GeneratedAt.Format(time.RFC3339))},
			{Key: "threshold_m", Value: []byte(strconv.FormatFloat(report.ThresholdMeters, 'f', -1, 64))},
		},
	}, nil
}
