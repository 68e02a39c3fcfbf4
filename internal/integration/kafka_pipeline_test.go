//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/sensor-correlator/internal/adapter/csvfile"
	"github.com/couchcryptid/sensor-correlator/internal/adapter/jsonfile"
	"github.com/couchcryptid/sensor-correlator/internal/adapter/kafka"
	"github.com/couchcryptid/sensor-correlator/internal/adapter/sqlite"
	"github.com/couchcryptid/sensor-correlator/internal/config"
	"github.com/couchcryptid/sensor-correlator/internal/domain"
	"github.com/couchcryptid/sensor-correlator/internal/observability"
	"github.com/couchcryptid/sensor-correlator/internal/pipeline"
)

const testDetectionsTopic = "test-genuine-detections"

const sensor1CSV = `id,latitude,longitude
A1,37.7749,-122.4194
A2,40.7128,-74.0060
A3,-33.8688,151.2093
`

const sensor2JSON = `[
  {"id": "B1", "latitude": 37.7750, "longitude": -122.4195},
  {"id": "B2", "latitude": 51.5074, "longitude": -0.1278},
  {"id": "B3", "latitude": 40.7129, "longitude": -74.0061},
  {"id": "B4", "latitude": "37.7748", "longitude": "-122.4193"}
]`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("sensor-correlator-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func writeInputs(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "SensorData1.csv")
	jsonPath := filepath.Join(dir, "SensorData2.json")
	require.NoError(t, os.WriteFile(csvPath, []byte(sensor1CSV), 0o600))
	require.NoError(t, os.WriteFile(jsonPath, []byte(sensor2JSON), 0o600))
	return csvPath, jsonPath
}

// TestPipelineEndToEnd runs the whole correlation against real Kafka with
// every sink attached and checks each boundary agrees on the detections.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testDetectionsTopic)

	csvPath, jsonPath := writeInputs(t)
	outPath := filepath.Join(t.TempDir(), "genuine_detections.csv")

	cfg := &config.Config{
		KafkaBrokers:         []string{broker},
		KafkaDetectionsTopic: testDetectionsTopic,
	}

	opts := domain.ReadOptions{Mode: domain.ParseStrict}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	archive, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "runs.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })

	p := pipeline.New(
		csvfile.NewReader(csvPath, "sensor1", opts, discardLogger()),
		jsonfile.NewReader(jsonPath, "sensor2", opts, discardLogger()),
		domain.NewCorrelator(domain.EarthRadiusMeters),
		domain.ThresholdForAccuracy(100),
		[]pipeline.DetectionSink{csvfile.NewWriter(outPath), writer, archive},
		discardLogger(),
		observability.NewMetricsForTesting(),
	)

	report, err := p.Run(ctx)
	require.NoError(t, err)

	wantPairs := [][2]string{{"A1", "B1"}, {"A1", "B4"}, {"A2", "B3"}}
	require.Equal(t, wantPairs, pairsOf(report.Detections))

	// CSV output.
	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	fromCSV, err := csvfile.DecodeDetections(f)
	require.NoError(t, err)
	assert.Equal(t, wantPairs, pairsOf(fromCSV))

	// SQLite archive.
	runID, err := archive.LatestRunID(ctx)
	require.NoError(t, err)
	fromArchive, err := archive.RunDetections(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, report.Detections, fromArchive)

	// Kafka topic, in report order on the single partition.
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testDetectionsTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	var fromKafka [][2]string
	for range wantPairs {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read from detections topic")

		var dm kafka.DetectionMessage
		require.NoError(t, json.Unmarshal(msg.Value, &dm))
		assert.Equal(t, dm.Sensor1ID, string(msg.Key))
		assert.InDelta(t, 200.0, dm.ThresholdMeters, 0)
		assert.LessOrEqual(t, dm.DistanceMeters, 200.0)
		fromKafka = append(fromKafka, [2]string{dm.Sensor1ID, dm.Sensor2ID})
	}
	assert.Equal(t, wantPairs, fromKafka)
}

// TestKafkaWriter_UnreachableBroker verifies a publish failure surfaces as a
// run error while the file sink still completes.
func TestKafkaWriter_UnreachableBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	csvPath, jsonPath := writeInputs(t)
	outPath := filepath.Join(t.TempDir(), "genuine_detections.csv")

	cfg := &config.Config{KafkaBrokers: []string{"127.0.0.1:1"}, KafkaDetectionsTopic: testDetectionsTopic}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	opts := domain.ReadOptions{Mode: domain.ParseStrict}
	p := pipeline.New(
		csvfile.NewReader(csvPath, "sensor1", opts, discardLogger()),
		jsonfile.NewReader(jsonPath, "sensor2", opts, discardLogger()),
		domain.NewCorrelator(domain.EarthRadiusMeters),
		200,
		[]pipeline.DetectionSink{csvfile.NewWriter(outPath), writer},
		discardLogger(),
		observability.NewMetricsForTesting(),
	)

	_, err := p.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write kafka")
	assert.FileExists(t, outPath)
}

func pairsOf(ds []domain.Detection) [][2]string {
	out := make([][2]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, [2]string{d.SourceAID, d.SourceBID})
	}
	return out
}
