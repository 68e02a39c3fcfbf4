package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/couchcryptid/sensor-correlator/internal/domain"
	"github.com/couchcryptid/sensor-correlator/internal/observability"
	"github.com/couchcryptid/sensor-correlator/internal/pipeline"
)

// --- mocks ---

type mockSource struct {
	sensor   string
	readings domain.ReadingSet
	err      error
	calls    int
}

func (m *mockSource) Sensor() string { return m.sensor }

func (m *mockSource) Load(ctx context.Context) (domain.ReadingSet, error) {
	m.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.readings, nil
}

type mockSink struct {
	name    string
	err     error
	reports []domain.Report
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Write(_ context.Context, report domain.Report) error {
	m.reports = append(m.reports, report)
	return m.err
}

var testTime = time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC)

func setFakeClock(t *testing.T) *clockwork.FakeClock {
	t.Helper()
	fc := clockwork.NewFakeClockAt(testTime)
	domain.SetClock(fc)
	t.Cleanup(func() { domain.SetClock(nil) })
	return fc
}

func sensorA() *mockSource {
	return &mockSource{sensor: "sensor1", readings: domain.ReadingSet{
		{ID: "A1", Latitude: 37.7749, Longitude: -122.4194},
		{ID: "A2", Latitude: 40.7128, Longitude: -74.0060},
	}}
}

func sensorB() *mockSource {
	return &mockSource{sensor: "sensor2", readings: domain.ReadingSet{
		{ID: "B1", Latitude: 37.7750, Longitude: -122.4195},
		{ID: "B2", Latitude: 51.5074, Longitude: -0.1278},
		{ID: "B3", Latitude: 40.7129, Longitude: -74.0061},
	}}
}

func newPipeline(t *testing.T, a, b pipeline.ReadingSource, metrics *observability.Metrics, sinks ...pipeline.DetectionSink) *pipeline.Pipeline {
	t.Helper()
	fc := setFakeClock(t)
	return pipeline.New(a, b, domain.NewCorrelator(domain.EarthRadiusMeters), 200, sinks, slog.Default(), metrics).
		WithClock(fc)
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	csvSink := &mockSink{name: "csv"}
	console := &mockSink{name: "console"}
	metrics := observability.NewMetricsForTesting()

	p := newPipeline(t, sensorA(), sensorB(), metrics, csvSink, console)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	want := []domain.Detection{
		{SourceAID: "A1", SourceBID: "B1"},
		{SourceAID: "A2", SourceBID: "B3"},
	}
	if diff := cmp.Diff(want, report.Detections, cmpopts.IgnoreFields(domain.Detection{}, "DistanceMeters")); diff != "" {
		t.Errorf("detections mismatch (-want +got):\n%s", diff)
	}
	for _, d := range report.Detections {
		assert.LessOrEqual(t, d.DistanceMeters, 200.0)
	}

	assert.InDelta(t, 200.0, report.ThresholdMeters, 0)
	assert.Equal(t, 2, report.SensorACount)
	assert.Equal(t, 3, report.SensorBCount)
	assert.Equal(t, 6, report.Comparisons)
	assert.Equal(t, testTime, report.GeneratedAt)

	require.Len(t, csvSink.reports, 1)
	require.Len(t, console.reports, 1)
	assert.Equal(t, report, csvSink.reports[0])
	assert.Equal(t, report, console.reports[0])

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.ReadingsLoaded.WithLabelValues("sensor1")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.ReadingsLoaded.WithLabelValues("sensor2")), 0)
	assert.InDelta(t, 6, testutil.ToFloat64(metrics.Comparisons), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.Detections), 0)
	assert.InDelta(t, float64(testTime.Unix()), testutil.ToFloat64(metrics.LastRunTimestamp), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.CorrelationDuration))
}

func TestPipeline_Run_NoDetections(t *testing.T) {
	sink := &mockSink{name: "csv"}
	a := &mockSource{sensor: "sensor1", readings: domain.ReadingSet{{ID: "A1", Latitude: 0, Longitude: 0}}}
	b := &mockSource{sensor: "sensor2", readings: domain.ReadingSet{{ID: "B1", Latitude: 10, Longitude: 10}}}

	report, err := newPipeline(t, a, b, observability.NewMetricsForTesting(), sink).Run(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, report.Detections)
	assert.Empty(t, report.Detections)
	require.Len(t, sink.reports, 1, "sinks still run so the output file has its header")
}

func TestPipeline_Run_EmptyInputs(t *testing.T) {
	sink := &mockSink{name: "csv"}
	a := &mockSource{sensor: "sensor1"}
	b := sensorB()

	report, err := newPipeline(t, a, b, observability.NewMetricsForTesting(), sink).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Detections)
	assert.Zero(t, report.Comparisons)
	require.Len(t, sink.reports, 1)
}

func TestPipeline_Run_SourceErrorSkipsSinks(t *testing.T) {
	tests := []struct {
		name    string
		a, b    *mockSource
		wantMsg string
	}{
		{
			name:    "sensor1 fails",
			a:       &mockSource{sensor: "sensor1", err: errors.New("no such file")},
			b:       sensorB(),
			wantMsg: "load sensor1: no such file",
		},
		{
			name:    "sensor2 fails",
			a:       sensorA(),
			b:       &mockSource{sensor: "sensor2", err: domain.ErrInvalidCoordinate},
			wantMsg: "load sensor2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &mockSink{name: "csv"}
			metrics := observability.NewMetricsForTesting()

			report, err := newPipeline(t, tt.a, tt.b, metrics, sink).Run(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Empty(t, sink.reports)
			assert.Equal(t, domain.Report{}, report)
			assert.Zero(t, testutil.ToFloat64(metrics.LastRunTimestamp))
		})
	}
}

func TestPipeline_Run_SourceErrorIsWrapped(t *testing.T) {
	b := &mockSource{sensor: "sensor2", err: &domain.RecordError{Sensor: "sensor2", Record: 3, Err: domain.ErrMissingID}}

	_, err := newPipeline(t, sensorA(), b, observability.NewMetricsForTesting()).Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrMissingID)

	var recErr *domain.RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, 3, recErr.Record)
}

func TestPipeline_Run_SinkErrorStillRunsOtherSinks(t *testing.T) {
	broken := &mockSink{name: "kafka", err: errors.New("broker down")}
	after := &mockSink{name: "sqlite"}
	metrics := observability.NewMetricsForTesting()

	report, err := newPipeline(t, sensorA(), sensorB(), metrics, broken, after).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write kafka: broker down")

	assert.Len(t, report.Detections, 2, "report is returned alongside the sink error")
	assert.Len(t, after.reports, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("kafka")), 0)
	assert.Zero(t, testutil.ToFloat64(metrics.LastRunTimestamp))
}

func TestPipeline_Run_ContextCancelled(t *testing.T) {
	a := sensorA()
	b := sensorB()
	sink := &mockSink{name: "csv"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t, a, b, observability.NewMetricsForTesting(), sink).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.calls)
	assert.Empty(t, sink.reports)
}

func TestPipeline_Run_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	broken := &mockSink{name: "kafka", err: errors.New("broker down")}
	_, err := newPipeline(t, sensorA(), sensorB(), observability.NewMetricsForTesting(), &mockSink{name: "csv"}, broken).
		Run(context.Background())
	require.Error(t, err)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range recorder.Ended() {
		byName[s.Name()] = s
	}
	for _, name := range []string{"pipeline.Run", "extract.sensor1", "extract.sensor2", "correlate", "load.csv", "load.kafka"} {
		assert.Contains(t, byName, name)
	}

	root := byName["pipeline.Run"]
	require.NotNil(t, root)
	assert.Equal(t, codes.Error, root.Status().Code)
	assert.Equal(t, codes.Error, byName["load.kafka"].Status().Code)
	assert.Equal(t, codes.Unset, byName["load.csv"].Status().Code)
	assert.Equal(t, root.SpanContext().SpanID(), byName["correlate"].Parent().SpanID())
}

func TestSkipReporter(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	onSkip := pipeline.SkipReporter(slog.Default(), metrics)

	onSkip(&domain.RecordError{Sensor: "sensor2", Record: 1, Err: domain.ErrMissingID})
	onSkip(&domain.RecordError{Sensor: "sensor2", Record: 4, Err: domain.ErrInvalidCoordinate})

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RecordsSkipped.WithLabelValues("sensor2")), 0)
	assert.Zero(t, testutil.ToFloat64(metrics.RecordsSkipped.WithLabelValues("sensor1")))
}
