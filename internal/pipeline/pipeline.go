package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/couchcryptid/sensor-correlator/internal/domain"
	"github.com/couchcryptid/sensor-correlator/internal/observability"
)

// ReadingSource loads the full reading set of one sensor.
type ReadingSource interface {
	Sensor() string
	Load(ctx context.Context) (domain.ReadingSet, error)
}

// DetectionSink receives the report of a completed correlation.
type DetectionSink interface {
	Name() string
	Write(ctx context.Context, report domain.Report) error
}

// Pipeline orchestrates one extract-correlate-load run.
type Pipeline struct {
	sourceA    ReadingSource
	sourceB    ReadingSource
	correlator *domain.Correlator
	threshold  float64
	sinks      []DetectionSink
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock
	tracer     trace.Tracer
}

// New creates a Pipeline. thresholdMeters is computed once by the caller
// and applied to every pair; sinks are written in the given order.
func New(
	sourceA, sourceB ReadingSource,
	correlator *domain.Correlator,
	thresholdMeters float64,
	sinks []DetectionSink,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Pipeline {
	return &Pipeline{
		sourceA:    sourceA,
		sourceB:    sourceB,
		correlator: correlator,
		threshold:  thresholdMeters,
		sinks:      sinks,
		logger:     logger,
		metrics:    metrics,
		clock:      clockwork.NewRealClock(),
		tracer:     otel.Tracer(observability.TracerName),
	}
}

// WithClock replaces the clock used to time the correlation.
func (p *Pipeline) WithClock(c clockwork.Clock) *Pipeline {
	p.clock = c
	return p
}

// Run loads both sensors, correlates them, and hands the report to every
// sink. Input errors abort the run before any sink is touched. Every sink is
// attempted even if an earlier one fails; their errors are joined.
func (p *Pipeline) Run(ctx context.Context) (domain.Report, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	p.logger.Info("correlation run started", "threshold_m", p.threshold, "radius_m", p.correlator.RadiusMeters())

	setA, err := p.extract(ctx, p.sourceA)
	if err != nil {
		return failRun(span, err)
	}
	setB, err := p.extract(ctx, p.sourceB)
	if err != nil {
		return failRun(span, err)
	}

	report := p.correlate(ctx, setA, setB)

	if err := p.load(ctx, report); err != nil {
		return report, failSpan(span, err)
	}

	p.metrics.LastRunTimestamp.Set(float64(report.GeneratedAt.Unix()))
	span.SetAttributes(attribute.Int("detections", len(report.Detections)))
	p.logger.Info("correlation run complete",
		"sensor1_readings", report.SensorACount,
		"sensor2_readings", report.SensorBCount,
		"detections", len(report.Detections),
	)
	return report, nil
}

func (p *Pipeline) extract(ctx context.Context, src ReadingSource) (domain.ReadingSet, error) {
	ctx, span := p.tracer.Start(ctx, "extract."+src.Sensor())
	defer span.End()

	set, err := src.Load(ctx)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("load %s: %w", src.Sensor(), err))
	}

	p.metrics.ReadingsLoaded.WithLabelValues(src.Sensor()).Add(float64(len(set)))
	span.SetAttributes(attribute.Int("readings", len(set)))
	p.logger.Info("readings loaded", "sensor", src.Sensor(), "count", len(set))
	return set, nil
}

func (p *Pipeline) correlate(ctx context.Context, setA, setB domain.ReadingSet) domain.Report {
	_, span := p.tracer.Start(ctx, "correlate")
	defer span.End()

	start := p.clock.Now()
	detections := p.correlator.Correlate(setA, setB, p.threshold)
	p.metrics.CorrelationDuration.Observe(p.clock.Since(start).Seconds())

	report := domain.NewReport(setA, setB, p.threshold, detections)
	p.metrics.Comparisons.Add(float64(report.Comparisons))
	p.metrics.Detections.Add(float64(len(detections)))

	span.SetAttributes(
		attribute.Int("comparisons", report.Comparisons),
		attribute.Int("detections", len(detections)),
		attribute.Float64("threshold_m", p.threshold),
	)
	p.logger.Debug("correlation finished", "comparisons", report.Comparisons, "detections", len(detections))
	return report
}

func (p *Pipeline) load(ctx context.Context, report domain.Report) error {
	var errs []error
	for _, sink := range p.sinks {
		if err := p.writeSink(ctx, sink, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) writeSink(ctx context.Context, sink DetectionSink, report domain.Report) error {
	ctx, span := p.tracer.Start(ctx, "load."+sink.Name())
	defer span.End()

	if err := sink.Write(ctx, report); err != nil {
		p.metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
		p.logger.Error("sink write failed", "sink", sink.Name(), "error", err)
		return failSpan(span, fmt.Errorf("write %s: %w", sink.Name(), err))
	}
	return nil
}

// SkipReporter returns a ReadOptions.OnSkip callback that logs and counts
// records dropped in lenient mode.
func SkipReporter(logger *slog.Logger, metrics *observability.Metrics) func(*domain.RecordError) {
	return func(e *domain.RecordError) {
		logger.Warn("malformed record skipped", "sensor", e.Sensor, "record", e.Record, "error", e.Err)
		metrics.RecordsSkipped.WithLabelValues(e.Sensor).Inc()
	}
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func failRun(span trace.Span, err error) (domain.Report, error) {
	return domain.Report{}, failSpan(span, err)
}
