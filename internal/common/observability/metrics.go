package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"heart-risk-service/internal/common/logger"
)

// Observability owns the OpenTelemetry meter and tracer. Instruments are
// exported through the default Prometheus registry next to the promauto
// metrics; spans go to whatever processors were passed to New.
type Observability struct {
	meterProvider      *metric.MeterProvider
	meter              otelmetric.Meter
	predictionCounter  otelmetric.Int64Counter
	predictionDuration otelmetric.Float64Histogram

	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

// Option configures New.
type Option func(*options)

type options struct {
	spanProcessors []sdktrace.SpanProcessor
}

// WithSpanProcessor attaches a span processor (an exporter pipeline, or a
// recorder in tests).
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) { o.spanProcessors = append(o.spanProcessors, sp) }
}

func New(serviceName string, log logger.Logger, opts ...Option) *Observability {
	var cfg options
	for _, opt := range opts {
		opt(&cfg)
	}

	tpOpts := make([]sdktrace.TracerProviderOption, 0, len(cfg.spanProcessors))
	for _, sp := range cfg.spanProcessors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	o := &Observability{tracerProvider: tp, tracer: tp.Tracer(serviceName)}

	exporter, err := prometheus.New()
	if err != nil {
		log.Warn("Failed to create Prometheus exporter", map[string]interface{}{"error": err.Error()})
		return o
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	predictionCounter, err := meter.Int64Counter(
		"predictions.processed",
		otelmetric.WithDescription("Number of prediction requests processed"),
	)
	if err != nil {
		log.Warn("Failed to create counter", map[string]interface{}{"error": err.Error()})
	}

	predictionDuration, err := meter.Float64Histogram(
		"predictions.duration",
		otelmetric.WithDescription("Prediction request duration"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		log.Warn("Failed to create histogram", map[string]interface{}{"error": err.Error()})
	}

	o.meterProvider = provider
	o.meter = meter
	o.predictionCounter = predictionCounter
	o.predictionDuration = predictionDuration
	return o
}

// StartSpan starts a span under ctx. A nil Observability returns the span
// already in ctx, which is a no-op when there is none.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o == nil || o.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordPrediction counts one processed request. outcome is a verdict
// ("positive", "negative") or an error code.
func (o *Observability) RecordPrediction(ctx context.Context, transport, outcome string) {
	if o == nil || o.predictionCounter == nil {
		return
	}
	o.predictionCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("outcome", outcome),
	))
}

func (o *Observability) RecordPredictionDuration(ctx context.Context, duration time.Duration, transport string) {
	if o == nil || o.predictionDuration == nil {
		return
	}
	o.predictionDuration.Record(ctx, float64(duration.Microseconds())/1000.0, otelmetric.WithAttributes(
		attribute.String("transport", transport),
	))
}

func (o *Observability) Shutdown() {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
}
