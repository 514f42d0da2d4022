package factory

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/internal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const meterName = "github.com/lychee-technology/ria"

// InitTelemetry installs global tracer and meter providers for cfg.Exporter
// and routes operation telemetry to the meter. The returned func flushes and
// stops both providers. With the none exporter nothing is installed.
func InitTelemetry(ctx context.Context, cfg ria.TelemetryConfig) (func(context.Context) error, error) {
	if cfg.Exporter == "" || cfg.Exporter == ria.TelemetryExporterNone {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	spanExporter, metricExporter, err := newExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(spanExporter), sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	emitter, err := NewMeterEmitter(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	internal.RegisterTelemetryEmitter(emitter)

	return func(ctx context.Context) error {
		internal.RegisterTelemetryEmitter(nil)
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newExporters(ctx context.Context, cfg ria.TelemetryConfig) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	if cfg.Exporter == ria.TelemetryExporterOTLP {
		host, insecure := otlpEndpoint(cfg.Endpoint)
		traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(host)}
		metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
		if insecure {
			traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		}
		spans, err := otlptracehttp.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating span exporter: %w", err)
		}
		metrics, err := otlpmetrichttp.New(ctx, metricOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		return spans, metrics, nil
	}

	spans, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("creating span exporter: %w", err)
	}
	metrics, err := stdoutmetric.New()
	if err != nil {
		return nil, nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	return spans, metrics, nil
}

// otlpEndpoint splits "http://collector:4318" into its host:port and whether
// TLS is off.
func otlpEndpoint(endpoint string) (string, bool) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint, true
	}
	return u.Host, u.Scheme != "https"
}

// NewMeterEmitter creates the instruments for operation telemetry on meter
// and returns an emitter that records into them.
func NewMeterEmitter(meter metric.Meter) (internal.TelemetryEmitter, error) {
	completed, err := meter.Int64Counter(internal.MetricOperationCompleted,
		metric.WithDescription("Completed load, submit and invoke operations"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", internal.MetricOperationCompleted, err)
	}
	latency, err := meter.Int64Histogram(internal.MetricOperationLatency,
		metric.WithDescription("Operation latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", internal.MetricOperationLatency, err)
	}
	entries, err := meter.Int64Histogram(internal.MetricSubmitEntries,
		metric.WithDescription("Entries per processed change set"),
		metric.WithUnit("{entry}"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", internal.MetricSubmitEntries, err)
	}

	return func(ctx context.Context, name string, labels map[string]string, value any) {
		n, ok := value.(int64)
		if !ok {
			return
		}
		attrs := metric.WithAttributes(labelAttributes(labels)...)
		switch name {
		case internal.MetricOperationCompleted:
			completed.Add(ctx, n, attrs)
		case internal.MetricOperationLatency:
			latency.Record(ctx, n, attrs)
		case internal.MetricSubmitEntries:
			entries.Record(ctx, n, attrs)
		}
	}, nil
}

func labelAttributes(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for _, k := range internal.SortedKeys(labels) {
		attrs = append(attrs, attribute.String(k, labels[k]))
	}
	return attrs
}
