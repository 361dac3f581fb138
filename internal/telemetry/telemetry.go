// Package telemetry sets up the OpenTelemetry tracer and meter providers of a run and
// summarizes the collected metrics at shutdown.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-synth/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/book-expert/voice-synth"
	traceFilePerms      = 0o600
	logFmtMetricLine    = "metric %s"
)

// Providers owns the tracer and meter providers of one run.
type Providers struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	reader         *sdkmetric.ManualReader
	traceFile      *os.File
	log            *logger.Logger
}

// Setup creates the providers. Spans are written as JSON to cfg.TraceFile when it is
// set; metrics are kept in memory until Snapshot or Shutdown.
func Setup(cfg config.TelemetryConfig, log *logger.Logger) (*Providers, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	)

	traceOptions := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	var traceFile *os.File

	if cfg.TraceFile != "" {
		file, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, traceFilePerms)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace file: %w", err)
		}

		exporter, err := stdouttrace.New(stdouttrace.WithWriter(file))
		if err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}

		traceFile = file
		traceOptions = append(traceOptions, sdktrace.WithBatcher(exporter))
	}

	reader := sdkmetric.NewManualReader()

	providers := &Providers{
		tracerProvider: sdktrace.NewTracerProvider(traceOptions...),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)),
		reader:         reader,
		traceFile:      traceFile,
		log:            log,
	}

	if log != nil {
		log.Info("Telemetry initialized (trace file: %q)", cfg.TraceFile)
	}

	return providers, nil
}

// Tracer returns the run's tracer.
func (p *Providers) Tracer() trace.Tracer {
	return p.tracerProvider.Tracer(instrumentationName)
}

// Meter returns the run's meter.
func (p *Providers) Meter() metric.Meter {
	return p.meterProvider.Meter(instrumentationName)
}

// Snapshot collects the current metrics as sorted, human-readable lines.
func (p *Providers) Snapshot(ctx context.Context) ([]string, error) {
	var collected metricdata.ResourceMetrics

	err := p.reader.Collect(ctx, &collected)
	if err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}

	var lines []string

	for _, scope := range collected.ScopeMetrics {
		for _, instrument := range scope.Metrics {
			lines = append(lines, describe(instrument)...)
		}
	}

	sort.Strings(lines)

	return lines, nil
}

// Shutdown logs the metric summary, flushes spans and closes the trace file.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error

	lines, err := p.Snapshot(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	if p.log != nil {
		for _, line := range lines {
			p.log.Info(logFmtMetricLine, line)
		}
	}

	err = p.tracerProvider.Shutdown(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down tracer provider: %w", err))
	}

	err = p.meterProvider.Shutdown(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down meter provider: %w", err))
	}

	if p.traceFile != nil {
		err = p.traceFile.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to close trace file: %w", err))
		}
	}

	return errors.Join(errs...)
}

func describe(instrument metricdata.Metrics) []string {
	var lines []string

	switch data := instrument.Data.(type) {
	case metricdata.Sum[int64]:
		for _, point := range data.DataPoints {
			lines = append(lines, fmt.Sprintf("%s{%s} %d", instrument.Name, encode(point.Attributes), point.Value))
		}
	case metricdata.Sum[float64]:
		for _, point := range data.DataPoints {
			lines = append(lines, fmt.Sprintf("%s{%s} %g", instrument.Name, encode(point.Attributes), point.Value))
		}
	case metricdata.Histogram[float64]:
		for _, point := range data.DataPoints {
			lines = append(lines, fmt.Sprintf("%s{%s} count=%d sum=%.3f",
				instrument.Name, encode(point.Attributes), point.Count, point.Sum))
		}
	}

	return lines
}

func encode(attributes attribute.Set) string {
	return attributes.Encoded(attribute.DefaultEncoder())
}
