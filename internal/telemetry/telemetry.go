// Package telemetry installs the OpenTelemetry SDK providers that the
// ledger's spans and counters report through.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/roach88/logline/internal/config"
)

// Shutdown flushes pending telemetry and releases the exporters.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Providers holds SDK providers built from a TelemetryConfig.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
	closer io.Closer
}

// New builds providers exporting to w, or to cfg.Output when it is set.
// It returns nil providers when no exporter is configured.
func New(cfg config.TelemetryConfig, w io.Writer) (*Providers, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if cfg.Exporter != config.ExporterStdout {
		return nil, fmt.Errorf("telemetry: unsupported exporter %q", cfg.Exporter)
	}

	p := &Providers{}
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("telemetry: open %s: %w", cfg.Output, err)
		}
		w, p.closer = f, f
	}

	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		p.close()
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		p.close()
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	p.Tracer = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	p.Meter = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(cfg.Interval))),
		sdkmetric.WithResource(res),
	)
	return p, nil
}

// Shutdown flushes both providers, then closes the output file.
func (p *Providers) Shutdown(ctx context.Context) error {
	err := errors.Join(p.Tracer.Shutdown(ctx), p.Meter.Shutdown(ctx))
	return errors.Join(err, p.close())
}

func (p *Providers) close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// Init builds providers from cfg and installs them globally. The returned
// Shutdown restores the previous global providers after flushing.
func Init(cfg config.TelemetryConfig, w io.Writer) (Shutdown, error) {
	p, err := New(cfg, w)
	if err != nil || p == nil {
		return noopShutdown, err
	}

	prevTracer, prevMeter := otel.GetTracerProvider(), otel.GetMeterProvider()
	otel.SetTracerProvider(p.Tracer)
	otel.SetMeterProvider(p.Meter)

	return func(ctx context.Context) error {
		otel.SetTracerProvider(prevTracer)
		otel.SetMeterProvider(prevMeter)
		return p.Shutdown(ctx)
	}, nil
}
