package ledger

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/roach88/logline/internal/ledger"

// Counter names.
const (
	MetricAppends       = "ledger_appends_total"
	MetricAppendErrors  = "ledger_append_errors_total"
	MetricIndexFailures = "ledger_index_failures_total"
)

type instruments struct {
	tracer        trace.Tracer
	appends       metric.Int64Counter
	appendErrors  metric.Int64Counter
	indexFailures metric.Int64Counter
}

// newInstruments binds to tp and mp, falling back to the global providers.
// A counter that fails to register is logged and stays nil.
func newInstruments(tp trace.TracerProvider, mp metric.MeterProvider) instruments {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	in := instruments{tracer: tp.Tracer(instrumentationName)}
	in.appends = counter(meter, MetricAppends, "Events durably appended")
	in.appendErrors = counter(meter, MetricAppendErrors, "Appends that failed, by error code")
	in.indexFailures = counter(meter, MetricIndexFailures, "Synchronous index upserts that failed")
	return in
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		slog.Warn("register counter", "name", name, "error", err)
		return nil
	}
	return c
}
