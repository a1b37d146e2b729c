package client

import (
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Sentinel-Gate/dashgate/internal/client"

var (
	resultOK     = attribute.String("result", "ok")
	resultFailed = attribute.String("result", "failed")
)

type counters struct {
	signIns    metric.Int64Counter
	refreshes  metric.Int64Counter
	recoveries metric.Int64Counter
}

// newCounters creates the runtime counters. An instrument that cannot be
// created is replaced by a no-op one.
func newCounters(mp metric.MeterProvider, logger *slog.Logger) counters {
	meter := mp.Meter(meterName)
	fallback := noop.NewMeterProvider().Meter(meterName)

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Warn("failed to create counter", "name", name, "error", err)
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	return counters{
		signIns:    counter("dashgate.client.sign_ins", "Successful password sign-ins"),
		refreshes:  counter("dashgate.client.session_refreshes", "Access token refreshes by result"),
		recoveries: counter("dashgate.client.recoveries", "Auth state resets after repeated failures"),
	}
}
