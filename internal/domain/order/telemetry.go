package order

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the tracer and counters of the order service.
type Telemetry struct {
	tracer      trace.Tracer
	created     metric.Int64Counter
	rejected    metric.Int64Counter
	lowStock    metric.Int64Counter
	transitions metric.Int64Counter
}

// NewTelemetry creates the order service instruments.
func NewTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) (*Telemetry, error) {
	const name = "github.com/cartstream/storefront/internal/domain/order"
	meter := mp.Meter(name)

	t := &Telemetry{tracer: tp.Tracer(name)}
	var err error
	if t.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders committed")); err != nil {
		return nil, errors.Wrap(err, "orders.created")
	}
	if t.rejected, err = meter.Int64Counter("orders.rejected",
		metric.WithDescription("Order creations rolled back")); err != nil {
		return nil, errors.Wrap(err, "orders.rejected")
	}
	if t.lowStock, err = meter.Int64Counter("orders.low_stock_alerts",
		metric.WithDescription("Low stock alerts raised by order creation")); err != nil {
		return nil, errors.Wrap(err, "orders.low_stock_alerts")
	}
	if t.transitions, err = meter.Int64Counter("orders.status_transitions",
		metric.WithDescription("Applied order status transitions")); err != nil {
		return nil, errors.Wrap(err, "orders.status_transitions")
	}
	return t, nil
}
