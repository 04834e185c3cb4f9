package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "quarry"

// Metrics holds all quarry metric instruments.
type Metrics struct {
	RulesExecuted       metric.Int64Counter
	RulesFailed         metric.Int64Counter
	DeliveriesAttempted metric.Int64Counter
	DeliveriesFailed    metric.Int64Counter
	RuleDuration        metric.Float64Histogram
	DeliveryDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RulesExecuted, err = meter.Int64Counter("quarry.rules.executed",
		metric.WithDescription("Number of rule executions"))
	if err != nil {
		return nil, err
	}

	m.RulesFailed, err = meter.Int64Counter("quarry.rules.failed",
		metric.WithDescription("Number of failed rule executions"))
	if err != nil {
		return nil, err
	}

	m.DeliveriesAttempted, err = meter.Int64Counter("quarry.deliveries.attempted",
		metric.WithDescription("Number of webhook delivery attempts"))
	if err != nil {
		return nil, err
	}

	m.DeliveriesFailed, err = meter.Int64Counter("quarry.deliveries.failed",
		metric.WithDescription("Number of failed webhook delivery attempts"))
	if err != nil {
		return nil, err
	}

	m.RuleDuration, err = meter.Float64Histogram("quarry.rule.duration_seconds",
		metric.WithDescription("Rule execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.DeliveryDuration, err = meter.Float64Histogram("quarry.delivery.duration_seconds",
		metric.WithDescription("Webhook delivery duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
