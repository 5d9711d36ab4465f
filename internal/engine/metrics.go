package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"stepgate/backend/pkg/models"
)

const meterName = "stepgate/backend/internal/engine"

type engineMetrics struct {
	stepsResolved  metric.Int64Counter
	gateVerdicts   metric.Int64Counter
	controlActions metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter, logger Logger) *engineMetrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m, err := buildMetrics(meter)
	if err != nil {
		logger.Warn("Failed to create engine metrics, recording disabled", "error", err)
		m, _ = buildMetrics(noop.NewMeterProvider().Meter(meterName))
	}
	return m
}

func buildMetrics(meter metric.Meter) (*engineMetrics, error) {
	steps, err := meter.Int64Counter("stepgate.steps.resolved",
		metric.WithDescription("Steps that reached a terminal status"))
	if err != nil {
		return nil, err
	}
	verdicts, err := meter.Int64Counter("stepgate.gate.verdicts",
		metric.WithDescription("Safety gate verdicts"))
	if err != nil {
		return nil, err
	}
	actions, err := meter.Int64Counter("stepgate.control.actions",
		metric.WithDescription("Dispatched control actions"))
	if err != nil {
		return nil, err
	}
	return &engineMetrics{stepsResolved: steps, gateVerdicts: verdicts, controlActions: actions}, nil
}

func (m *engineMetrics) stepResolved(ctx context.Context, status models.StepStatus) {
	m.stepsResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
}

func (m *engineMetrics) gateVerdict(ctx context.Context, proceed bool) {
	outcome := "blocked"
	if proceed {
		outcome = "proceed"
	}
	m.gateVerdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *engineMetrics) controlAction(ctx context.Context, action models.ControlAction) {
	m.controlActions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action.String())))
}
