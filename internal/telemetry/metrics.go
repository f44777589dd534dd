// Package telemetry exposes OpenTelemetry instruments for session tracking.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every zetacoach instrument.
const MeterName = "github.com/thebtf/zetacoach"

// Metrics groups the counters and histograms recorded by the state machine
// and the emitter. A nil *Metrics records nothing.
type Metrics struct {
	sessionsFinalized metric.Int64Counter
	placeholders      metric.Int64Counter
	truncated         metric.Int64Counter
	relayResults      metric.Int64Counter
	problemLatency    metric.Int64Histogram
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.sessionsFinalized, err = meter.Int64Counter("zetacoach.sessions.finalized",
		metric.WithDescription("Games finalized and handed to the emitter")); err != nil {
		return nil, err
	}
	if m.placeholders, err = meter.Int64Counter("zetacoach.problems.placeholders",
		metric.WithDescription("Problem records inferred from score jumps")); err != nil {
		return nil, err
	}
	if m.truncated, err = meter.Int64Counter("zetacoach.problems.truncated",
		metric.WithDescription("Over-detected problem records dropped at finalize")); err != nil {
		return nil, err
	}
	if m.relayResults, err = meter.Int64Counter("zetacoach.relay.submissions",
		metric.WithDescription("Relay submissions by outcome")); err != nil {
		return nil, err
	}
	if m.problemLatency, err = meter.Int64Histogram("zetacoach.problems.latency",
		metric.WithDescription("Observed time spent per problem"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Default creates instruments on the global meter provider. The global
// provider is a no-op until the host process installs one.
func Default() *Metrics {
	m, err := New(otel.Meter(MeterName))
	if err != nil {
		return nil
	}
	return m
}

// SessionFinalized counts one finalized game.
func (m *Metrics) SessionFinalized(ctx context.Context, gameKey string) {
	if m == nil {
		return
	}
	m.sessionsFinalized.Add(ctx, 1, metric.WithAttributes(attribute.String("game_key", gameKey)))
}

// PlaceholdersInferred counts synthetic records appended during reconciliation.
func (m *Metrics) PlaceholdersInferred(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.placeholders.Add(ctx, int64(n))
}

// RecordsTruncated counts records dropped by final reconciliation.
func (m *Metrics) RecordsTruncated(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.truncated.Add(ctx, int64(n))
}

// RelayResult counts one relay submission outcome.
func (m *Metrics) RelayResult(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.relayResults.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// ProblemLatency records the observed latency of one problem.
func (m *Metrics) ProblemLatency(ctx context.Context, latencyMs int64, op string) {
	if m == nil {
		return
	}
	m.problemLatency.Record(ctx, latencyMs, metric.WithAttributes(attribute.String("operation", op)))
}
