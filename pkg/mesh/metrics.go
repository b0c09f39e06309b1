package mesh

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentationName OpenTelemetry meter/tracer 名称
const instrumentationName = "github.com/lwmacct/251217-go-pkg-mesh/pkg/mesh"

// meshMetrics mesh 指标
type meshMetrics struct {
	allocations   metric.Int64Counter
	allocFailures metric.Int64Counter
	spawns        metric.Int64Counter
	actorFailures metric.Int64Counter
	calls         metric.Int64Counter
	callErrors    metric.Int64Counter
	callLatency   metric.Float64Histogram
}

func newMeshMetrics(mp metric.MeterProvider) (*meshMetrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &meshMetrics{}
	var err error

	if m.allocations, err = meter.Int64Counter("mesh.allocations",
		metric.WithDescription("Process meshes allocated")); err != nil {
		return nil, fmt.Errorf("create allocations counter: %w", err)
	}
	if m.allocFailures, err = meter.Int64Counter("mesh.allocation_failures",
		metric.WithDescription("Allocations or spawns torn down after a failure")); err != nil {
		return nil, fmt.Errorf("create allocation failures counter: %w", err)
	}
	if m.spawns, err = meter.Int64Counter("mesh.spawns",
		metric.WithDescription("Actor meshes spawned")); err != nil {
		return nil, fmt.Errorf("create spawns counter: %w", err)
	}
	if m.actorFailures, err = meter.Int64Counter("mesh.actor_failures",
		metric.WithDescription("Handler failures reported by procs")); err != nil {
		return nil, fmt.Errorf("create actor failures counter: %w", err)
	}
	if m.calls, err = meter.Int64Counter("mesh.calls",
		metric.WithDescription("Targets invoked by mesh calls")); err != nil {
		return nil, fmt.Errorf("create calls counter: %w", err)
	}
	if m.callErrors, err = meter.Int64Counter("mesh.call_errors",
		metric.WithDescription("Targets that failed in mesh calls")); err != nil {
		return nil, fmt.Errorf("create call errors counter: %w", err)
	}
	if m.callLatency, err = meter.Float64Histogram("mesh.call_latency",
		metric.WithDescription("Per-target call latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create call latency histogram: %w", err)
	}
	return m, nil
}

func (m *meshMetrics) recordCall(ctx context.Context, actorName, kind string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("mesh.actor", actorName),
		attribute.String("mesh.kind", kind),
	)
	m.calls.Add(ctx, 1, attrs)
	m.callLatency.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	if err != nil {
		m.callErrors.Add(ctx, 1, attrs)
	}
}
