package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricToolRequests = "seedfang.tool.requests"
	metricToolDuration = "seedfang.tool.duration.seconds"
	metricToolInflight = "seedfang.tool.inflight"

	attrTool   = "tool"
	attrStatus = "status"
)

// toolDurationBoundaries covers 1ms to 60s tool invocations.
var toolDurationBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60}

// ToolMetrics records request rate, errors, and duration for MCP tool
// calls. A nil *ToolMetrics is valid and records nothing.
type ToolMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// NewToolMetrics creates tool instruments from the given meter.
func NewToolMetrics(mt metric.Meter) (*ToolMetrics, error) {
	b := newMetricBuilder(mt)

	tm := &ToolMetrics{
		requests: b.counter(metricToolRequests, "Total MCP tool invocations", "{request}"),
		duration: b.histogram(metricToolDuration, "MCP tool invocation duration in seconds", "s", toolDurationBoundaries...),
		inflight: b.upDownCounter(metricToolInflight, "MCP tool invocations currently running", "{request}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return tm, nil
}

// RecordRequest records one completed tool invocation.
func (tm *ToolMetrics) RecordRequest(ctx context.Context, tool, status string, duration time.Duration) {
	if tm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrTool, tool),
		attribute.String(attrStatus, status),
	)

	tm.requests.Add(ctx, 1, attrs)
	tm.duration.Record(ctx, duration.Seconds(), attrs)
}

// TrackInflight increments the in-flight gauge and returns a function to
// decrement it when the invocation finishes.
func (tm *ToolMetrics) TrackInflight(ctx context.Context, tool string) func() {
	if tm == nil {
		return func() {}
	}

	attrs := metric.WithAttributes(attribute.String(attrTool, tool))
	tm.inflight.Add(ctx, 1, attrs)

	return func() {
		tm.inflight.Add(ctx, -1, attrs)
	}
}
