package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all AgentDash metrics.
const meterName = "github.com/jackmielke/agentdash"

// Metrics holds the metric instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// CompletionDuration tracks completion service latency by model.
	CompletionDuration metric.Float64Histogram

	// CompletionRequests counts completion calls by model and status.
	CompletionRequests metric.Int64Counter

	// Tokens counts completion tokens by model and direction (input, output).
	Tokens metric.Int64Counter

	// ToolCalls counts tool invocations by tool, kind and status.
	ToolCalls metric.Int64Counter

	// ToolDuration tracks tool execution latency by tool and kind.
	ToolDuration metric.Float64Histogram

	// Runs counts finished agent runs by finish reason.
	Runs metric.Int64Counter

	// Iterations records completion calls per run.
	Iterations metric.Int64Histogram

	// HTTPRequestDuration tracks API request latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CompletionDuration, err = m.Float64Histogram("agentdash.completion.duration",
		metric.WithDescription("Latency of completion service calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CompletionRequests, err = m.Int64Counter("agentdash.completion.requests",
		metric.WithDescription("Completion service calls by model and status."),
	); err != nil {
		return nil, err
	}
	if met.Tokens, err = m.Int64Counter("agentdash.completion.tokens",
		metric.WithDescription("Completion tokens by model and direction."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("agentdash.tool.calls",
		metric.WithDescription("Tool invocations by tool, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("agentdash.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Runs, err = m.Int64Counter("agentdash.agent.runs",
		metric.WithDescription("Finished agent runs by finish reason."),
	); err != nil {
		return nil, err
	}
	if met.Iterations, err = m.Int64Histogram("agentdash.agent.iterations",
		metric.WithDescription("Completion calls per agent run."),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 10),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("agentdash.http.request.duration",
		metric.WithDescription("API request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordToolCall records one tool invocation. kind is "builtin" or "custom".
func (m *Metrics) RecordToolCall(ctx context.Context, tool, kind, status string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("kind", kind),
	)
	m.ToolCalls.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("status", status)))
	m.ToolDuration.Record(ctx, seconds, attrs)
}

// RecordRun records a finished agent run.
func (m *Metrics) RecordRun(ctx context.Context, finishReason string, iterations int) {
	if m == nil {
		return
	}
	m.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("finish_reason", finishReason)))
	m.Iterations.Record(ctx, int64(iterations))
}
