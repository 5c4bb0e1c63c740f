package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jackmielke/agentdash"

// Tracer returns the AgentDash tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// CompletionTracer records completion service calls as spans and
// metrics. A nil tracer or metrics value disables that half.
type CompletionTracer struct {
	tracer  trace.Tracer
	metrics *Metrics
}

// NewCompletionTracer creates a CompletionTracer.
func NewCompletionTracer(tracer trace.Tracer, metrics *Metrics) *CompletionTracer {
	return &CompletionTracer{tracer: tracer, metrics: metrics}
}

// CompletionSpan is one in-flight completion call. Exactly one of
// Complete or RecordError ends it.
type CompletionSpan interface {
	Complete(inputTokens, outputTokens, toolCalls int, finishReason string)
	RecordError(err error)
}

type completionSpan struct {
	ctx     context.Context
	span    trace.Span
	metrics *Metrics
	model   string
	start   time.Time
}

// StartCompletion opens a span for one completion call.
func (t *CompletionTracer) StartCompletion(ctx context.Context, model string, iteration, toolCount int) (context.Context, CompletionSpan) {
	s := &completionSpan{metrics: t.metrics, model: model, start: time.Now()}
	if t.tracer != nil {
		ctx, s.span = t.tracer.Start(ctx, "completion",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("llm.model", model),
				attribute.Int("agent.iteration", iteration),
				attribute.Int("llm.tool_count", toolCount),
			),
		)
	}
	s.ctx = ctx
	return ctx, s
}

// Complete ends the span successfully.
func (s *completionSpan) Complete(inputTokens, outputTokens, toolCalls int, finishReason string) {
	if s.span != nil {
		s.span.SetAttributes(
			attribute.Int("llm.input_tokens", inputTokens),
			attribute.Int("llm.output_tokens", outputTokens),
			attribute.Int("llm.tool_calls", toolCalls),
			attribute.String("llm.finish_reason", finishReason),
		)
		s.span.SetStatus(codes.Ok, "")
		s.span.End()
	}
	if s.metrics != nil {
		model := attribute.String("model", s.model)
		s.metrics.CompletionDuration.Record(s.ctx, time.Since(s.start).Seconds(), metric.WithAttributes(model))
		s.metrics.CompletionRequests.Add(s.ctx, 1, metric.WithAttributes(model, attribute.String("status", "ok")))
		s.metrics.Tokens.Add(s.ctx, int64(inputTokens), metric.WithAttributes(model, attribute.String("direction", "input")))
		s.metrics.Tokens.Add(s.ctx, int64(outputTokens), metric.WithAttributes(model, attribute.String("direction", "output")))
	}
}

// RecordError ends the span with an error status.
func (s *completionSpan) RecordError(err error) {
	if s.span != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		s.span.End()
	}
	if s.metrics != nil {
		s.metrics.CompletionRequests.Add(s.ctx, 1, metric.WithAttributes(
			attribute.String("model", s.model), attribute.String("status", "error")))
	}
}

// NopSpan is a CompletionSpan that records nothing.
type NopSpan struct{}

func (NopSpan) Complete(int, int, int, string) {}
func (NopSpan) RecordError(error) {}
