package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleTracerStartExportsOnEnd(t *testing.T) {
	exporter := &InMemorySpanExporter{}
	tracer := NewSimpleTracer("workerpool", exporter)

	ctx, span := tracer.Start(context.Background(), "pool.schedule")
	assert.Equal(t, "pool.schedule", span.Name)
	assert.NotEmpty(t, span.TraceID)
	assert.NotEmpty(t, span.SpanID)
	assert.Equal(t, "workerpool", span.Attributes["service.name"])

	tracer.End(span)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.False(t, spans[0].EndTime.IsZero())
	_ = ctx
}

func TestSimpleTracerChildSpanInheritsTraceID(t *testing.T) {
	exporter := &InMemorySpanExporter{}
	tracer := NewSimpleTracer("workerpool", exporter)

	ctx, parent := tracer.Start(context.Background(), "parent")
	childCtx, child := tracer.Start(ctx, "child")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	_ = childCtx
}

func TestWithAttributesMergesIntoSpan(t *testing.T) {
	tracer := NewSimpleTracer("workerpool", nil)
	_, span := tracer.Start(context.Background(), "op", WithAttributes(map[string]interface{}{"tenant": "acme"}))
	assert.Equal(t, "acme", span.Attributes["tenant"])
}

func TestSpanRecordErrorSetsStatus(t *testing.T) {
	span := &Span{}
	span.RecordError(errors.New("boom"))

	assert.Equal(t, StatusCodeError, span.Status.Code)
	assert.Equal(t, "boom", span.Status.Message)
	require.Len(t, span.Events, 1)
	assert.Equal(t, "error", span.Events[0].Name)
}

func TestSpanSetStatus(t *testing.T) {
	span := &Span{}
	span.SetStatus(StatusCodeOK, "done")
	assert.Equal(t, StatusCodeOK, span.Status.Code)
	assert.Equal(t, "done", span.Status.Message)
}

func TestSpanAddEventAppends(t *testing.T) {
	span := &Span{}
	span.AddEvent("retry", map[string]interface{}{"attempt": 2})
	require.Len(t, span.Events, 1)
	assert.Equal(t, "retry", span.Events[0].Name)
	assert.Equal(t, 2, span.Events[0].Attributes["attempt"])
}

func TestContextWithSpanRoundTrips(t *testing.T) {
	span := &Span{SpanID: "s1"}
	ctx := ContextWithSpan(context.Background(), span)
	assert.Same(t, span, SpanFromContext(ctx))
}

func TestSpanFromContextWithoutSpanReturnsNil(t *testing.T) {
	assert.Nil(t, SpanFromContext(context.Background()))
}

func TestNoOpTracerNeverPanics(t *testing.T) {
	var tracer Tracer = &NoOpTracer{}
	ctx, span := tracer.Start(context.Background(), "op")
	assert.NotPanics(t, func() { tracer.End(span) })
	_ = ctx
}
