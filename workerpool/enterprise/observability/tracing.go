package observability

import (
	"context"
	"fmt"
	"time"
)

// Span is a single traced operation, e.g. one "pool.idle_wait" while a
// worker blocks on the work-available condition variable.
type Span struct {
	TraceID    string
	SpanID     string
	ParentID   string
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Attributes map[string]interface{}
	Events     []SpanEvent
	Status     SpanStatus
}

type SpanEvent struct {
	Name       string
	Timestamp  time.Time
	Attributes map[string]interface{}
}

type SpanStatus struct {
	Code    StatusCode
	Message string
}

type StatusCode int

const (
	StatusCodeUnset StatusCode = iota
	StatusCodeOK
	StatusCodeError
)

// Tracer is the distributed-tracing interface the pool depends on.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
	End(span Span)
}

type SpanOption func(*Span)

func WithAttributes(attrs map[string]interface{}) SpanOption {
	return func(s *Span) {
		if s.Attributes == nil {
			s.Attributes = make(map[string]interface{})
		}
		for k, v := range attrs {
			s.Attributes[k] = v
		}
	}
}

// SimpleTracer is a minimal tracer that hands finished spans to an
// exporter; it has no sampling or batching of its own.
type SimpleTracer struct {
	serviceName string
	exporter    SpanExporter
}

type SpanExporter interface {
	ExportSpan(span Span) error
}

func NewSimpleTracer(serviceName string, exporter SpanExporter) *SimpleTracer {
	return &SimpleTracer{
		serviceName: serviceName,
		exporter:    exporter,
	}
}

func (t *SimpleTracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	span := Span{
		TraceID:    generateTraceID(ctx),
		SpanID:     generateSpanID(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]interface{}),
		Events:     []SpanEvent{},
		Status: SpanStatus{
			Code: StatusCodeUnset,
		},
	}

	for _, opt := range opts {
		opt(&span)
	}
	span.Attributes["service.name"] = t.serviceName

	if parentSpan := SpanFromContext(ctx); parentSpan != nil {
		span.ParentID = parentSpan.SpanID
		span.TraceID = parentSpan.TraceID
	}

	ctx = ContextWithSpan(ctx, &span)
	return ctx, span
}

func (t *SimpleTracer) End(span Span) {
	span.EndTime = time.Now()
	if t.exporter != nil {
		if err := t.exporter.ExportSpan(span); err != nil {
			fmt.Printf("workerpool: failed to export span: %v\n", err)
		}
	}
}

func (s *Span) RecordError(err error) {
	s.Status.Code = StatusCodeError
	s.Status.Message = err.Error()
	s.AddEvent("error", map[string]interface{}{
		"error.message": err.Error(),
	})
}

func (s *Span) SetStatus(code StatusCode, message string) {
	s.Status.Code = code
	s.Status.Message = message
}

func (s *Span) AddEvent(name string, attrs map[string]interface{}) {
	s.Events = append(s.Events, SpanEvent{
		Name:       name,
		Timestamp:  time.Now(),
		Attributes: attrs,
	})
}

type spanContextKey struct{}

func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanContextKey{}).(*Span)
	return span
}

// NoOpTracer is the default when Config.Telemetry is nil.
type NoOpTracer struct{}

func (n *NoOpTracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	return ctx, Span{}
}

func (n *NoOpTracer) End(span Span) {}

// InMemorySpanExporter collects spans for tests.
type InMemorySpanExporter struct {
	spans []Span
}

func (e *InMemorySpanExporter) ExportSpan(span Span) error {
	e.spans = append(e.spans, span)
	return nil
}

func (e *InMemorySpanExporter) GetSpans() []Span {
	return e.spans
}

var (
	traceIDCounter uint64
	spanIDCounter  uint64
)

func generateTraceID(ctx context.Context) string {
	if span := SpanFromContext(ctx); span != nil {
		return span.TraceID
	}
	return fmt.Sprintf("trace-%d", time.Now().UnixNano())
}

func generateSpanID() string {
	return fmt.Sprintf("span-%d", time.Now().UnixNano())
}
