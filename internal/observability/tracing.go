package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer produces a navigable trace for every agent turn. Each turn gets a
// fresh trace id; all spans of the turn nest under the turn root. Completed
// spans are exported synchronously into one JSON file per trace id, so a
// reader always observes every span that has finished.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	exporter *FileExporter
}

// SpanOptions configures span creation behavior.
type SpanOptions struct {
	// Kind specifies the span kind (client, server, internal)
	Kind trace.SpanKind

	// Attributes are key-value pairs attached to the span
	Attributes []attribute.KeyValue

	// Links attach non-parent references to spans in other traces
	Links []trace.Link
}

// NewTracer creates a tracer exporting to one file per trace under dir.
// Returns the tracer and a shutdown function that must be called on exit.
// If dir is empty, a no-op tracer is returned that records nothing.
func NewTracer(dir string, logger *Logger) (*Tracer, func(context.Context) error) {
	if dir == "" {
		provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return &Tracer{
			provider: provider,
			tracer:   provider.Tracer("verdict"),
		}, provider.Shutdown
	}

	exporter := NewFileExporter(dir, logger)
	provider := sdktrace.NewTracerProvider(
		// Synchronous export at span end keeps trace files append-safe and
		// readable mid-turn.
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)

	tracer := &Tracer{
		provider: provider,
		tracer:   provider.Tracer("verdict"),
		exporter: exporter,
	}
	return tracer, provider.Shutdown
}

// StartTurn begins a new trace for one agent turn. The root span carries
// session.id and links to up to three prior turn roots of the same
// conversation so cross-turn navigation survives the per-turn trace split.
// The returned trace id is appended to the conversation by the caller.
func (t *Tracer) StartTurn(ctx context.Context, name, conversationID string, priorTraceIDs []string) (context.Context, trace.Span, string) {
	opts := []trace.SpanStartOption{
		trace.WithNewRoot(),
		trace.WithAttributes(attribute.String("session.id", conversationID)),
	}

	linked := priorTraceIDs
	if len(linked) > 3 {
		linked = linked[len(linked)-3:]
	}
	for _, traceID := range linked {
		if link, ok := t.RootLink(traceID); ok {
			opts = append(opts, trace.WithLinks(link))
		}
	}

	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, span, span.SpanContext().TraceID().String()
}

// Start creates a child span under the span carried by ctx.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOptions) (context.Context, trace.Span) {
	var options []trace.SpanStartOption
	if len(opts) > 0 {
		opt := opts[0]
		if opt.Kind != 0 {
			options = append(options, trace.WithSpanKind(opt.Kind))
		}
		if len(opt.Attributes) > 0 {
			options = append(options, trace.WithAttributes(opt.Attributes...))
		}
		for _, link := range opt.Links {
			options = append(options, trace.WithLinks(link))
		}
	}
	return t.tracer.Start(ctx, name, options...)
}

// RootLink resolves a prior trace id to a link pointing at its root span.
// Traces written by earlier processes are resolved from their trace files.
func (t *Tracer) RootLink(traceID string) (trace.Link, bool) {
	if t.exporter == nil {
		return trace.Link{}, false
	}
	rootSpanID, ok := t.exporter.RootSpanID(traceID)
	if !ok {
		return trace.Link{}, false
	}

	tid, err := trace.TraceIDFromHex(traceID)
	if err != nil {
		return trace.Link{}, false
	}
	sid, err := trace.SpanIDFromHex(rootSpanID)
	if err != nil {
		return trace.Link{}, false
	}
	return trace.Link{
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: tid,
			SpanID:  sid,
		}),
	}, true
}

// RecordError records err on the span and marks the span status as error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets alternating key/value attributes on a span.
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attributeFromValue(key, keyvals[i+1]))
	}
	span.SetAttributes(attrs...)
}

// TraceDir returns the export directory, empty for a no-op tracer.
func (t *Tracer) TraceDir() string {
	if t.exporter == nil {
		return ""
	}
	return t.exporter.dir
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// GetTraceID returns the trace id from the context, empty if none is active.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// attributeFromValue creates an attribute.KeyValue from a Go value.
func attributeFromValue(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
