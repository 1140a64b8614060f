package httpx

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "dqx0.com/go/minirest/httpx"

// headerCarrier adapts Header to propagation.TextMapCarrier so incoming
// traceparent/tracestate fields are picked up by the global propagator.
type headerCarrier Header

var _ propagation.TextMapCarrier = headerCarrier(nil)

func (c headerCarrier) Get(key string) string { return Header(c).Get(key) }

func (c headerCarrier) Set(key, value string) { Header(c).Set(key, value) }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// startSpan extracts the caller's trace context from r and starts a
// server span for it.
func (s *Server) startSpan(ctx context.Context, r *Request) (context.Context, trace.Span) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(r.Header))
	return s.tracer().Start(ctx, r.Method+" "+r.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.Path),
			attribute.String("network.protocol.version", protoVersion(r.Proto)),
			attribute.String("client.address", r.RemoteAddr),
			attribute.String("minirest.request_id", r.RequestID),
		),
	)
}

// endSpan records the outcome of a request on span and ends it.
func endSpan(span trace.Span, status int, route bool, err error) {
	span.SetAttributes(
		attribute.Int("http.response.status_code", status),
		attribute.Bool("minirest.route_matched", route),
	)
	if err != nil {
		span.RecordError(err)
	}
	if status >= 500 {
		span.SetStatus(codes.Error, strconv.Itoa(status))
	}
	span.End()
}

func (s *Server) tracer() trace.Tracer {
	if s.Tracer != nil {
		return s.Tracer
	}
	return otel.Tracer(tracerName)
}

func protoVersion(proto string) string {
	if len(proto) > len("HTTP/") {
		return proto[len("HTTP/"):]
	}
	return proto
}
