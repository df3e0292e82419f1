package nakadi

import (
	"net/http"
	"net/http/httptrace"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingOptions configures the tracing middleware.
type TracingOptions struct {
	// Tracer used to create the client spans. If nil no spans are created
	// and the middleware is a plain pass-through.
	Tracer trace.Tracer
	// ComponentName is recorded on every span.
	ComponentName string
	// Verbose adds connection level events (connect, first byte, ...) to
	// the spans.
	Verbose bool
}

// NewTracingMiddleware creates a Middleware that traces all requests to
// Nakadi. Trace context is propagated to the broker via the globally
// configured propagator.
func NewTracingMiddleware(options *TracingOptions) Middleware {
	if options == nil {
		options = &TracingOptions{}
	}
	return func(transport *http.Transport) http.RoundTripper {
		return &TracingMiddleware{
			tr:            transport,
			tracer:        options.Tracer,
			componentName: options.ComponentName,
			verbose:       options.Verbose}
	}
}

// TracingMiddleware is a http.RoundTripper that creates one client span per
// request.
type TracingMiddleware struct {
	tr            *http.Transport
	tracer        trace.Tracer
	componentName string
	verbose       bool
}

func (t *TracingMiddleware) CloseIdleConnections() {
	t.tr.CloseIdleConnections()
}

// RoundTrip performs the request with tracing. The span follows the HTTP
// semantic conventions for client spans; the response status is recorded
// once the response arrived.
func (t *TracingMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.tracer == nil {
		return t.tr.RoundTrip(req)
	}

	ctx, span := t.tracer.Start(req.Context(), getOperationName(req.URL.Path, req.Method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.String()),
			attribute.String("component", t.componentName)))
	defer span.End()

	if t.verbose {
		ctx = httptrace.WithClientTrace(ctx, requestSpanTrace(span))
	}

	req = req.WithContext(ctx)
	propagator := otel.GetTextMapPropagator()
	propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	rsp, err := t.tr.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rsp, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", rsp.StatusCode))
	if rsp.StatusCode >= 400 {
		span.SetStatus(codes.Error, rsp.Status)
	}
	return rsp, nil
}

func requestSpanTrace(span trace.Span) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		ConnectStart: func(string, string) {
			span.AddEvent("connect")
		},
		GetConn: func(string) {
			span.AddEvent("get_conn")
		},
		WroteHeaders: func() {
			span.AddEvent("wrote_headers")
		},
		WroteRequest: func(wri httptrace.WroteRequestInfo) {
			if wri.Err != nil {
				span.AddEvent("wrote_request", trace.WithAttributes(attribute.String("error", wri.Err.Error())))
			} else {
				span.AddEvent("wrote_request")
			}
		},
		GotFirstResponseByte: func() {
			span.AddEvent("got_first_byte")
		},
	}
}

func getOperationName(reqPath, reqMethod string) string {
	operationName := strings.ToLower(reqMethod)
	switch {
	case strings.HasSuffix(reqPath, "/cursors"):
		operationName = operationName + "_cursors"
	case strings.HasSuffix(reqPath, "/stats"):
		operationName = operationName + "_stats"
	case strings.HasSuffix(reqPath, "/events"):
		operationName = operationName + "_event"
	case strings.Contains(reqPath, "subscriptions"):
		operationName = operationName + "_subscription"
	}

	return operationName
}
