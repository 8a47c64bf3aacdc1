package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys, following OpenTelemetry semantic conventions where one exists.
const (
	AttrClientIP = "client.address"

	AttrHTTPMethod = "http.request.method"
	AttrHTTPTarget = "url.path"
	AttrHTTPRoute  = "http.route"
	AttrHTTPStatus = "http.response.status_code"

	AttrDBSystem    = "db.system"
	AttrDBStatement = "db.query.text"
	AttrDBName      = "db.namespace"
	AttrDBRows      = "db.response.returned_rows"

	AttrRole        = "pgweb.role"
	AttrWorker      = "pgweb.worker"
	AttrWorkerState = "pgweb.state"
)

// ClientIP returns an attribute for the peer address (no port).
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// HTTPMethod returns an attribute for the request method.
func HTTPMethod(m string) attribute.KeyValue {
	return attribute.String(AttrHTTPMethod, m)
}

// HTTPTarget returns an attribute for the raw request target.
func HTTPTarget(p string) attribute.KeyValue {
	return attribute.String(AttrHTTPTarget, p)
}

// HTTPRoute returns an attribute for the matched route pattern.
func HTTPRoute(r string) attribute.KeyValue {
	return attribute.String(AttrHTTPRoute, r)
}

// HTTPStatus returns an attribute for the response status code.
func HTTPStatus(code int) attribute.KeyValue {
	return attribute.Int(AttrHTTPStatus, code)
}

// DBStatement returns an attribute for the SQL text.
func DBStatement(sql string) attribute.KeyValue {
	return attribute.String(AttrDBStatement, sql)
}

// DBName returns an attribute for the database name.
func DBName(name string) attribute.KeyValue {
	return attribute.String(AttrDBName, name)
}

// DBRows returns an attribute for the number of rows returned.
func DBRows(n int) attribute.KeyValue {
	return attribute.Int(AttrDBRows, n)
}

// WorkerState returns an attribute for a lifecycle state.
func WorkerState(s string) attribute.KeyValue {
	return attribute.String(AttrWorkerState, s)
}

// StartRequestSpan starts a server span for one HTTP request.
func StartRequestSpan(ctx context.Context, method, target string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		HTTPMethod(method),
		HTTPTarget(target),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "http.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(allAttrs...))
}

// StartQuerySpan starts a client span for one transactional statement.
func StartQuerySpan(ctx context.Context, sql string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		attribute.String(AttrDBSystem, "postgresql"),
		DBStatement(sql),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "db.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(allAttrs...))
}
