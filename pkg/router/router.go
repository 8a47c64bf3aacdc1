// Package router maps request lines to handlers. The route set is fixed at
// construction, paths match exactly, and anything unmatched is answered by a
// permissive default handler with status 200.
package router

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/pgweb/internal/logger"
	"github.com/marmos91/pgweb/internal/telemetry"
	"github.com/marmos91/pgweb/pkg/eventloop"
)

// HandlerFunc serves one request by writing its body to rc.
type HandlerFunc func(rc *RequestContext)

// Route binds a method and an exact path to a handler.
type Route struct {
	Method  string
	Path    string
	Handler HandlerFunc
}

// RequestObserver receives one observation per served request. route is the
// matched path, or "default" for the fallback handler.
type RequestObserver interface {
	ObserveRequest(route string, status int, d time.Duration)
}

// DefaultRoute labels requests served by the fallback handler.
const DefaultRoute = "default"

type routeKey struct {
	method string
	path   string
}

// Router dispatches requests through a chi mux.
type Router struct {
	routes   map[routeKey]Route
	fallback HandlerFunc
	observer RequestObserver
	mux      *chi.Mux
}

// Option configures a Router.
type Option func(*Router)

// WithObserver reports every request to o.
func WithObserver(o RequestObserver) Option {
	return func(rt *Router) { rt.observer = o }
}

// WithDefaultHandler replaces the fallback for unmatched requests.
func WithDefaultHandler(h HandlerFunc) Option {
	return func(rt *Router) { rt.fallback = h }
}

// New builds a router for routes. A later route with the same method and
// path replaces an earlier one. An empty Method means GET.
func New(routes []Route, opts ...Option) *Router {
	rt := &Router{
		routes:   make(map[routeKey]Route, len(routes)),
		fallback: BadRequest,
	}
	for _, opt := range opts {
		opt(rt)
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(rt.instrument)

	for _, r := range routes {
		if r.Method == "" {
			r.Method = http.MethodGet
		}
		rt.routes[routeKey{r.Method, r.Path}] = r
		mux.Method(r.Method, r.Path, adapt(r.Handler))
	}

	// Unknown paths and known paths with another method both fall back.
	mux.NotFound(adapt(rt.fallback))
	mux.MethodNotAllowed(adapt(rt.fallback))

	rt.mux = mux
	return rt
}

// Lookup returns the route registered for method and path.
func (rt *Router) Lookup(method, path string) (Route, bool) {
	r, ok := rt.routes[routeKey{method, path}]
	return r, ok
}

// Dispatch returns the handler for method and path, or the default handler.
func (rt *Router) Dispatch(method, path string) HandlerFunc {
	if r, ok := rt.Lookup(method, path); ok {
		return r.Handler
	}
	return rt.fallback
}

// ServeRequest runs rc through the middleware chain and the matched handler
// and returns the buffered response.
func (rt *Router) ServeRequest(rc *RequestContext) *eventloop.Response {
	buf := newResponseBuffer()

	req := &http.Request{
		Method:     rc.Method,
		URL:        &url.URL{Path: rc.Path},
		RequestURI: rc.Path,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		RemoteAddr: rc.RemoteAddr.String(),
	}
	req = req.WithContext(withRequestContext(rc.Context(), rc))

	rt.mux.ServeHTTP(buf, req)

	status := buf.status
	if status == 0 {
		status = http.StatusOK
	}
	return &eventloop.Response{
		Status:      status,
		ContentType: buf.header.Get("Content-Type"),
		Body:        buf.body.Bytes(),
	}
}

// Handle adapts the router to the event loop.
func (rt *Router) Handle(ctx context.Context, req *eventloop.Request) *eventloop.Response {
	return rt.ServeRequest(NewRequestContext(ctx, req.Method, req.Target, req.RemoteAddr))
}

// adapt exposes a HandlerFunc to chi. The RequestContext travels in the
// request context; its writer is pointed at the (possibly wrapped)
// ResponseWriter so middleware sees the bytes.
func adapt(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := requestContextFrom(r.Context())
		if rc == nil {
			rc = NewRequestContext(r.Context(), r.Method, r.URL.Path, parseRemote(r.RemoteAddr))
		}
		rc.ctx = r.Context()
		rc.w = w
		h(rc)
	}
}

// instrument assigns the request id, opens the request span, logs the
// completed request and reports it to the observer.
func (rt *Router) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := requestContextFrom(r.Context())
		if rc == nil {
			next.ServeHTTP(w, r)
			return
		}
		rc.RequestID = middleware.GetReqID(r.Context())
		clientIP := rc.ClientIP()

		ctx, span := telemetry.StartRequestSpan(r.Context(), rc.Method, rc.Path, telemetry.ClientIP(clientIP))
		defer span.End()

		lc := logger.NewLogContext(clientIP).
			WithRequest(rc.RequestID, rc.Method, rc.Path).
			WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
		ctx = logger.WithContext(ctx, lc)

		logger.DebugCtx(ctx, "Web request started")

		ww := middleware.NewWrapResponseWriter(w, 1)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := DefaultRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		span.SetAttributes(telemetry.HTTPRoute(route), telemetry.HTTPStatus(status))

		logger.InfoCtx(ctx, "Web request completed",
			"route", route,
			logger.KeyStatus, status,
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDurationMs, lc.DurationMs(),
		)

		if rt.observer != nil {
			rt.observer.ObserveRequest(route, status, time.Since(lc.StartTime))
		}
	})
}
