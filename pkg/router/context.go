package router

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/netip"
)

// RequestContext is the per-request view handed to route handlers: the
// request line, the peer, and the response sink. It lives for exactly one
// request.
type RequestContext struct {
	Method string

	// Path is the raw request target, query string included.
	Path string

	RemoteAddr netip.AddrPort

	// RequestID is assigned by the router before the handler runs.
	RequestID string

	ctx context.Context
	w   io.Writer
}

// NewRequestContext returns a context for one request. ctx scopes any work
// the handler does (queries, spans) and may carry a deadline.
func NewRequestContext(ctx context.Context, method, path string, remote netip.AddrPort) *RequestContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RequestContext{
		Method:     method,
		Path:       path,
		RemoteAddr: remote,
		ctx:        ctx,
	}
}

// Context returns the request-scoped context.
func (rc *RequestContext) Context() context.Context { return rc.ctx }

// ClientIP is the peer address without the port.
func (rc *RequestContext) ClientIP() string {
	if !rc.RemoteAddr.IsValid() {
		return ""
	}
	return rc.RemoteAddr.Addr().String()
}

// Write appends to the response body.
func (rc *RequestContext) Write(p []byte) (int, error) {
	if rc.w == nil {
		return 0, io.ErrClosedPipe
	}
	return rc.w.Write(p)
}

// WriteString appends s to the response body.
func (rc *RequestContext) WriteString(s string) (int, error) {
	return rc.Write([]byte(s))
}

type rcKey struct{}

func withRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, rcKey{}, rc)
}

func requestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(rcKey{}).(*RequestContext)
	return rc
}

// responseBuffer is the http.ResponseWriter the chi mux writes into. The
// event loop turns it into wire bytes once the handler returns.
type responseBuffer struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header)}
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}
