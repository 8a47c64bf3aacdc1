package router

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"sync/atomic"

	"github.com/marmos91/pgweb/pkg/query"
)

// IndexPage is the body served for "/".
const IndexPage = "<html><body><pre>" +
	"<a href='/date'>date</a><br>" +
	"<a href='/count'>count</a><br>" +
	"<a href='/ip'>ip</a>" +
	"</pre></body></html>"

// DateQuery asks the database for its current time in its default text
// rendering.
const DateQuery = "SELECT now()::text"

// Querier runs a single-row, single-column query. Malformed results
// terminate the process, so callers never see an error.
type Querier interface {
	MustQuery(ctx context.Context, sql string) query.Scalar
}

// Counter is the per-process request counter behind /count.
type Counter struct {
	n atomic.Int64
}

// Next increments the counter and returns the new value; the first call
// returns 1.
func (c *Counter) Next() int64 { return c.n.Add(1) }

// Value returns the current count.
func (c *Counter) Value() int64 { return c.n.Load() }

// State is the mutable state shared by the default handlers.
type State struct {
	Counter Counter
}

// DefaultRoutes returns the built-in route set.
func DefaultRoutes(state *State, q Querier) []Route {
	return []Route{
		{Method: "GET", Path: "/", Handler: Index},
		{Method: "GET", Path: "/date", Handler: Date(q)},
		{Method: "GET", Path: "/count", Handler: Count(state)},
		{Method: "GET", Path: "/ip", Handler: IP},
	}
}

// Index serves the link list.
func Index(rc *RequestContext) {
	_, _ = rc.WriteString(IndexPage)
}

// Date serves the database time.
func Date(q Querier) HandlerFunc {
	return func(rc *RequestContext) {
		v := q.MustQuery(rc.Context(), DateQuery)
		_, _ = rc.WriteString(v.String())
	}
}

// Count serves the next counter value.
func Count(state *State) HandlerFunc {
	return func(rc *RequestContext) {
		_, _ = rc.WriteString(strconv.FormatInt(state.Counter.Next(), 10))
	}
}

// IP serves the peer address.
func IP(rc *RequestContext) {
	_, _ = rc.WriteString(rc.ClientIP())
}

// BadRequest is the default handler. It still answers 200.
func BadRequest(rc *RequestContext) {
	_, _ = fmt.Fprintf(rc, "bad request '%s'", rc.Path)
}

func parseRemote(s string) netip.AddrPort {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}
	}
	return ap
}
