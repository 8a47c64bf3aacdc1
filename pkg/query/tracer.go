package query

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marmos91/pgweb/internal/logger"
)

// queryLogTracer logs every statement pgx sends at debug level.
type queryLogTracer struct{}

type traceStartKey struct{}

type traceStart struct {
	sql   string
	start time.Time
}

func (queryLogTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceStartKey{}, traceStart{sql: data.SQL, start: time.Now()})
}

func (queryLogTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	ts, ok := ctx.Value(traceStartKey{}).(traceStart)
	if !ok {
		return
	}
	logger.DebugCtx(ctx, "Statement sent",
		logger.Query(ts.sql),
		"command_tag", data.CommandTag.String(),
		logger.Elapsed(ts.start),
		logger.Err(data.Err))
}
