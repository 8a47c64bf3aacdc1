// Package query runs short statements for request handlers. Each call is one
// statement in one transaction on the worker's single session; the
// transaction is always finished before the call returns.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marmos91/pgweb/internal/logger"
	"github.com/marmos91/pgweb/internal/telemetry"
)

// Session is the part of *pgx.Conn the executor uses.
type Session interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Close(ctx context.Context) error
}

// Fataler terminates the process after logging at FATAL severity.
// *host.Proc implements it.
type Fataler interface {
	Fatal(msg string, args ...any)
}

// QueryObserver receives one observation per executed statement.
type QueryObserver interface {
	ObserveQuery(d time.Duration, err error)
}

// Scalar is the first column of the single row a query returned.
type Scalar struct {
	Value any
}

// String renders the value as text.
func (s Scalar) String() string {
	switch v := s.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Executor runs scalar queries on one session, one at a time.
type Executor struct {
	session  Session
	fatal    Fataler
	activity *Activity
	observer QueryObserver
}

// Option configures an Executor.
type Option func(*Executor)

// WithObserver reports every statement to o.
func WithObserver(o QueryObserver) Option {
	return func(e *Executor) { e.observer = o }
}

// WithActivity shares a. By default each executor tracks its own.
func WithActivity(a *Activity) Option {
	return func(e *Executor) { e.activity = a }
}

// NewExecutor returns an executor on session. fatal is used by MustQuery.
func NewExecutor(session Session, fatal Fataler, opts ...Option) *Executor {
	e := &Executor{session: session, fatal: fatal}
	for _, opt := range opts {
		opt(e)
	}
	if e.activity == nil {
		e.activity = NewActivity()
	}
	return e
}

// Activity returns the activity tracker of the session.
func (e *Executor) Activity() *Activity { return e.activity }

// WithQuery executes sql in its own transaction and returns the first
// column of its only row. Extra columns are ignored. The transaction is
// committed on success and rolled back on every error path; the activity is
// back to idle when WithQuery returns.
func (e *Executor) WithQuery(ctx context.Context, sql string) (_ Scalar, err error) {
	ctx, span := telemetry.StartQuerySpan(ctx, sql)
	start := e.activity.begin(sql)
	defer func() {
		e.activity.end()
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
		if e.observer != nil {
			e.observer.ObserveQuery(time.Since(start), err)
		}
		logger.DebugCtx(ctx, "Query finished", logger.Query(sql), logger.Elapsed(start), logger.Err(err))
	}()

	tx, err := e.session.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Scalar{}, fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// The request context may already be done; the rollback must still
		// reach the server so the session is usable for the next request.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.WarnCtx(ctx, "Rollback failed", logger.Query(sql), logger.Err(rbErr))
		}
	}()

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return Scalar{}, fmt.Errorf("execute %q: %w", sql, err)
	}

	value, err := scanScalar(rows, sql)
	if err != nil {
		return Scalar{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Scalar{}, fmt.Errorf("commit: %w", err)
	}
	committed = true

	return Scalar{Value: value}, nil
}

// MustQuery is WithQuery under the fatal policy: any error logs at FATAL
// severity and terminates the process with status 1. The zero Scalar is
// only returned when the Fataler does not exit, as in tests.
func (e *Executor) MustQuery(ctx context.Context, sql string) Scalar {
	v, err := e.WithQuery(ctx, sql)
	if err == nil {
		return v
	}
	e.fatal.Fatal(fatalMessage(err), logger.Query(sql), logger.Err(err))
	return Scalar{}
}

// Close closes the session.
func (e *Executor) Close(ctx context.Context) error {
	return e.session.Close(ctx)
}

func scanScalar(rows pgx.Rows, sql string) (any, error) {
	defer rows.Close()

	var (
		value any
		n     int
	)
	for rows.Next() {
		n++
		if n > 1 {
			continue
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("decode result of %q: %w", sql, err)
		}
		if len(vals) > 0 {
			value = vals[0]
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execute %q: %w", sql, err)
	}

	if len(rows.FieldDescriptions()) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotRowReturning, sql)
	}
	if n != 1 {
		return nil, &RowCountError{Query: sql, Rows: n}
	}
	if value == nil {
		return nil, fmt.Errorf("%w: %q", ErrNullScalar, sql)
	}
	return value, nil
}
