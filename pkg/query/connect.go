package query

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marmos91/pgweb/internal/logger"
	"github.com/marmos91/pgweb/pkg/config"
)

// Connect opens the worker's session on the configured database. The
// session reports applicationName to the server.
func Connect(ctx context.Context, db config.DatabaseConfig, applicationName string) (*pgx.Conn, error) {
	cc, err := connConfig(db, applicationName)
	if err != nil {
		return nil, err
	}

	conn, err := pgx.ConnectConfig(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("connect to database %q on %s:%d: %w", db.Database, db.Host, db.Port, err)
	}

	logger.Info("Connected to database",
		logger.KeyDatabase, db.Database, logger.KeyAddress, fmt.Sprintf("%s:%d", db.Host, db.Port),
		"application_name", applicationName)
	return conn, nil
}

func connConfig(db config.DatabaseConfig, applicationName string) (*pgx.ConnConfig, error) {
	cc, err := pgx.ParseConfig(db.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if applicationName != "" {
		cc.RuntimeParams["application_name"] = applicationName
	}
	if db.ConnectTimeout > 0 {
		cc.ConnectTimeout = db.ConnectTimeout
	}
	cc.Tracer = queryLogTracer{}
	return cc, nil
}

// RetryOptions controls WaitForDatabase.
type RetryOptions struct {
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after each failed attempt.
	BackoffFactor float64

	// JitterFactor adds up to +/- that fraction of the delay.
	JitterFactor float64
}

// DefaultRetryOptions returns the options used by the supervisor.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
	}
}

// PingFunc checks that the database accepts connections.
type PingFunc func(ctx context.Context) error

// Pinger returns a PingFunc that opens a short-lived connection and pings it.
func Pinger(db config.DatabaseConfig, applicationName string) PingFunc {
	return func(ctx context.Context) error {
		conn, err := Connect(ctx, db, applicationName)
		if err != nil {
			return err
		}
		defer conn.Close(context.WithoutCancel(ctx))
		return conn.Ping(ctx)
	}
}

// WaitForDatabase calls ping until it succeeds, backing off between
// attempts, and gives up when ctx is done.
func WaitForDatabase(ctx context.Context, ping PingFunc, opts RetryOptions) error {
	if opts.InitialDelay <= 0 {
		opts = DefaultRetryOptions()
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	var delay time.Duration
	for attempt := 1; ; attempt++ {
		err := ping(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("Database is accepting connections", logger.Attempt(attempt))
			}
			return nil
		}

		if attempt == 1 {
			delay = opts.InitialDelay
		} else {
			delay = time.Duration(float64(delay) * opts.BackoffFactor)
			if opts.MaxDelay > 0 && delay > opts.MaxDelay {
				delay = opts.MaxDelay
			}
		}
		wait := delay
		if opts.JitterFactor > 0 {
			jitter := float64(delay) * opts.JitterFactor
			wait = time.Duration(float64(delay) + (rnd.Float64()*jitter*2 - jitter))
		}

		logger.Warn("Database not ready, retrying", logger.Attempt(attempt), "retry_in", wait.String(), logger.Err(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("database not ready after %d attempts: %w", attempt, err)
		case <-timer.C:
		}
	}
}
