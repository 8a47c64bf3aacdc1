package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Process
	// ========================================================================
	KeyRole     = "role"      // supervisor or worker
	KeyPID      = "pid"       // OS process id
	KeyWorker   = "worker"    // Background worker name (pg_web)
	KeyWorkerID = "worker_id" // Unique id of one worker incarnation
	KeyState    = "state"     // Lifecycle state
	KeyExitCode = "exit_code" // Process exit code
	KeySignal   = "signal"    // OS signal name

	// ========================================================================
	// HTTP
	// ========================================================================
	KeyRequestID = "request_id"
	KeyMethod    = "method"
	KeyPath      = "path"
	KeyStatus    = "status"
	KeyBytes     = "bytes"
	KeyClientIP  = "client_ip"
	KeyAddress   = "address"
	KeyPort      = "port"

	// ========================================================================
	// Data store
	// ========================================================================
	KeyQuery    = "query"
	KeyRows     = "rows"
	KeyDatabase = "database"

	// ========================================================================
	// Configuration
	// ========================================================================
	KeyParameter = "parameter"
	KeyValue     = "value"
	KeyFile      = "file"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeySeverity   = "severity"
)

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Path returns a slog.Attr for the request target
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Port returns a slog.Attr for a TCP port
func Port(p int) slog.Attr {
	return slog.Int(KeyPort, p)
}

// Query returns a slog.Attr for an SQL statement
func Query(sql string) slog.Attr {
	return slog.String(KeyQuery, sql)
}

// State returns a slog.Attr for a lifecycle state
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// ExitCode returns a slog.Attr for a process exit code
func ExitCode(code int) slog.Attr {
	return slog.Int(KeyExitCode, code)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Elapsed returns a duration_ms attr measured from start
func Elapsed(start time.Time) slog.Attr {
	return DurationMs(Duration(start))
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
