package telemetry

// Process roles reported as the pgweb.role resource attribute and the role
// profiling tag.
const (
	RoleSupervisor = "supervisor"
	RoleWorker     = "worker"
)

// Config holds OpenTelemetry configuration for one pgweb process.
type Config struct {
	// Enabled indicates whether tracing is enabled
	Enabled bool

	// ServiceName is the service.name resource attribute. The supervisor and
	// its workers share it and are told apart by Role.
	ServiceName string

	// ServiceVersion is the build version of the binary
	ServiceVersion string

	// Role is RoleSupervisor or RoleWorker
	Role string

	// Worker is the registered worker name (e.g. "pg_web"). Empty for the
	// supervisor.
	Worker string

	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	Endpoint string

	// Insecure disables TLS towards the collector
	Insecure bool

	// SampleRate is the trace sampling rate (0.0 to 1.0). Every sampled
	// request carries its /date query as a child span.
	SampleRate float64
}

// DefaultConfig returns tracing disabled with a local collector endpoint.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "pgweb",
		ServiceVersion: "dev",
		Role:           RoleSupervisor,
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
