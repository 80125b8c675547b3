package observability

const (
	// DefaultNamespace prefixes every metric name this package registers.
	DefaultNamespace = "inkforge"

	// DefaultMetricsPath is the default HTTP path for the metrics endpoint.
	DefaultMetricsPath = "/metrics"
)
