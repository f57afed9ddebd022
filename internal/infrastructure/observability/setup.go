package observability

import "context"

// Setup initializes logging, metrics and tracing. The returned function
// flushes the tracer on shutdown.
func Setup(serviceName string) func(context.Context) error {
	InitLogger()
	InitMetrics()
	return InitTracing(serviceName)
}
