package gwtelemetry

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewDevTracerProvider returns an in-process TracerProvider with no
// exporter wired (spans are created and ended but never shipped
// anywhere). It is for tests and local development that want
// NewOtelSink's attribute-recording behavior exercised without standing
// up the OTLP collector the teacher's pkg/observability/mlflow talks to
// — that exporter is explicitly out of scope here (DESIGN.md).
func NewDevTracerProvider() *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider()
}
