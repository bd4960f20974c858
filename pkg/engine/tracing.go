package engine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const runtimeTracerName = "waveflow.engine"

const (
	spanExecutionRun = "execution.run"
)

type traceSpan = trace.Span

func runtimeTracer() trace.Tracer {
	return otel.Tracer(runtimeTracerName)
}
