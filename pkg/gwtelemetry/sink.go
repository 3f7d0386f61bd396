// Package gwtelemetry adapts the teacher's pkg/telemetry (OpenTelemetry)
// into the SpanSink port spec.md §6 names: the router and adapter record
// attempt spans, mark the open-inference-chain boundary, and attach
// usage — without depending on OpenTelemetry types directly in their own
// signatures.
package gwtelemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/inferencegw/core/pkg/gwtypes"
	"github.com/inferencegw/core/pkg/telemetry"
)

// Sink is the SpanSink port (spec.md §6): a handle the router hands to
// each provider attempt so it can attach attributes, mark itself as the
// start of an inference chain (the span a caller's trace should treat
// as the logical "inference" boundary, as opposed to the individual
// failover attempts beneath it), and record token usage once known.
type Sink interface {
	// StartAttempt opens a child span for one provider attempt and
	// returns a context carrying it plus a handle to end/annotate it.
	StartAttempt(ctx context.Context, model, provider string) (context.Context, Attempt)
}

// Attempt is the per-provider-attempt span handle.
type Attempt interface {
	SetAttribute(key string, value interface{})
	MarkOpenInferenceChain()
	RecordUsage(u gwtypes.Usage)
	RecordError(err error)
	End()
}

// OtelSink is the OpenTelemetry-backed Sink, built directly on
// telemetry.GetTracer / telemetry.GetBaseAttributes /
// telemetry.RecordErrorOnSpan (pkg/telemetry, kept from the teacher
// verbatim).
type OtelSink struct {
	tracer   trace.Tracer
	settings *telemetry.Settings
}

// NewOtelSink builds a Sink around the given tracer. Pass nil to get a
// disabled sink (telemetry.GetTracer returns a no-op tracer), matching
// the teacher's "telemetry is off by default" stance.
func NewOtelSink(tracer trace.Tracer) *OtelSink {
	settings := telemetry.DefaultSettings()
	if tracer != nil {
		settings = settings.WithEnabled(true).WithTracer(tracer)
	}
	return &OtelSink{tracer: telemetry.GetTracer(settings), settings: settings}
}

func (s *OtelSink) StartAttempt(ctx context.Context, model, provider string) (context.Context, Attempt) {
	attrs := telemetry.GetBaseAttributes(provider, model, s.settings, nil)
	ctx, span := s.tracer.Start(ctx, "gateway.provider_attempt", trace.WithAttributes(attrs...))
	return ctx, &otelAttempt{span: span}
}

type otelAttempt struct {
	span trace.Span
}

func (a *otelAttempt) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		a.span.SetAttributes(attribute.String(key, v))
	case int:
		a.span.SetAttributes(attribute.Int(key, v))
	case int64:
		a.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		a.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		a.span.SetAttributes(attribute.Bool(key, v))
	}
}

func (a *otelAttempt) MarkOpenInferenceChain() {
	a.span.SetAttributes(attribute.Bool("gateway.open_inference_chain", true))
}

func (a *otelAttempt) RecordUsage(u gwtypes.Usage) {
	if u.InputTokens != nil {
		a.span.SetAttributes(attribute.Int64("gateway.usage.input_tokens", *u.InputTokens))
	}
	if u.OutputTokens != nil {
		a.span.SetAttributes(attribute.Int64("gateway.usage.output_tokens", *u.OutputTokens))
	}
}

func (a *otelAttempt) RecordError(err error) {
	telemetry.RecordErrorOnSpan(a.span, err)
}

func (a *otelAttempt) End() {
	a.span.End()
}
