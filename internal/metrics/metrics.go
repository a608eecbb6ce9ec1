// Package metrics exposes OpenTelemetry instruments for collection and audit
// activity. Without a configured MeterProvider every instrument is a no-op.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "trustaudit"

// Recorder holds the instruments. A nil *Recorder records nothing.
type Recorder struct {
	fetches        metric.Int64Counter
	fetchLatency   metric.Float64Histogram
	cacheHits      metric.Int64Counter
	audits         metric.Int64Counter
	overrides      metric.Int64Counter
	investigations metric.Int64Counter
	reasoningCalls metric.Int64Counter
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error

	if r.fetches, err = meter.Int64Counter("trustaudit.collect.fetches",
		metric.WithDescription("Source fetches by source and status")); err != nil {
		return nil, err
	}
	if r.fetchLatency, err = meter.Float64Histogram("trustaudit.collect.fetch_duration",
		metric.WithDescription("Source fetch latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.cacheHits, err = meter.Int64Counter("trustaudit.collect.cache_hits",
		metric.WithDescription("Fresh evidence reused instead of fetched")); err != nil {
		return nil, err
	}
	if r.audits, err = meter.Int64Counter("trustaudit.audit.runs",
		metric.WithDescription("Completed audits by risk level and forced flag")); err != nil {
		return nil, err
	}
	if r.overrides, err = meter.Int64Counter("trustaudit.enforce.overrides",
		metric.WithDescription("Scores clamped by enforcement")); err != nil {
		return nil, err
	}
	if r.investigations, err = meter.Int64Counter("trustaudit.audit.investigations",
		metric.WithDescription("Investigate calls by status")); err != nil {
		return nil, err
	}
	if r.reasoningCalls, err = meter.Int64Counter("trustaudit.reasoning.calls",
		metric.WithDescription("Reasoning service calls by provider and outcome")); err != nil {
		return nil, err
	}
	return r, nil
}

var (
	defaultOnce sync.Once
	defaultRec  *Recorder
)

// Default returns a recorder on the global MeterProvider. If instrument
// creation fails it returns nil, which records nothing.
func Default() *Recorder {
	defaultOnce.Do(func() {
		rec, err := New(otel.Meter(instrumentationName))
		if err == nil {
			defaultRec = rec
		}
	})
	return defaultRec
}

// Fetch records one source fetch.
func (r *Recorder) Fetch(ctx context.Context, source, status string, d time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	)
	r.fetches.Add(ctx, 1, attrs)
	r.fetchLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("source", source)))
}

// CacheHit records a reused fresh record.
func (r *Recorder) CacheHit(ctx context.Context, source string) {
	if r == nil {
		return
	}
	r.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// Audit records a finished audit.
func (r *Recorder) Audit(ctx context.Context, riskLevel string, forced bool, iterations int) {
	if r == nil {
		return
	}
	r.audits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("risk_level", riskLevel),
		attribute.Bool("forced", forced),
		attribute.Int("iterations", iterations),
	))
}

// Override records an enforcement clamp.
func (r *Recorder) Override(ctx context.Context, severity string) {
	if r == nil {
		return
	}
	r.overrides.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}

// Investigation records one investigate call.
func (r *Recorder) Investigation(ctx context.Context, status string) {
	if r == nil {
		return
	}
	r.investigations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// ReasoningCall records one call to the reasoning service.
func (r *Recorder) ReasoningCall(ctx context.Context, provider string, ok bool) {
	if r == nil {
		return
	}
	r.reasoningCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("ok", ok),
	))
}
