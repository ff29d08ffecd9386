// Package observe wires voxfix into OpenTelemetry: correction and reload
// metrics, request tracing and trace-aware logging.
//
// Metrics are exported to Prometheus by the provider built in
// [InitProvider]. Code that runs without a provider records to
// [DefaultMetrics]; tests build their own with [NewMetrics] over a manual
// reader.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voxfix"

// Metrics holds the instruments recorded by the correction engine and the
// HTTP layer.
type Metrics struct {
	// CorrectionDuration is the latency of correcting one text unit.
	CorrectionDuration metric.Float64Histogram

	// ReloadDuration is the time spent rebuilding the rule snapshot.
	ReloadDuration metric.Float64Histogram

	// Corrections counts applied replacements, labelled with "method".
	Corrections metric.Int64Counter

	// CorrectionFailures counts units returned unchanged after a panic.
	CorrectionFailures metric.Int64Counter

	// RuleReloads counts snapshot rebuilds, labelled with "status" and
	// "source".
	RuleReloads metric.Int64Counter

	// RulesLoaded is the size of the active snapshot.
	RulesLoaded metric.Int64Gauge

	// HTTPRequestDuration is labelled with "method", "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// Sentence corrections are usually sub-millisecond; reloads that rebuild the
// segmenter take up to seconds.
var latencyBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.CorrectionDuration, err = meter.Float64Histogram("voxfix.correction.duration",
		metric.WithDescription("Latency of correcting one text unit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if m.ReloadDuration, err = meter.Float64Histogram("voxfix.rules.reload.duration",
		metric.WithDescription("Latency of rebuilding the hotword rule snapshot."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if m.Corrections, err = meter.Int64Counter("voxfix.corrections",
		metric.WithDescription("Replacements applied, by method."),
	); err != nil {
		return nil, err
	}
	if m.CorrectionFailures, err = meter.Int64Counter("voxfix.correction.failures",
		metric.WithDescription("Text units returned uncorrected after a failure."),
	); err != nil {
		return nil, err
	}
	if m.RuleReloads, err = meter.Int64Counter("voxfix.rules.reloads",
		metric.WithDescription("Rule snapshot rebuilds, by status and source."),
	); err != nil {
		return nil, err
	}
	if m.RulesLoaded, err = meter.Int64Gauge("voxfix.rules.loaded",
		metric.WithDescription("Hotword rules in the active snapshot."),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram("voxfix.http.request.duration",
		metric.WithDescription("HTTP request latency by route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] created on first use from
// the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordCorrection records one applied replacement produced by method.
func (m *Metrics) RecordCorrection(ctx context.Context, method string) {
	m.Corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordCorrectionFailure records a text unit that could not be corrected.
func (m *Metrics) RecordCorrectionFailure(ctx context.Context) {
	m.CorrectionFailures.Add(ctx, 1)
}

// RecordReload records a snapshot rebuild. The rules gauge only moves on
// status "ok".
func (m *Metrics) RecordReload(ctx context.Context, status, source string, rules int) {
	m.RuleReloads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("source", source),
	))
	if status == "ok" {
		m.RulesLoaded.Record(ctx, int64(rules))
	}
}

// RecordRequest records a served HTTP request. route is the matched mux
// pattern, never the raw path.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	m.HTTPRequestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	))
}
