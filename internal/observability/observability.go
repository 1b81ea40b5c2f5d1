// Package observability provides the logging/metrics/tracing factory every
// component is constructed with, mirroring the teacher repo's
// Observability interface (partition/node.go) but scoped to this engine's
// unit of concurrency: the consensus system, not the block round.
package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Observability is the narrow interface every package in this module takes
// instead of reaching for package-level globals.
type Observability interface {
	Tracer(name string, opts ...trace.TracerOption) trace.Tracer
	Meter(name string, opts ...metric.MeterOption) metric.Meter
	PrometheusRegisterer() prometheus.Registerer
	Logger() *slog.Logger
	SystemLogger(systemID string) *slog.Logger
	Metrics() *Metrics
	Shutdown(ctx context.Context) error
}

// Metrics holds the domain instruments every protocol module records
// against, built exactly once per process (partition/node.go's
// initMetrics does the equivalent at NewNode time). A single instance is
// shared across every system a process spawns, with the system_id carried
// as an attribute on each recording rather than baked into the instrument
// name, since unlike partition.Node this engine constructs many short-
// lived per-system module instances over its lifetime.
type Metrics struct {
	EpfdHeartbeatsSent     metric.Int64Counter
	EpfdHeartbeatsReceived metric.Int64Counter
	EpfdSuspicions         metric.Int64Counter
	EpfdRestores           metric.Int64Counter
	EldLeaderChanges       metric.Int64Counter
	EcEpochsStarted        metric.Int64Counter
	EpRounds               metric.Int64Counter
	UcDecisions            metric.Int64Counter
	UcDecisionLatency      metric.Float64Histogram
}

// SystemAttr tags a metric recording or span with the consensus instance
// it belongs to, the metrics-side equivalent of SystemLogger.
func SystemAttr(systemID string) attribute.KeyValue {
	return attribute.String("system", systemID)
}

func newMetrics(m metric.Meter, log *slog.Logger) *Metrics {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			log.Error("create counter", slog.String("name", name), slog.Any("error", err))
		}
		return c
	}
	latency, err := m.Float64Histogram("ucnode.uc.decision.latency",
		metric.WithDescription("Time from a value being proposed to a system deciding it"),
		metric.WithUnit("s"))
	if err != nil {
		log.Error("create histogram", slog.String("name", "ucnode.uc.decision.latency"), slog.Any("error", err))
	}
	return &Metrics{
		EpfdHeartbeatsSent:     counter("ucnode.epfd.heartbeat.sent", "Heartbeat requests sent by the failure detector"),
		EpfdHeartbeatsReceived: counter("ucnode.epfd.heartbeat.received", "Heartbeat requests or replies received"),
		EpfdSuspicions:         counter("ucnode.epfd.suspicions", "Peers newly added to the suspected set"),
		EpfdRestores:           counter("ucnode.epfd.restores", "Peers removed from the suspected set"),
		EldLeaderChanges:       counter("ucnode.eld.leader.changes", "Leader elections that changed the trusted peer"),
		EcEpochsStarted:        counter("ucnode.ec.epochs.started", "Epochs accepted from a trusted leader"),
		EpRounds:               counter("ucnode.ep.rounds", "Epoch consensus read/write rounds led by this process"),
		UcDecisions:            counter("ucnode.uc.decisions", "Values decided by uniform consensus"),
		UcDecisionLatency:      latency,
	}
}

type observability struct {
	log            *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	registerer     prometheus.Registerer
	metrics        *Metrics
}

// New builds an Observability backed by real OTel providers and the
// supplied Prometheus registerer, the configuration used by cmd/ucnode.
func New(log *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, reg prometheus.Registerer) Observability {
	if log == nil {
		log = slog.Default()
	}
	if tp == nil {
		tp = nooptrace.NewTracerProvider()
	}
	if mp == nil {
		mp = noopmetric.NewMeterProvider()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	o := &observability{log: log, tracerProvider: tp, meterProvider: mp, registerer: reg}
	o.metrics = newMetrics(mp.Meter("ucnode"), log)
	return o
}

// NewNoop builds an Observability with no-op tracing/metrics and a fresh
// Prometheus registry, suitable for tests. cmd/ucnode does not use it; it
// calls New with SDK providers.
func NewNoop(log *slog.Logger) Observability {
	return New(log, nil, nil, nil)
}

func (o *observability) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return o.tracerProvider.Tracer(name, opts...)
}

func (o *observability) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.meterProvider.Meter(name, opts...)
}

func (o *observability) PrometheusRegisterer() prometheus.Registerer { return o.registerer }

func (o *observability) Logger() *slog.Logger { return o.log }

// SystemLogger returns a logger pre-tagged with the consensus instance id,
// the way the teacher's RoundLogger pre-tags every line with the current
// block round.
func (o *observability) SystemLogger(systemID string) *slog.Logger {
	return o.log.With(slog.String("system", systemID))
}

func (o *observability) Metrics() *Metrics { return o.metrics }

func (o *observability) Shutdown(ctx context.Context) error {
	type shutdowner interface {
		Shutdown(context.Context) error
	}
	if s, ok := o.tracerProvider.(shutdowner); ok {
		if err := s.Shutdown(ctx); err != nil {
			return err
		}
	}
	if s, ok := o.meterProvider.(shutdowner); ok {
		return s.Shutdown(ctx)
	}
	return nil
}
