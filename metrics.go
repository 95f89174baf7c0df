package synapse

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/synapseproj/synapse"

// Metrics holds the OpenTelemetry instruments Synapse records against
// (spec §9 observability). Grounded on MrWong99-glyphoxa's internal/observe
// package: a flat struct of pre-created instruments built once in Init,
// rather than ad hoc meter.Int64Counter calls scattered at call sites.
type Metrics struct {
	SearchDuration metric.Float64Histogram
	InsertDuration metric.Float64Histogram

	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	DecaySweepUpdated metric.Int64Counter
	DecaySweepDeleted metric.Int64Counter

	CoactivationJobsEnqueued metric.Int64Counter
	CoactivationJobsFailed   metric.Int64Counter

	CoactivationQueueDepth metric.Int64ObservableGauge
}

// NewMetrics builds every instrument against mp. Returns an error if any
// instrument registration fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.SearchDuration, err = m.Float64Histogram("synapse.search.duration",
		metric.WithDescription("Latency of Search/Recall calls."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.InsertDuration, err = m.Float64Histogram("synapse.insert.duration",
		metric.WithDescription("Latency of Insert/Store calls."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("synapse.cache.hits",
		metric.WithDescription("Query-result cache hits (C6)."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("synapse.cache.misses",
		metric.WithDescription("Query-result cache misses (C6)."),
	); err != nil {
		return nil, err
	}
	if met.DecaySweepUpdated, err = m.Int64Counter("synapse.decay.updated",
		metric.WithDescription("Memories whose decay score was updated by a sweep."),
	); err != nil {
		return nil, err
	}
	if met.DecaySweepDeleted, err = m.Int64Counter("synapse.decay.deleted",
		metric.WithDescription("Memories pruned by a decay sweep."),
	); err != nil {
		return nil, err
	}
	if met.CoactivationJobsEnqueued, err = m.Int64Counter("synapse.coactivation.jobs_enqueued",
		metric.WithDescription("Coactivation jobs enqueued (C7)."),
	); err != nil {
		return nil, err
	}
	if met.CoactivationJobsFailed, err = m.Int64Counter("synapse.coactivation.jobs_failed",
		metric.WithDescription("Coactivation job processing attempts that errored, whether or not they'll be retried."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// registerQueueDepth wires an ObservableGauge that polls store for the
// pending+running coactivation job count on every collection cycle. Kept
// separate from NewMetrics, which takes no MetadataStore; Init calls it
// with the store it has already opened.
func (m *Metrics) registerQueueDepth(mp metric.MeterProvider, store MetadataStore) error {
	meter := mp.Meter(meterName)
	gauge, err := meter.Int64ObservableGauge("synapse.coactivation.queue_depth",
		metric.WithDescription("Pending and in-flight coactivation jobs (C7)."),
	)
	if err != nil {
		return err
	}
	m.CoactivationQueueDepth = gauge

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		n, err := store.PendingJobCount()
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, int64(n))
		return nil
	}, gauge)
	return err
}

// recordCacheOutcome records a cache hit or miss. No-op when m is nil so
// callers never need a MetricsEnabled check at every call site.
func (m *Metrics) recordCacheOutcome(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Add(ctx, 1)
	} else {
		m.CacheMisses.Add(ctx, 1)
	}
}

func (m *Metrics) recordSearch(ctx context.Context, seconds float64, userID string) {
	if m == nil {
		return
	}
	m.SearchDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("user_id", userID)))
}

func (m *Metrics) recordInsert(ctx context.Context, seconds float64, sector Sector) {
	if m == nil {
		return
	}
	m.InsertDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("sector", string(sector))))
}

func (m *Metrics) recordDecaySweep(ctx context.Context, updated, deleted int) {
	if m == nil {
		return
	}
	if updated > 0 {
		m.DecaySweepUpdated.Add(ctx, int64(updated))
	}
	if deleted > 0 {
		m.DecaySweepDeleted.Add(ctx, int64(deleted))
	}
}

func (m *Metrics) recordCoactivationEnqueued(ctx context.Context) {
	if m == nil {
		return
	}
	m.CoactivationJobsEnqueued.Add(ctx, 1)
}

func (m *Metrics) recordCoactivationFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.CoactivationJobsFailed.Add(ctx, 1)
}

// InitMetricsProvider sets up an SDK MeterProvider backed by a Prometheus
// exporter bridge (so metrics are still scraped via admin_http.go's
// /metrics route) and registers it as the global provider. Returns a
// shutdown func to call from Close. Grounded on MrWong99-glyphoxa's
// observe.InitProvider, trimmed to metrics only (this corpus's tracing
// stack — otel/sdk/trace, semconv — isn't part of SPEC_FULL.md's scope).
func InitMetricsProvider(ctx context.Context, serviceName string) (*Metrics, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "synapse"
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, nil, err
	}

	promExp, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	met, err := NewMetrics(mp)
	if err != nil {
		mp.Shutdown(ctx)
		return nil, nil, err
	}

	return met, mp.Shutdown, nil
}
