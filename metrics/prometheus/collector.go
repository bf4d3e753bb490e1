// Package prometheus exports SDK telemetry metrics to a Prometheus registry.
package prometheus

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	sdk "github.com/mixlab/mixlab/sdk/go"
)

const namespace = "mixlab_sdk"

// Collector turns SDK metric hooks into Prometheus instruments.
type Collector struct {
	renewals        *prometheus.CounterVec
	renewalLatency  prometheus.Histogram
	renewalWaiters  prometheus.Gauge
	requestLatency  *prometheus.HistogramVec
	requestsByState *prometheus.CounterVec
}

// NewCollector creates the instruments and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_renewals_total",
			Help:      "Session renewals by outcome.",
		}, []string{"outcome"}),
		renewalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_renewal_duration_seconds",
			Help:      "Latency of the refresh call behind a renewal.",
			Buckets:   prometheus.DefBuckets,
		}),
		renewalWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_renewal_waiters",
			Help:      "Callers queued behind the renewal in flight.",
		}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of individual HTTP attempts by route template, replays included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		requestsByState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTP attempts by response class.",
		}, []string{"class"}),
	}
	for _, col := range []prometheus.Collector{c.renewals, c.renewalLatency, c.renewalWaiters, c.requestLatency, c.requestsByState} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Observe records one SDK metric. Unknown names are ignored.
func (c *Collector) Observe(m sdk.Metric) {
	switch m.Name {
	case "sdk_session_renewals_total":
		c.renewals.WithLabelValues(m.Labels["outcome"]).Add(m.Value)
	case "sdk_session_renewal_latency_ms":
		c.renewalLatency.Observe(msToSeconds(m.Value))
	case "sdk_session_renewal_waiters":
		c.renewalWaiters.Set(m.Value)
	case "sdk_http_request_latency_ms":
		c.requestLatency.WithLabelValues(m.Labels["route"]).Observe(msToSeconds(m.Value))
	}
}

// Hooks returns base with OnMetric and OnHTTPResponse feeding the collector.
// Hooks already set on base still run.
func (c *Collector) Hooks(base sdk.TelemetryHooks) sdk.TelemetryHooks {
	nextMetric := base.OnMetric
	base.OnMetric = func(ctx context.Context, m sdk.Metric) {
		c.Observe(m)
		if nextMetric != nil {
			nextMetric(ctx, m)
		}
	}
	nextResponse := base.OnHTTPResponse
	base.OnHTTPResponse = func(ctx context.Context, req *http.Request, resp *http.Response, err error, latency time.Duration) {
		c.requestsByState.WithLabelValues(responseClass(resp, err)).Inc()
		if nextResponse != nil {
			nextResponse(ctx, req, resp, err, latency)
		}
	}
	return base
}

func responseClass(resp *http.Response, err error) string {
	switch {
	case err != nil || resp == nil:
		return "error"
	case resp.StatusCode == http.StatusUnauthorized:
		return "unauthorized"
	case resp.StatusCode >= 500:
		return "5xx"
	case resp.StatusCode >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func msToSeconds(ms float64) float64 {
	return ms / float64(time.Second/time.Millisecond)
}
