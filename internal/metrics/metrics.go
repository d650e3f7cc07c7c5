package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voicebridge/voicebridge/internal/transport"
)

// CallCountProvider exposes live call counts from the registry.
type CallCountProvider interface {
	Count() int
	Limit() int
	CountByProvider() map[transport.Provider]int
}

// DispositionCounter returns finished call counts grouped by disposition.
type DispositionCounter interface {
	CountByDisposition(ctx context.Context) (map[string]int, error)
}

// Collector is a prometheus.Collector that gathers voicebridge metrics at
// scrape time.
type Collector struct {
	calls        CallCountProvider
	dispositions DispositionCounter
	startTime    time.Time

	// Metric descriptors.
	activeCallsDesc   *prometheus.Desc
	providerCallsDesc *prometheus.Desc
	capacityDesc      *prometheus.Desc
	callsTotalDesc    *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(calls CallCountProvider, dispositions DispositionCounter, startTime time.Time) *Collector {
	return &Collector{
		calls:        calls,
		dispositions: dispositions,
		startTime:    startTime,

		activeCallsDesc: prometheus.NewDesc(
			"voicebridge_active_calls",
			"Number of currently active call sessions",
			nil, nil,
		),
		providerCallsDesc: prometheus.NewDesc(
			"voicebridge_provider_active_calls",
			"Number of currently active call sessions per telephony provider",
			[]string{"provider"}, nil,
		),
		capacityDesc: prometheus.NewDesc(
			"voicebridge_call_capacity",
			"Configured maximum number of concurrent calls",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"voicebridge_calls_total",
			"Total number of finished calls by disposition",
			[]string{"disposition"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voicebridge_uptime_seconds",
			"Seconds since the voicebridge process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.providerCallsDesc
	ch <- c.capacityDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.calls.Count()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.capacityDesc, prometheus.GaugeValue,
			float64(c.calls.Limit()),
		)

		counts := c.calls.CountByProvider()
		for _, provider := range transport.Providers {
			ch <- prometheus.MustNewConstMetric(
				c.providerCallsDesc, prometheus.GaugeValue,
				float64(counts[provider]), string(provider),
			)
		}
	}

	if c.dispositions != nil {
		counts, err := c.dispositions.CountByDisposition(ctx)
		if err != nil {
			slog.Error("metrics: failed to count call dispositions", "error", err)
		} else {
			for disposition, n := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(n), disposition,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
