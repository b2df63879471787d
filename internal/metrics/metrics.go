// Package metrics registers the connector's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connected     prometheus.Gauge
	ConnectTotal  *prometheus.CounterVec
	ScansTotal    *prometheus.CounterVec
	BlocksFetched prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "substratescope_connected",
			Help: "1 while a node connection is established.",
		}),
		ConnectTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "substratescope_connect_attempts_total",
			Help: "Connect attempts by result.",
		}, []string{"result"}),
		ScansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "substratescope_scans_total",
			Help: "Backward scans by kind.",
		}, []string{"kind"}),
		BlocksFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "substratescope_blocks_fetched_total",
			Help: "Blocks fetched during scans.",
		}),
	}
}
