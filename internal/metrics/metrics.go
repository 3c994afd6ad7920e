// Package metrics exposes Prometheus collectors for the rollout controller.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rolloutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canarygate",
			Name:      "rollouts_total",
			Help:      "Total number of rollout sessions reaching a terminal state, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	rolloutDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "canarygate",
			Name:      "rollout_seconds",
			Help:      "Rollout duration from start to terminal state in seconds.",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		},
	)

	trafficShiftsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "canarygate",
			Name:      "traffic_shifts_total",
			Help:      "Total number of traffic shift calls issued to the router.",
		},
	)
)

// Register attaches canarygate collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		rolloutsTotal,
		rolloutDurationSeconds,
		trafficShiftsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRollout records one terminal rollout with its duration and outcome.
func ObserveRollout(duration time.Duration, outcome string) {
	rolloutsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	rolloutDurationSeconds.Observe(duration.Seconds())
}

// CountTrafficShift records one traffic shift call.
func CountTrafficShift() {
	trafficShiftsTotal.Inc()
}
