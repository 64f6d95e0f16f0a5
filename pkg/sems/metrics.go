package sems

import (
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solarmind",
		Subsystem: "sems",
		Name:      "requests_total",
		Help:      "Requests sent to the SEMS portal by endpoint and status.",
	}, []string{"endpoint", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "solarmind",
		Subsystem: "sems",
		Name:      "request_duration_seconds",
		Help:      "Latency of SEMS portal requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	loginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solarmind",
		Subsystem: "sems",
		Name:      "logins_total",
		Help:      "Login attempts by region and outcome.",
	}, []string{"region", "outcome"})

	tokenRenewalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "solarmind",
		Subsystem: "sems",
		Name:      "token_renewals_total",
		Help:      "Sessions force-renewed after a failed token cycle.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, loginsTotal, tokenRenewalsTotal)
}

func observeRequest(urlPath, status string, start time.Time) {
	endpoint := path.Base(urlPath)
	requestsTotal.WithLabelValues(endpoint, status).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
