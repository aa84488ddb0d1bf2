// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	retryReasonServerError  = "server_error"
	retryReasonRateLimited  = "rate_limited"
	retryReasonTokenRefresh = "token_refresh"
)

// Metrics records REST traffic. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the REST collectors and registers them with
// registerer. A nil registerer leaves them unregistered, which tests
// use to read counters directly.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partyline",
			Subsystem: "rest",
			Name:      "requests_total",
			Help:      "REST attempts by method and status class.",
		}, []string{"method", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partyline",
			Subsystem: "rest",
			Name:      "retries_total",
			Help:      "REST retries by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "partyline",
			Subsystem: "rest",
			Name:      "request_duration_seconds",
			Help:      "REST attempt latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if registerer != nil {
		for _, collector := range []prometheus.Collector{metrics.requests, metrics.retries, metrics.duration} {
			if err := registerer.Register(collector); err != nil {
				return nil, err
			}
		}
	}
	return metrics, nil
}

// statusClass buckets a status into "2xx".."5xx", or "error" for a
// transport failure.
func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

func (m *Metrics) observe(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, statusClass(status)).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) retry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}
