// metrics.go — Prometheus-метрики запросов веб-клиентов.
package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal — принятые запросы по виду.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xg_requests_total",
			Help: "Количество принятых запросов веб-клиентов по виду",
		},
		[]string{"type"},
	)

	// requestsRejected — отброшенные запросы по причине.
	requestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xg_requests_rejected_total",
			Help: "Количество отброшенных запросов веб-клиентов",
		},
		[]string{"reason"}, // malformed, secret, unknown, failed
	)
)
