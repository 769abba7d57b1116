package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики доставки.
var (
	clientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg_ws_clients_connected",
		Help: "Количество подключённых веб-клиентов",
	})

	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg_ws_messages_sent_total",
		Help: "Количество отправленных клиентам сообщений",
	}, []string{"type"})

	sendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xg_ws_send_errors_total",
		Help: "Количество ошибок сериализации или отправки сообщений",
	})

	clientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xg_ws_clients_dropped_total",
		Help: "Количество клиентов, отключённых из-за переполнения очереди",
	})

	graphEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg_graph_events_total",
		Help: "Количество обработанных событий графа",
	}, []string{"type"})
)
