package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Active websocket connections",
	})
	OnlineIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "presence_online_identities",
		Help: "Identities currently in the presence registry",
	})
	Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_total",
		Help: "send-message events by outcome",
	}, []string{"result"})
	PresenceBroadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_broadcasts_total",
		Help: "online-users snapshots pushed to all connections",
	})
	ProtocolViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_protocol_violations_total",
		Help: "Rejected inbound events by reason",
	}, []string{"reason"})

	once sync.Once
)

// Init registers the collectors once with the default registry.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(Connections, OnlineIdentities, Messages, PresenceBroadcasts, ProtocolViolations)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
