package rabbitmq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventbus_connection_reconnects_total",
		Help: "Successful reconnections after a broker outage.",
	})

	connectionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventbus_connection_failures_total",
		Help: "Failed connection attempts.",
	})
)
