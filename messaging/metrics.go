package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_events_published_total",
		Help: "Events successfully published, by event type.",
	}, []string{"event_type"})

	publishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_publish_failures_total",
		Help: "Publish attempts that failed, by event type.",
	}, []string{"event_type"})

	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_events_consumed_total",
		Help: "Events handled successfully, by queue.",
	}, []string{"queue"})

	handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_handler_failures_total",
		Help: "Handler invocations that returned an error, by queue.",
	}, []string{"queue"})

	malformedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_malformed_messages_total",
		Help: "Deliveries rejected because the payload could not be decoded, by queue.",
	}, []string{"queue"})

	deadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_dead_lettered_total",
		Help: "Failed deliveries copied to the dead-letter exchange, by queue.",
	}, []string{"queue"})
)
