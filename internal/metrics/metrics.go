package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onvif_events_connect_attempts_total",
		Help: "Total number of connection attempts made by the reconnect supervisor",
	})

	connectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onvif_events_connection_errors_total",
		Help: "Total number of failed connection attempts, by failure class",
	}, []string{"class"})

	pullRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onvif_events_pull_requests_total",
		Help: "Total number of PullMessages requests issued",
	})

	eventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onvif_events_received_total",
		Help: "Total number of notification messages delivered as device events",
	})

	renewals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onvif_events_subscription_renewals_total",
		Help: "Total number of subscription Renew requests issued",
	})

	unsubscribeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onvif_events_unsubscribe_failures_total",
		Help: "Total number of Unsubscribe requests that failed and were ignored",
	})

	dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onvif_events_notifications_dropped_total",
		Help: "Notifications dropped because a subscriber buffer was full",
	}, []string{"stream"})
)

// RecordConnectAttempt counts one supervisor connection attempt.
func RecordConnectAttempt() { connectAttempts.Inc() }

// RecordConnectionError counts a failed attempt. class is "unsupported", "unauthorized", "fault" or "transport".
func RecordConnectionError(class string) { connectionErrors.WithLabelValues(class).Inc() }

func RecordPull() { pullRequests.Inc() }

func RecordEvent() { eventsReceived.Inc() }

func RecordRenewal() { renewals.Inc() }

func RecordUnsubscribeFailure() { unsubscribeFailures.Inc() }

// RecordDropped counts a notification dropped on the named stream ("events", "states", "stopped").
func RecordDropped(stream string) { dropped.WithLabelValues(stream).Inc() }
