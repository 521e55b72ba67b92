// Package metrics provides Prometheus metrics for the chat server and client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the module.
type Metrics struct {
	// Chat server
	RequestsTotal   prometheus.Counter
	ResponsesTotal  prometheus.Counter
	ResponseLatency *prometheus.HistogramVec
	ChatErrors      *prometheus.CounterVec

	// Feedback
	FeedbackTotal *prometheus.CounterVec

	// Client sessions
	TurnsCompleted prometheus.Counter
	StreamFailures *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total chat questions received",
		}),
		ResponsesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "responses_total",
			Help: "Total chat answers completed",
		}),
		ResponseLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "response_latency",
			Help:    "Response latency (seconds)",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		ChatErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_errors_total",
			Help: "Chat requests that ended with an error frame",
		}, []string{"path"}),
		FeedbackTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedback_total",
			Help: "Feedback submissions by usefulness",
		}, []string{"useful"}),
		TurnsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "client_turns_completed_total",
			Help: "Bot turns closed by a terminal event",
		}),
		StreamFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "client_stream_failures_total",
			Help: "Bot turns closed by a failure",
		}, []string{"reason"}),
	}
}

// Default registers the metrics with the process-wide Prometheus registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
