package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

var (
	// messagesTotal counts processed inbound messages by outcome kind.
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_messages_total",
			Help: "Inbound messages processed, by outcome.",
		},
		[]string{"outcome"},
	)

	aiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_ai_request_duration_seconds",
			Help:    "Duration of completion calls in seconds.",
			Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"result"},
	)

	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_sends_total",
			Help: "Outbound WhatsApp sends by kind and result.",
		},
		[]string{"kind", "result"},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_orders_total",
			Help: "Orders created from confirmed quotes, by flow.",
		},
		[]string{"flow"},
	)

	embeddingFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wa_embedding_fallbacks_total",
			Help: "Query embeddings served by the local fallback after a provider error.",
		},
	)

	// breakerState is 0 closed, 1 half-open, 2 open.
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wa_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)

	workerInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wa_workers_inflight",
			Help: "Messages currently being processed in the background.",
		},
	)
)

func init() {
	prometheus.MustRegister(messagesTotal, aiLatency, sendsTotal, ordersTotal, embeddingFallbacks, breakerState, workerInflight)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveOutcome records one processed message.
func ObserveOutcome(kind string) { messagesTotal.WithLabelValues(kind).Inc() }

// ObserveAI records a completion call.
func ObserveAI(d time.Duration, err error) {
	aiLatency.WithLabelValues(result(err)).Observe(d.Seconds())
}

// ObserveSend records an outbound send of kind "text" or "image".
func ObserveSend(kind string, err error) { sendsTotal.WithLabelValues(kind, result(err)).Inc() }

// ObserveOrder records a created order for flow "merchant" or "concierge".
func ObserveOrder(flow string) { ordersTotal.WithLabelValues(flow).Inc() }

// ObserveEmbeddingFallback records a degraded query embedding.
func ObserveEmbeddingFallback(error) { embeddingFallbacks.Inc() }

// WorkerStarted and WorkerDone track background processing.
func WorkerStarted() { workerInflight.Inc() }
func WorkerDone()    { workerInflight.Dec() }

// BreakerStateChange is a gobreaker OnStateChange hook exporting the state.
func BreakerStateChange(name string, _ gobreaker.State, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	breakerState.WithLabelValues(name).Set(v)
}
