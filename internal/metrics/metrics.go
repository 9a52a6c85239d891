package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SendsTotal counts dispatch outcomes per recipient.
	SendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_sends_total",
		Help: "Per-recipient dispatch outcomes.",
	}, []string{"outcome"})

	// SendRetries counts transient-failure retries against the gateway.
	SendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campaign_send_retries_total",
		Help: "Gateway send attempts retried after a transient failure.",
	})

	// CascadeCancellations counts recipients removed from plans by
	// opt-out or contact-deletion events.
	CascadeCancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campaign_cascade_cancellations_total",
		Help: "Recipients cancelled out of pending plans by external events.",
	})

	// TickDuration observes scheduler tick latency.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "campaign_tick_duration_seconds",
		Help:    "Duration of dispatcher scheduler ticks.",
		Buckets: prometheus.DefBuckets,
	})
)

// StartServer exposes /metrics on the given port.
func StartServer(port int) *http.Server {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()
	return srv
}
