// Package metrics exposes the sync counters on the default Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	batchRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalogsync",
		Name:      "batch_requests_total",
		Help:      "Batch requests issued to the remote catalog, retries included.",
	})
	batchItemErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalogsync",
		Name:      "batch_item_errors_total",
		Help:      "Entities and variations that failed to reach the remote catalog.",
	})
	syncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalogsync",
		Name:      "sync_runs_total",
		Help:      "Completed sync runs by kind and outcome.",
	}, []string{"kind", "outcome"})
	webhooks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalogsync",
		Name:      "webhooks_total",
		Help:      "Webhook envelopes by lifecycle event.",
	}, []string{"event"})
	priceAlerts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalogsync",
		Name:      "price_alerts_total",
		Help:      "Price changes that crossed the alert threshold.",
	})
)

func init() {
	prometheus.MustRegister(batchRequests, batchItemErrors, syncRuns, webhooks, priceAlerts)
}

func ObserveBatch(requests, itemErrors int) {
	batchRequests.Add(float64(requests))
	batchItemErrors.Add(float64(itemErrors))
}

// ObserveRun records a finished run. kind is catalog, prices or registry.
func ObserveRun(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	syncRuns.WithLabelValues(kind, outcome).Inc()
}

// ObserveWebhook counts an envelope event: received, rejected, duplicate, completed or failed.
func ObserveWebhook(event string) {
	webhooks.WithLabelValues(event).Inc()
}

func ObservePriceAlert() {
	priceAlerts.Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
