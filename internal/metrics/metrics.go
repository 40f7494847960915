package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IntentSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tenantgate",
		Name:      "intent_seconds",
		Help:      "Duration of administrative intents.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"intent"})
	IntentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tenantgate",
		Name:      "intents_total",
		Help:      "Total administrative intents processed, by outcome.",
	}, []string{"intent", "outcome"})
	ClusterCallFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tenantgate",
		Name:      "cluster_call_failures_total",
		Help:      "Cluster API calls that returned an error.",
	}, []string{"op"})
	AuditEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tenantgate",
		Name:      "audit_events_total",
		Help:      "Total audit events recorded.",
	})
)

func init() {
	prometheus.MustRegister(IntentSeconds, IntentsTotal, ClusterCallFailuresTotal, AuditEventsTotal)
}
