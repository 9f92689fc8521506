package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querymesh_generations_total",
			Help: "Total number of SQL generation attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	generationLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querymesh_generation_latency_seconds",
			Help:    "SQL generation latency by method.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querymesh_cache_lookups_total",
			Help: "Query cache lookups by result (hit/miss).",
		},
		[]string{"result"},
	)
	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querymesh_cache_entries",
			Help: "Current number of query cache entries.",
		},
	)
	validationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querymesh_validation_failures_total",
			Help: "Validation failures by violation category.",
		},
		[]string{"category"},
	)
	pluginHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "querymesh_plugin_healthy",
			Help: "Plugin health status (1 healthy, 0 unhealthy).",
		},
		[]string{"plugin"},
	)
	templatePromotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querymesh_template_promotions_total",
			Help: "Templates synthesized from repeated LLM successes.",
		},
	)
	llmRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querymesh_llm_refinement_retries_total",
			Help: "LLM refinement retries triggered by failed validation.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		generationsTotal,
		generationLatencySeconds,
		cacheLookupsTotal,
		cacheEntries,
		validationFailuresTotal,
		pluginHealthy,
		templatePromotionsTotal,
		llmRetriesTotal,
	)
}

func ObserveGeneration(method string, success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	generationsTotal.WithLabelValues(method, outcome).Inc()
	generationLatencySeconds.WithLabelValues(method).Observe(elapsed.Seconds())
}

func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

func SetCacheEntries(count int) {
	if count < 0 {
		count = 0
	}
	cacheEntries.Set(float64(count))
}

func ObserveValidationFailure(category string) {
	validationFailuresTotal.WithLabelValues(category).Inc()
}

func SetPluginHealth(name string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	pluginHealthy.WithLabelValues(name).Set(value)
}

func IncrementTemplatePromotion() {
	templatePromotionsTotal.Inc()
}

func IncrementLLMRetry() {
	llmRetriesTotal.Inc()
}
