package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	llmProviderHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llm_provider_healthy",
			Help: "LLM provider health status (1 healthy, 0 unhealthy).",
		},
		[]string{"provider"},
	)
	llmProviderHealthCheckLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_provider_health_check_latency_ms",
			Help:    "LLM provider health check latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"provider"},
	)
	llmProviderHealthCheckFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_provider_health_check_failures_total",
			Help: "Total LLM provider health check failures.",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(
		llmProviderHealthy,
		llmProviderHealthCheckLatencyMs,
		llmProviderHealthCheckFailuresTotal,
	)
}

// ObserveProviderHealthCheck 记录一次健康检查结果，供各 Provider 适配器调用。
func ObserveProviderHealthCheck(provider string, healthy bool, latency time.Duration, err error) {
	if provider == "" {
		provider = "unknown"
	}
	if healthy {
		llmProviderHealthy.WithLabelValues(provider).Set(1)
	} else {
		llmProviderHealthy.WithLabelValues(provider).Set(0)
	}
	if latency > 0 {
		llmProviderHealthCheckLatencyMs.WithLabelValues(provider).Observe(float64(latency.Milliseconds()))
	}
	if err != nil {
		llmProviderHealthCheckFailuresTotal.WithLabelValues(provider).Inc()
	}
}
