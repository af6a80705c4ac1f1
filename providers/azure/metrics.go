package azure

import "github.com/prometheus/client_golang/prometheus"

var (
	azureRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_azure_requests_total",
			Help: "Azure OpenAI 请求总数（按能力与结果）",
		},
		[]string{"capability", "outcome"},
	)

	azureRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_azure_request_duration_seconds",
			Help:    "Azure OpenAI 请求耗时（秒）",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"capability"},
	)

	azureTokenExchangeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_azure_token_exchange_total",
			Help: "联合身份令牌交换次数（按结果）",
		},
		[]string{"outcome"},
	)

	azureTokenCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_azure_token_cache_total",
			Help: "访问令牌缓存命中统计",
		},
		[]string{"result"},
	)

	azureParamsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_azure_params_dropped_total",
			Help: "因目标 api-version 不支持而被丢弃的参数数量",
		},
		[]string{"param"},
	)
)

func init() {
	prometheus.MustRegister(
		azureRequestsTotal,
		azureRequestDurationSeconds,
		azureTokenExchangeTotal,
		azureTokenCacheTotal,
		azureParamsDroppedTotal,
	)
}
