package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	retryTotal     *prometheus.CounterVec
	handoverTotal  *prometheus.CounterVec
	rateLimitWait  *prometheus.HistogramVec
	rateLimitTotal *prometheus.CounterVec
	flowMatchTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentflow_turn_total",
					Help: "Total executed turns by agent and outcome.",
				},
				[]string{"agent", "outcome"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agentflow_turn_duration_seconds",
					Help:    "Turn duration in seconds by agent.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentflow_tool_call_total",
					Help: "Total tool calls by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agentflow_tool_call_duration_seconds",
					Help:    "Tool call duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			retryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentflow_retry_total",
					Help: "Retry requests by agent and result (restart, exhausted).",
				},
				[]string{"agent", "result"},
			),
			handoverTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentflow_handover_total",
					Help: "Agent handovers by source and target.",
				},
				[]string{"from", "to"},
			),
			rateLimitWait: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agentflow_rate_limit_wait_seconds",
					Help:    "Time spent waiting for a rate limit permit.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"limiter"},
			),
			rateLimitTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentflow_rate_limit_total",
					Help: "Permit requests by limiter and result (acquired, timeout).",
				},
				[]string{"limiter", "result"},
			),
			flowMatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentflow_flow_match_total",
					Help: "Flow option classifications by use case and result.",
				},
				[]string{"use_case", "result"},
			),
		}

		prometheus.MustRegister(
			m.agentRunTotal,
			m.agentRunDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.retryTotal,
			m.handoverTotal,
			m.rateLimitWait,
			m.rateLimitTotal,
			m.flowMatchTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordTurn(agent string, duration time.Duration, outcome string) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(agent, outcome).Inc()
	m.agentRunDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordRetry(agent string, exhausted bool) {
	result := "restart"
	if exhausted {
		result = "exhausted"
	}
	getMetrics().retryTotal.WithLabelValues(agent, result).Inc()
}

func RecordHandover(from, to string) {
	getMetrics().handoverTotal.WithLabelValues(from, to).Inc()
}

func RecordRateLimit(limiter string, waited time.Duration, acquired bool) {
	m := getMetrics()
	result := "timeout"
	if acquired {
		result = "acquired"
	}
	m.rateLimitTotal.WithLabelValues(limiter, result).Inc()
	m.rateLimitWait.WithLabelValues(limiter).Observe(waited.Seconds())
}

func RecordFlowMatch(useCase string, matched bool) {
	result := "no_match"
	if matched {
		result = "matched"
	}
	getMetrics().flowMatchTotal.WithLabelValues(useCase, result).Inc()
}
