package executor

import "github.com/zeromicro/go-zero/core/metric"

var (
	metricBrackets = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: "tradelink",
		Subsystem: "executor",
		Name:      "brackets_total",
		Help:      "bracket orders by venue and outcome.",
		Labels:    []string{"venue", "result"},
	})

	metricRiskDecisions = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: "tradelink",
		Subsystem: "executor",
		Name:      "risk_decisions_total",
		Help:      "risk-managed orders by venue and decision.",
		Labels:    []string{"venue", "decision"},
	})
)
