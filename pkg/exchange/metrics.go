package exchange

import "github.com/zeromicro/go-zero/core/metric"

const metricNamespace = "tradelink"

var (
	metricCalls = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "exchange",
		Name:      "calls_total",
		Help:      "exchange adapter calls by venue, endpoint and result.",
		Labels:    []string{"venue", "endpoint", "result"},
	})

	metricCallDuration = metric.NewHistogramVec(&metric.HistogramVecOpts{
		Namespace: metricNamespace,
		Subsystem: "exchange",
		Name:      "call_duration_ms",
		Help:      "exchange venue call latency in milliseconds.",
		Labels:    []string{"venue", "endpoint"},
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch KindOf(err) {
	case KindRateLimited:
		return "rate_limited"
	case KindRemoteRejection:
		return "rejected"
	case KindValidation:
		return "invalid"
	case KindNotConnected:
		return "not_connected"
	default:
		return "error"
	}
}
