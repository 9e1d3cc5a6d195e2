package manager

import "github.com/zeromicro/go-zero/core/metric"

var (
	metricConnectionLive = metric.NewGaugeVec(&metric.GaugeVecOpts{
		Namespace: "tradelink",
		Subsystem: "manager",
		Name:      "connection_live",
		Help:      "1 when the connection is live, 0 otherwise.",
		Labels:    []string{"venue", "credential"},
	})

	metricReconnects = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: "tradelink",
		Subsystem: "manager",
		Name:      "reconnect_attempts_total",
		Help:      "reconnect attempts by venue and result.",
		Labels:    []string{"venue", "result"},
	})
)

func observeLive(rec ConnectionRecord) {
	v := 0.0
	if rec.Live {
		v = 1
	}
	metricConnectionLive.Set(v, rec.Venue, rec.CredentialID)
}
