package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. One Metrics value is
// shared by every engine in a process; series are split by record_type.
//
// All methods are nil-safe so an engine built without WithMetrics records
// nothing.
type Metrics struct {
	remoteOps     *prometheus.CounterVec
	retries       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	pipelineDepth *prometheus.GaugeVec
	subStatus     *prometheus.GaugeVec
}

// Outcome label values for remote_operations_total.
const (
	outcomeOK    = "ok"
	outcomeRetry = "retry"
	outcomeError = "error"
)

// Result label values for notifications_total.
const (
	notificationAccepted    = "accepted"
	notificationUndecodable = "undecodable"
	notificationForeign     = "foreign"
)

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		remoteOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pubsync",
			Name:      "remote_operations_total",
			Help:      "Remote store calls by operation and outcome.",
		}, []string{"record_type", "op", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pubsync",
			Name:      "remote_retries_total",
			Help:      "Retries scheduled from server retry-after hints.",
		}, []string{"record_type", "op"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pubsync",
			Name:      "notifications_total",
			Help:      "Push notifications by routing result.",
		}, []string{"record_type", "result"}),
		pipelineDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pubsync",
			Name:      "pipeline_depth",
			Help:      "Queued plus running remote operations.",
		}, []string{"record_type"}),
		subStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pubsync",
			Name:      "subscription_status",
			Help:      "Subscription state (0 unknown, 1 verifying, 2 creating, 3 active, 4 stale, 5 halted).",
		}, []string{"record_type"}),
	}
	if reg != nil {
		reg.MustRegister(m.remoteOps, m.retries, m.notifications, m.pipelineDepth, m.subStatus)
	}
	return m
}

func (m *Metrics) remoteOp(recordType, op, outcome string) {
	if m == nil {
		return
	}
	m.remoteOps.WithLabelValues(recordType, op, outcome).Inc()
}

func (m *Metrics) retry(recordType, op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(recordType, op).Inc()
}

func (m *Metrics) notification(recordType, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(recordType, result).Inc()
}

func (m *Metrics) depth(recordType string, n int) {
	if m == nil {
		return
	}
	m.pipelineDepth.WithLabelValues(recordType).Set(float64(n))
}

func (m *Metrics) status(recordType string, s Status) {
	if m == nil {
		return
	}
	m.subStatus.WithLabelValues(recordType).Set(float64(s))
}
