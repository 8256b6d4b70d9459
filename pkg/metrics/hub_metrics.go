package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	hubMetricSubsystem = "hub"

	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

var (
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: lanchatNamespace,
		Subsystem: hubMetricSubsystem,
		Name:      "active_sessions",
		Help:      "当前已注册（处于 Active 状态）的会话数量",
	})

	ConnectionsAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: lanchatNamespace,
		Subsystem: hubMetricSubsystem,
		Name:      "connections_accepted_total",
		Help:      "已接受的连接总数",
	}, []string{transportLabelName})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: lanchatNamespace,
		Subsystem: hubMetricSubsystem,
		Name:      "connections_rejected_total",
		Help:      "因会话数达到上限被拒绝的连接总数",
	}, []string{transportLabelName})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: lanchatNamespace,
		Subsystem: hubMetricSubsystem,
		Name:      "commands_total",
		Help:      "按命令类型统计的入站行数",
	}, []string{kindLabelName})

	DeliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: lanchatNamespace,
		Subsystem: hubMetricSubsystem,
		Name:      "delivery_failures_total",
		Help:      "广播时投递失败并被驱逐的接收方数量",
	})

	HandshakeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: lanchatNamespace,
		Subsystem: hubMetricSubsystem,
		Name:      "handshake_failures_total",
		Help:      "握手失败次数",
	}, []string{reasonLabelName})

	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: lanchatNamespace,
		Subsystem: hubMetricSubsystem,
		Name:      "broadcast_fanout_latency",
		Help:      "一次广播扇出到所有接收方队列的耗时，单位毫秒",
		Buckets:   buckets,
	})
)

func registerHubMetrics(r prometheus.Registerer) {
	r.MustRegister(ActiveSessions)
	r.MustRegister(ConnectionsAccepted)
	r.MustRegister(ConnectionsRejected)
	r.MustRegister(CommandsTotal)
	r.MustRegister(DeliveryFailures)
	r.MustRegister(HandshakeFailures)
	r.MustRegister(BroadcastLatency)
}
