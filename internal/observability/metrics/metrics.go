package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the message router.
type ConversationMetrics struct {
	inboundTotal     *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	outboundTotal    *prometheus.CounterVec
	assistantLatency *prometheus.HistogramVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsbot",
			Subsystem: "conversation",
			Name:      "inbound_total",
			Help:      "Total inbound messages by sender classification",
		}, []string{"class"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsbot",
			Subsystem: "conversation",
			Name:      "transitions_total",
			Help:      "Total state machine transitions",
		}, []string{"from", "to"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsbot",
			Subsystem: "conversation",
			Name:      "outbound_total",
			Help:      "Total outbound sends by action kind",
		}, []string{"kind", "status"}),
		assistantLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "whatsbot",
			Subsystem: "conversation",
			Name:      "assistant_latency_seconds",
			Help:      "Latency of assistant completions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.transitionsTotal, m.outboundTotal, m.assistantLatency)
	return m
}

func (m *ConversationMetrics) ObserveInbound(class string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(class).Inc()
}

func (m *ConversationMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(stateLabel(from), stateLabel(to)).Inc()
}

func (m *ConversationMetrics) ObserveOutbound(kind string, failed bool) {
	if m == nil {
		return
	}
	status := "sent"
	if failed {
		status = "failed"
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *ConversationMetrics) ObserveAssistant(status string, seconds float64) {
	if m == nil {
		return
	}
	m.assistantLatency.WithLabelValues(status).Observe(seconds)
}

// stateLabel keeps the unset state visible in label values.
func stateLabel(s string) string {
	if s == "" {
		return "unset"
	}
	return s
}
