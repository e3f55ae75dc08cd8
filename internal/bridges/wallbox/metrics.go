package wallbox

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "easywallbox"

// Metrics holds the Prometheus collectors of the bridge.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	commandsEnqueued *prometheus.CounterVec // by source (mqtt, api, verify, refresh)
	commandsWritten  prometheus.Counter
	commandsFailed   prometheus.Counter
	linesReceived    *prometheus.CounterVec // by channel
	responses        *prometheus.CounterVec // by kind
	framerDiscards   prometheus.Counter
	linesDropped     prometheus.Counter
	connectAttempts  *prometheus.CounterVec // by result (ok, error)
	connected        prometheus.Gauge
	queueDepth       prometheus.Gauge
	publishErrors    prometheus.Counter
}

// NewMetrics creates the bridge collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil // Metrics disabled
	}

	m := &Metrics{
		commandsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "commands_enqueued_total",
			Help:      "Commands added to the dispatch queue",
		}, []string{"source"}),

		commandsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "commands_written_total",
			Help:      "Commands written to the wallbox",
		}),

		commandsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "commands_failed_total",
			Help:      "Commands dropped because the write failed",
		}),

		linesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "link",
			Name:      "lines_received_total",
			Help:      "Complete protocol lines received per notification channel",
		}, []string{"channel"}),

		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "link",
			Name:      "responses_total",
			Help:      "Parsed wallbox responses by kind",
		}, []string{"kind"}),

		framerDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "link",
			Name:      "framer_discards_total",
			Help:      "Notification buffers discarded as malformed",
		}),

		linesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "link",
			Name:      "lines_dropped_total",
			Help:      "Framed lines dropped because the consumer was behind",
		}),

		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "link",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result",
		}, []string{"result"}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "link",
			Name:      "connected",
			Help:      "1 when the wallbox link is authenticated",
		}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Commands waiting in the dispatch queue",
		}),

		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "mqtt",
			Name:      "publish_errors_total",
			Help:      "MQTT publishes that failed",
		}),
	}

	collectors := []prometheus.Collector{
		m.commandsEnqueued, m.commandsWritten, m.commandsFailed,
		m.linesReceived, m.responses, m.framerDiscards, m.linesDropped,
		m.connectAttempts, m.connected, m.queueDepth, m.publishErrors,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) recordEnqueued(source string, n int) {
	if m == nil {
		return
	}
	m.commandsEnqueued.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) recordWrite(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.commandsFailed.Inc()
		return
	}
	m.commandsWritten.Inc()
}

func (m *Metrics) recordLine(ch Channel) {
	if m == nil {
		return
	}
	m.linesReceived.WithLabelValues(ch.String()).Inc()
}

func (m *Metrics) recordResponse(kind ResponseKind) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) recordDiscards(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.framerDiscards.Add(float64(n))
}

func (m *Metrics) recordDropped() {
	if m == nil {
		return
	}
	m.linesDropped.Inc()
}

func (m *Metrics) recordConnectAttempt(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) setConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) recordPublishError() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}
