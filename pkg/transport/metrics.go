package transport

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"dslink/pkg/protocol"
)

// Metrics counts traffic on a connection. A nil *Metrics records nothing.
type Metrics struct {
	controlSent       prometheus.Counter
	tagsSent          prometheus.Counter
	telemetryReceived prometheus.Counter
	messagesReceived  *prometheus.CounterVec
	dropped           *prometheus.CounterVec
	transportErrors   prometheus.Counter
	batteryVoltage    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		controlSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dslink",
			Name:      "control_packets_sent_total",
			Help:      "Control packets sent to the robot.",
		}),
		tagsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dslink",
			Name:      "tcp_tags_sent_total",
			Help:      "TCP tags sent to the robot.",
		}),
		telemetryReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dslink",
			Name:      "telemetry_packets_received_total",
			Help:      "Telemetry packets decoded from the robot.",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dslink",
			Name:      "tcp_messages_received_total",
			Help:      "TCP messages decoded from the robot, by type byte.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dslink",
			Name:      "frames_dropped_total",
			Help:      "Malformed frames discarded, by channel.",
		}, []string{"source"}),
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dslink",
			Name:      "transport_errors_total",
			Help:      "Fatal socket errors.",
		}),
		batteryVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dslink",
			Name:      "robot_battery_volts",
			Help:      "Last reported robot battery voltage.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.controlSent,
			m.tagsSent,
			m.telemetryReceived,
			m.messagesReceived,
			m.dropped,
			m.transportErrors,
			m.batteryVoltage,
		)
	}
	return m
}

func (m *Metrics) incControl() {
	if m != nil {
		m.controlSent.Inc()
	}
}

func (m *Metrics) incTag() {
	if m != nil {
		m.tagsSent.Inc()
	}
}

func (m *Metrics) observeTelemetry(t protocol.Telemetry) {
	if m != nil {
		m.telemetryReceived.Inc()
		m.batteryVoltage.Set(float64(t.BatteryVoltage))
	}
}

func (m *Metrics) incMessage(typ uint8) {
	if m != nil {
		m.messagesReceived.WithLabelValues(fmt.Sprintf("0x%02x", typ)).Inc()
	}
}

func (m *Metrics) incDropped(src protocol.Source) {
	if m != nil {
		m.dropped.WithLabelValues(src.String()).Inc()
	}
}

func (m *Metrics) incError() {
	if m != nil {
		m.transportErrors.Inc()
	}
}
