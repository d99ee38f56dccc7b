package bus

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "matchday_chat"
	metricsSubsystem = "bus"
)

// Metrics carries the connection-level counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connects          prometheus.Counter
	reconnects        prometheus.Counter
	handshakeTimeouts prometheus.Counter
	transportErrors   prometheus.Counter
	framesReceived    prometheus.Counter
	sends             prometheus.Counter
	sendsRejected     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}
	return &Metrics{
		connects:          counter("connects_total", "Successful bus handshakes."),
		reconnects:        counter("reconnects_total", "Reconnect attempts after an established connection dropped."),
		handshakeTimeouts: counter("handshake_timeouts_total", "CONNECT frames that were never acknowledged."),
		transportErrors:   counter("transport_errors_total", "Socket failures after a successful connect."),
		framesReceived:    counter("frames_received_total", "MESSAGE frames delivered by the server."),
		sends:             counter("sends_total", "SEND frames published."),
		sendsRejected:     counter("sends_rejected_total", "Sends refused while not connected or rate limited."),
	}
}

func (m *Metrics) incConnects() {
	if m != nil {
		m.connects.Inc()
	}
}

func (m *Metrics) incReconnects() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) incHandshakeTimeouts() {
	if m != nil {
		m.handshakeTimeouts.Inc()
	}
}

func (m *Metrics) incTransportErrors() {
	if m != nil {
		m.transportErrors.Inc()
	}
}

func (m *Metrics) incFramesReceived() {
	if m != nil {
		m.framesReceived.Inc()
	}
}

func (m *Metrics) incSends() {
	if m != nil {
		m.sends.Inc()
	}
}

func (m *Metrics) incSendsRejected() {
	if m != nil {
		m.sendsRejected.Inc()
	}
}
