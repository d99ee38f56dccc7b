package chat

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts timeline outcomes. A nil *Metrics records nothing.
type Metrics struct {
	appended          prometheus.Counter
	duplicatesDropped prometheus.Counter
	malformedDropped  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchday_chat",
			Subsystem: "timeline",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}
	return &Metrics{
		appended:          counter("messages_appended_total", "Messages appended to a timeline."),
		duplicatesDropped: counter("duplicates_dropped_total", "Redelivered payloads discarded by the ID check."),
		malformedDropped:  counter("malformed_dropped_total", "Bus payloads rejected at the parse boundary."),
	}
}

func (m *Metrics) incAppended() {
	if m != nil {
		m.appended.Inc()
	}
}

func (m *Metrics) incDuplicates() {
	if m != nil {
		m.duplicatesDropped.Inc()
	}
}

func (m *Metrics) incMalformed() {
	if m != nil {
		m.malformedDropped.Inc()
	}
}
