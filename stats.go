package lidgren

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Stats holds this Peer's traffic and connection counters as
// VictoriaMetrics/metrics primitives, exposed via WritePrometheus the
// same way pkg/atlas exposes its master-server metrics (spec.md §9
// "Observability").
type Stats struct {
	set *metrics.Set

	datagramsSent     *metrics.Counter
	datagramsReceived *metrics.Counter
	bytesSent         *metrics.Counter
	resends           *metrics.Counter
	connectionsActive *metrics.Gauge
}

// NewStats constructs an isolated metrics set, so multiple Peers in
// the same process do not collide on global Prometheus registration.
func NewStats() *Stats {
	s := &Stats{set: metrics.NewSet()}
	s.datagramsSent = s.set.NewCounter("lidgren_datagrams_sent_total")
	s.datagramsReceived = s.set.NewCounter("lidgren_datagrams_received_total")
	s.bytesSent = s.set.NewCounter("lidgren_bytes_sent_total")
	s.resends = s.set.NewCounter("lidgren_resends_total")
	return s
}

// BindConnectionGauge registers a gauge that reports the peer's
// current live-connection count; called once from Peer.Start.
func (s *Stats) bindConnectionGauge(count func() float64) {
	s.connectionsActive = s.set.NewGauge("lidgren_connections_active", count)
}

// WritePrometheus writes this peer's metrics in Prometheus exposition
// format, suitable for mounting under /metrics (spec.md §9).
func (p *Peer) WritePrometheus(w io.Writer) {
	p.stats.set.WritePrometheus(w)
}
