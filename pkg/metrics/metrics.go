// Package metrics exposes Prometheus counters and gauges for link
// lifecycle, frame traffic, transaction outcomes, and tunnel sessions, in
// the promauto/promhttp style used elsewhere in the example pack's network
// daemons.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shipproxy"

var (
	// ShipLinksActive is 1 while the ship holds a live link to offshore, 0
	// otherwise (there is ever at most one).
	ShipLinksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ship_links_active",
		Help:      "Whether the ship currently has a live link to the offshore node (0 or 1).",
	})

	// OffshoreLinksActive tracks how many concurrent ship connections the
	// offshore is currently serving.
	OffshoreLinksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "offshore_links_active",
		Help:      "Number of links currently accepted by the offshore listener.",
	})

	// LinkReconnectsTotal counts ship-side reconnect attempts.
	LinkReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_reconnects_total",
		Help:      "Total number of times the ship has reconnected to the offshore node.",
	})

	// FramesTotal counts frames sent or received, by type and direction.
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_frames_total",
		Help:      "Total frames exchanged over the link, by frame type and direction.",
	}, []string{"type", "direction"})

	// TransactionsTotal counts completed ship-side transactions by outcome.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Completed client transactions by outcome.",
	}, []string{"outcome"})

	// TunnelSessionsActive tracks concurrently open CONNECT tunnels.
	TunnelSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tunnel_sessions_active",
		Help:      "Number of CONNECT tunnels currently open.",
	})

	// TunnelBytesTotal counts tunneled bytes by direction.
	TunnelBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tunnel_bytes_total",
		Help:      "Bytes forwarded through CONNECT tunnels, by direction.",
	}, []string{"direction"})
)

// Direction labels for FramesTotal / TunnelBytesTotal.
const (
	DirectionOut            = "out"
	DirectionIn             = "in"
	DirectionClientToOrigin = "client_to_origin"
	DirectionOriginToClient = "origin_to_client"
)

// Serve mounts /metrics on addr and blocks until the listener fails. Callers
// typically run it in its own goroutine; an empty addr means metrics are
// disabled and Serve returns nil immediately.
func Serve(addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
