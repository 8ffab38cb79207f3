// Command ship runs the client-facing proxy node: it accepts local HTTP
// proxy traffic and forwards it over one persistent link to an offshore
// node.
package main

import (
	"log"
	"os"

	"github.com/offshorelink/shipproxy/internal/config"
	"github.com/offshorelink/shipproxy/pkg/link"
	"github.com/offshorelink/shipproxy/pkg/metrics"
	"github.com/offshorelink/shipproxy/pkg/shipproxy"
)

func main() {
	cfg, err := config.LoadShip()
	if err != nil {
		log.Printf("ship: %v", err)
		os.Exit(1)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Printf("ship: metrics server stopped: %v", err)
			}
		}()
	}

	dialer := link.NewShipDialer(cfg.ShipAddr(), cfg.MaxFrameBytes, cfg.ReconnectDelay, cfg.PendingTimeout)

	srv := shipproxy.NewServer(cfg.ProxyAddr(), dialer)
	log.Printf("ship: proxy listening on %s, offshore target %s", cfg.ProxyAddr(), cfg.ShipAddr())
	if err := srv.ListenAndServe(); err != nil {
		log.Printf("ship: proxy server failed: %v", err)
		os.Exit(1)
	}
}
