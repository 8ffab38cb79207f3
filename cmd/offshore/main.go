// Command offshore runs the internet-facing proxy node: it accepts one
// link per ship connection and executes framed requests against origin
// servers.
package main

import (
	"log"
	"os"

	"github.com/offshorelink/shipproxy/internal/config"
	"github.com/offshorelink/shipproxy/pkg/link"
	"github.com/offshorelink/shipproxy/pkg/metrics"
	"github.com/offshorelink/shipproxy/pkg/offshoreproxy"
	"github.com/offshorelink/shipproxy/pkg/origindial"
)

func main() {
	cfg, err := config.LoadOffshore()
	if err != nil {
		log.Printf("offshore: %v", err)
		os.Exit(1)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Printf("offshore: metrics server stopped: %v", err)
			}
		}()
	}

	ln, err := link.Listen(cfg.ListenAddr(), cfg.MaxFrameBytes)
	if err != nil {
		log.Printf("offshore: failed to bind %s: %v", cfg.ListenAddr(), err)
		os.Exit(1)
	}
	defer ln.Close()

	dialer := origindial.New()

	log.Printf("offshore: listening on %s", cfg.ListenAddr())
	for {
		l, err := ln.Accept()
		if err != nil {
			log.Printf("offshore: accept failed: %v", err)
			os.Exit(1)
		}
		log.Printf("offshore: accepted link from %s", l.RawConn().RemoteAddr())
		go offshoreproxy.New(l, dialer).Run()
	}
}
