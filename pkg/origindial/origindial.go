// Package origindial dials origin servers and CONNECT targets on the
// offshore node: DNS resolve, TCP connect, optional TLS upgrade.
//
// This is a trimmed descendant of a client library's connection-pool-aware
// transport: the pool, SOCKS/HTTP proxy chaining, and HTTP/2 ALPN
// negotiation are gone, since the offshore performs exactly one origin
// fetch per transaction with no connection reuse and no further proxy
// chaining.
package origindial

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/offshorelink/shipproxy/pkg/constants"
	"github.com/offshorelink/shipproxy/pkg/errors"
	"github.com/offshorelink/shipproxy/pkg/timing"
	"github.com/offshorelink/shipproxy/pkg/tlsconfig"
	"golang.org/x/net/proxy"
)

// Config describes one dial.
type Config struct {
	Host        string
	Port        int
	TLS         bool // upgrade to TLS once the TCP connection is established
	SNI         string
	InsecureTLS bool
	ConnTimeout time.Duration
}

// Dialer dials origin servers. The zero value dials directly; Dialer can be
// overridden with any golang.org/x/net/proxy.Dialer to route origin
// connections through a further hop without reintroducing SOCKS-specific
// code into this package.
type Dialer struct {
	Dial proxy.Dialer
}

// New returns a Dialer that connects directly to origins.
func New() *Dialer {
	return &Dialer{Dial: proxy.Direct}
}

// Connect resolves and dials cfg.Host:cfg.Port, optionally upgrading to TLS,
// recording TCP and TLS timings on timer. Name resolution happens inside the
// TCP dial and is not timed separately.
func (d *Dialer) Connect(ctx context.Context, cfg Config, timer *timing.Timer) (net.Conn, error) {
	if cfg.Host == "" {
		return nil, errors.NewValidationError("origindial: host cannot be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errors.NewValidationError("origindial: port must be between 1 and 65535")
	}

	timeout := cfg.ConnTimeout
	if timeout <= 0 {
		timeout = constants.DefaultConnTimeout
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	conn, err := d.connectTCP(ctx, addr, timeout, timer)
	if err != nil {
		return nil, errors.NewConnectionError(cfg.Host, cfg.Port, err)
	}

	if !cfg.TLS {
		return conn, nil
	}

	tlsConn, err := d.upgradeTLS(ctx, conn, cfg, timeout, timer)
	if err != nil {
		conn.Close()
		return nil, errors.NewTLSError(cfg.Host, cfg.Port, err)
	}
	return tlsConn, nil
}

func (d *Dialer) connectTCP(ctx context.Context, addr string, timeout time.Duration, timer *timing.Timer) (net.Conn, error) {
	timer.StartTCP()
	defer timer.EndTCP()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := d.Dial
	if dialer == nil {
		dialer = proxy.Direct
	}
	if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
		return ctxDialer.DialContext(dialCtx, "tcp", addr)
	}
	return dialer.Dial("tcp", addr)
}

func (d *Dialer) upgradeTLS(ctx context.Context, conn net.Conn, cfg Config, timeout time.Duration, timer *timing.Timer) (net.Conn, error) {
	timer.StartTLS()
	defer timer.EndTLS()

	tlsCfg := &tls.Config{
		ServerName:         cfg.SNI,
		InsecureSkipVerify: cfg.InsecureTLS,
	}
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = cfg.Host
	}
	tlsconfig.ApplyVersionProfile(tlsCfg, tlsconfig.ProfileSecure)

	tlsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(tlsCtx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// SplitHostPort splits an authority-form target ("host:port" or bare
// "host"), applying defaultPort when no port is present — used for CONNECT
// targets (default 443) and absolute-URI Host headers.
func SplitHostPort(target string, defaultPort int) (host string, port int, err error) {
	h, p, splitErr := net.SplitHostPort(target)
	if splitErr != nil {
		return target, defaultPort, nil
	}
	portNum, convErr := strconv.Atoi(p)
	if convErr != nil {
		return "", 0, errors.NewValidationError("invalid port in target: " + target)
	}
	return h, portNum, nil
}
