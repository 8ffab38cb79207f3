// Package offshoreproxy is the internet-facing half of the link: one
// dispatcher per accepted ship connection, consuming framed requests and
// performing the origin fetch as plain HTTP, HTTPS, or a raw CONNECT
// tunnel.
package offshoreproxy

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"net"
	"strings"

	"github.com/offshorelink/shipproxy/pkg/errors"
	"github.com/offshorelink/shipproxy/pkg/frame"
	"github.com/offshorelink/shipproxy/pkg/httpmsg"
	"github.com/offshorelink/shipproxy/pkg/link"
	"github.com/offshorelink/shipproxy/pkg/metrics"
	"github.com/offshorelink/shipproxy/pkg/origindial"
	"github.com/offshorelink/shipproxy/pkg/timing"
)

// Dispatcher owns exactly one link's worth of state: whether it is
// currently tunneling, and to which upstream socket. All state transitions
// happen on the single goroutine started by Run, so tunnel needs no locking
// of its own.
type Dispatcher struct {
	l      *link.Link
	dialer *origindial.Dialer

	tunnel *tunnelState
}

// tunnelState is scoped to one CONNECT's lifetime. Each tunnel gets its own
// bytesCh so a pumpUpstream goroutine from a torn-down tunnel can never
// close or send on the channel belonging to whatever tunnel replaced it.
type tunnelState struct {
	upstream net.Conn
	bytesCh  chan []byte // upstream -> dispatcher, closed when upstream dies
}

// New returns a dispatcher bound to l, dialing origins through dialer.
func New(l *link.Link, dialer *origindial.Dialer) *Dispatcher {
	return &Dispatcher{l: l, dialer: dialer}
}

// Run is the dispatcher's event loop: it selects over frames arriving from
// the link and bytes arriving from a tunnel upstream, and returns once the
// link dies.
func (d *Dispatcher) Run() {
	defer d.teardownTunnel()

	for {
		select {
		case f, ok := <-d.l.Frames():
			if !ok {
				return
			}
			d.handleFrame(f)
		case chunk, ok := <-d.tunnelBytesCh():
			if !ok {
				// Upstream died; stop tunneling and resume message mode.
				d.teardownTunnel()
				continue
			}
			if err := d.l.Send(frame.Response, chunk); err != nil {
				return
			}
		}
	}
}

// tunnelBytesCh returns the current tunnel's bytesCh, or a nil channel
// (which blocks forever in select) when there is no tunnel, so the select
// above only ever wakes for real upstream data.
func (d *Dispatcher) tunnelBytesCh() chan []byte {
	if d.tunnel == nil {
		return nil
	}
	return d.tunnel.bytesCh
}

func (d *Dispatcher) handleFrame(f frame.Frame) {
	if d.tunnel != nil {
		// A zero-length payload is the ship's signal that the client side
		// of the tunnel closed; it carries no tunnel bytes of its own.
		if len(f.Payload) == 0 {
			d.teardownTunnel()
			return
		}
		if _, err := d.tunnel.upstream.Write(f.Payload); err != nil {
			d.teardownTunnel()
		} else {
			metrics.TunnelBytesTotal.WithLabelValues(metrics.DirectionClientToOrigin).Add(float64(len(f.Payload)))
		}
		return
	}

	req, err := httpmsg.ReadRequest(bufio.NewReader(bytes.NewReader(f.Payload)))
	if err != nil {
		d.respondError(httpmsg.NewSynthetic(500, "parse error: "+err.Error()), "parse_error")
		return
	}

	if req.Method == "CONNECT" {
		d.handleConnect(req)
		return
	}

	d.handlePlain(req)
}

func (d *Dispatcher) handleConnect(req *httpmsg.Request) {
	host, port, err := origindial.SplitHostPort(req.Target, 443)
	if err != nil {
		d.respondError(httpmsg.NewSynthetic(502, "bad CONNECT target: "+err.Error()), "upstream_error")
		return
	}

	timer := timing.NewTimer()
	conn, err := d.dialer.Connect(context.Background(), origindial.Config{Host: host, Port: port}, timer)
	if err != nil {
		d.respondError(httpmsg.NewSynthetic(502, "connect failed: "+err.Error()), "upstream_error")
		return
	}

	t := &tunnelState{upstream: conn, bytesCh: make(chan []byte, 16)}
	d.tunnel = t
	metrics.TunnelSessionsActive.Inc()
	go pumpUpstream(conn, t.bytesCh)

	if err := d.l.Send(frame.Response, []byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		d.teardownTunnel()
		return
	}
	metrics.TransactionsTotal.WithLabelValues("ok").Inc()
}

// pumpUpstream reads from the tunnel's upstream socket and republishes
// chunks on bytesCh until the socket dies, then closes bytesCh. bytesCh is
// owned by exactly one tunnelState, so closing it here can never race with
// a later tunnel's channel.
func pumpUpstream(conn net.Conn, bytesCh chan []byte) {
	buf := make([]byte, 32*1024)
	defer close(bytesCh)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			bytesCh <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (d *Dispatcher) teardownTunnel() {
	if d.tunnel == nil {
		return
	}
	d.tunnel.upstream.Close()
	d.tunnel = nil
	metrics.TunnelSessionsActive.Dec()
}

func (d *Dispatcher) handlePlain(req *httpmsg.Request) {
	host, port, tlsWanted, err := resolveTarget(req)
	if err != nil {
		d.respondError(httpmsg.NewSynthetic(500, "parse error: "+err.Error()), "parse_error")
		return
	}

	// Origin servers expect an origin-form request-target, not the
	// absolute-URI a forward proxy receives; rewrite it and make sure Host
	// survives the rewrite.
	if req.Headers.Get("Host") == "" {
		req.Headers.Set("Host", host)
	}
	req.Target = requestPath(req.Target)

	httpmsg.StripHopByHop(req.Headers)

	timer := timing.NewTimer()
	conn, err := d.dialer.Connect(context.Background(), origindial.Config{Host: host, Port: port, TLS: tlsWanted}, timer)
	if err != nil {
		d.respondError(httpmsg.NewSynthetic(502, "origin fetch failed: "+err.Error()), "upstream_error")
		return
	}
	defer conn.Close()

	if _, err := conn.Write(req.Serialize()); err != nil {
		d.respondError(httpmsg.NewSynthetic(502, "origin write failed: "+err.Error()), "upstream_error")
		return
	}

	timer.StartTTFB()
	resp, err := httpmsg.ReadResponse(bufio.NewReader(conn), req.Method)
	timer.EndTTFB()
	if err != nil {
		d.respondError(httpmsg.NewSynthetic(502, "origin read failed: "+err.Error()), "upstream_error")
		return
	}

	httpmsg.StripHopByHop(resp.Headers)
	httpmsg.SetContentLength(resp.Headers, len(resp.Body))

	if err := d.l.Send(frame.Response, resp.Serialize()); err != nil {
		return
	}
	metrics.TransactionsTotal.WithLabelValues("ok").Inc()
	log.Printf("offshore: %s %s -> %d (%v)", req.Method, req.Target, resp.StatusCode, timer.GetMetrics().TotalTime)
}

func (d *Dispatcher) respondError(resp *httpmsg.Response, outcome string) {
	metrics.TransactionsTotal.WithLabelValues(outcome).Inc()
	d.l.Send(frame.Response, resp.Serialize())
}

// resolveTarget extracts the origin host, port, and TLS requirement from a
// request line: absolute-URI (http:// or https://) or origin-form with a
// Host header.
func resolveTarget(req *httpmsg.Request) (host string, port int, tlsWanted bool, err error) {
	target := req.Target

	if strings.HasPrefix(target, "https://") {
		authority, _ := splitAuthority(target[len("https://"):])
		h, p, splitErr := origindial.SplitHostPort(authority, 443)
		return h, p, true, splitErr
	}
	if strings.HasPrefix(target, "http://") {
		authority, _ := splitAuthority(target[len("http://"):])
		h, p, splitErr := origindial.SplitHostPort(authority, 80)
		return h, p, false, splitErr
	}

	hostHeader := req.Headers.Get("Host")
	if hostHeader == "" {
		return "", 0, false, errors.NewValidationError("request has no absolute-URI and no Host header")
	}
	h, p, splitErr := origindial.SplitHostPort(hostHeader, 80)
	return h, p, false, splitErr
}

func splitAuthority(rest string) (authority, path string) {
	if idx := strings.IndexAny(rest, "/?"); idx >= 0 {
		return rest[:idx], rest[idx:]
	}
	return rest, "/"
}

// requestPath reduces an absolute-URI request-target to origin-form
// (path + optional query); origin-form targets are returned unchanged.
func requestPath(target string) string {
	for _, prefix := range []string{"http://", "https://"} {
		if strings.HasPrefix(target, prefix) {
			_, path := splitAuthority(target[len(prefix):])
			return path
		}
	}
	return target
}
