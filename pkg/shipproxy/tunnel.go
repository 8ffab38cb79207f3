package shipproxy

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"net"
	"net/textproto"

	"github.com/offshorelink/shipproxy/pkg/frame"
	"github.com/offshorelink/shipproxy/pkg/httpmsg"
	"github.com/offshorelink/shipproxy/pkg/link"
	"github.com/offshorelink/shipproxy/pkg/metrics"
)

// runTunnel performs one CONNECT's entire lifecycle: send the CONNECT
// request, validate the response, reply to the client, and forward bytes
// in both directions until either side closes. It owns clientConn and
// always closes it before returning.
func runTunnel(dialer LinkSource, target string, clientConn net.Conn, head []byte) {
	defer clientConn.Close()

	req := &httpmsg.Request{Method: "CONNECT", Target: target, Version: "HTTP/1.1"}
	req.Headers = make(textproto.MIMEHeader)
	req.Headers.Set("Host", target)

	l, err := dialer.Get(context.Background())
	if err != nil {
		writeClientError(clientConn, 502, "upstream unavailable: "+err.Error())
		return
	}

	if err := l.Send(frame.Request, req.Serialize()); err != nil {
		writeClientError(clientConn, 502, "link closed: "+err.Error())
		return
	}

	f, ok := <-l.Frames()
	if !ok {
		writeClientError(clientConn, 502, "link closed before CONNECT response")
		return
	}

	resp, err := httpmsg.ReadResponse(bufio.NewReader(bytes.NewReader(f.Payload)), "CONNECT")
	if err != nil || !httpmsg.IsSuccessfulConnect(resp) {
		// Per design, a failed CONNECT forwards the offshore's response
		// verbatim to the client rather than a generic 502.
		clientConn.Write(f.Payload)
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	if len(head) > 0 {
		if err := l.Send(frame.Request, head); err != nil {
			return
		}
	}

	metrics.TunnelSessionsActive.Inc()
	defer metrics.TunnelSessionsActive.Dec()

	forward(l, clientConn)
}

// forward pumps bytes in both directions between clientConn and l until
// either side closes: client->upstream via a reader goroutine feeding
// REQUEST frames, link RESPONSE frames written straight to the client. When
// the client closes, a zero-length REQUEST frame tells the offshore to tear
// its tunnel down and resume message mode; ordinary tunnel chunks are never
// empty, so this sentinel cannot collide with real data.
func forward(l *link.Link, clientConn net.Conn) {
	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		buf := make([]byte, 32*1024)
		for {
			n, err := clientConn.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if sendErr := l.Send(frame.Request, chunk); sendErr != nil {
					return
				}
				metrics.TunnelBytesTotal.WithLabelValues(metrics.DirectionClientToOrigin).Add(float64(n))
			}
			if err != nil {
				l.Send(frame.Request, nil)
				return
			}
		}
	}()

	for {
		select {
		case <-clientDone:
			return
		case f, ok := <-l.Frames():
			if !ok {
				return
			}
			if _, err := clientConn.Write(f.Payload); err != nil {
				return
			}
			metrics.TunnelBytesTotal.WithLabelValues(metrics.DirectionOriginToClient).Add(float64(len(f.Payload)))
		}
	}
}

func writeClientError(conn net.Conn, status int, message string) {
	resp := httpmsg.NewSynthetic(status, message)
	if _, err := conn.Write(resp.Serialize()); err != nil {
		log.Printf("ship: error writing CONNECT failure to client: %v", err)
	}
}
