package integration

import (
	"bufio"
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/offshorelink/shipproxy/pkg/frame"
	"github.com/offshorelink/shipproxy/pkg/httpmsg"
	"github.com/offshorelink/shipproxy/pkg/link"
	"github.com/offshorelink/shipproxy/pkg/shipproxy"
)

// fakeTunnelOffshore accepts exactly one CONNECT, replies 200, then echoes
// every byte it receives back as RESPONSE frames until the link dies.
func fakeTunnelOffshore(t *testing.T, l *link.Link) {
	req, ok := <-l.Frames()
	if !ok {
		t.Error("fakeTunnelOffshore: link closed before CONNECT arrived")
		return
	}
	parsed, err := httpmsg.ReadRequest(bufio.NewReader(bytes.NewReader(req.Payload)))
	if err != nil || parsed.Method != "CONNECT" {
		t.Errorf("fakeTunnelOffshore: expected CONNECT, got %+v err=%v", parsed, err)
		return
	}

	resp := []byte("HTTP/1.1 200 Connection Established\r\n\r\n")
	if err := l.Send(frame.Response, resp); err != nil {
		t.Errorf("fakeTunnelOffshore: send 200 failed: %v", err)
		return
	}

	for f := range l.Frames() {
		if err := l.Send(frame.Response, f.Payload); err != nil {
			return
		}
	}
}

func TestConnectTunnelEchoesAndReleasesLink(t *testing.T) {
	shipSide, offshoreSide := newLinkedPair(t, 0)
	defer shipSide.Close()
	defer offshoreSide.Close()

	go fakeTunnelOffshore(t, offshoreSide)

	sched := shipproxy.NewScheduler(fixedLinkSource{l: shipSide})

	clientEnd, proxyEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.SubmitConnect("example.invalid:443", proxyEnd, nil)
	}()

	reader := bufio.NewReader(clientEnd)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading CONNECT response failed: %v", err)
	}
	if line != "HTTP/1.1 200 Connection Established\r\n" {
		t.Fatalf("unexpected CONNECT response line: %q", line)
	}
	// Consume the blank line that terminates the response headers.
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("reading trailing CRLF failed: %v", err)
	}

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if _, err := clientEnd.Write(payload); err != nil {
		t.Fatalf("writing tunnel payload failed: %v", err)
	}

	echoed := make([]byte, len(payload))
	if _, err := readFullInt(reader, echoed); err != nil {
		t.Fatalf("reading echoed payload failed: %v", err)
	}
	if !bytes.Equal(echoed, payload) {
		t.Fatalf("echo mismatch: got %x want %x", echoed, payload)
	}

	clientEnd.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SubmitConnect did not return after client closed the tunnel")
	}
}

func readFullInt(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
