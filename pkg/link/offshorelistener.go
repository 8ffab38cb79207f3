package link

import (
	"log"
	"net"

	"github.com/offshorelink/shipproxy/pkg/metrics"
)

// OffshoreListener accepts ship connections and hands each its own Link. The
// offshore trusts exactly one ship at a time per accepted socket; nothing
// here multiplexes beyond what Link itself does.
type OffshoreListener struct {
	ln              net.Listener
	maxFramePayload uint32
}

// Listen binds addr and returns a listener ready to Accept.
func Listen(addr string, maxFramePayload uint32) (*OffshoreListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &OffshoreListener{ln: ln, maxFramePayload: maxFramePayload}, nil
}

// Accept blocks for the next incoming ship connection and wraps it in a
// Link. Callers are expected to loop on Accept and run one dispatcher per
// returned Link.
func (o *OffshoreListener) Accept() (*Link, error) {
	conn, err := o.ln.Accept()
	if err != nil {
		return nil, err
	}
	metrics.OffshoreLinksActive.Inc()
	l := New(conn, o.maxFramePayload)
	go func() {
		<-l.Done()
		metrics.OffshoreLinksActive.Dec()
		log.Printf("offshore: link from %s closed: %v", conn.RemoteAddr(), l.Err())
	}()
	return l, nil
}

// Addr returns the bound listening address.
func (o *OffshoreListener) Addr() net.Addr {
	return o.ln.Addr()
}

// Close stops accepting new connections.
func (o *OffshoreListener) Close() error {
	return o.ln.Close()
}
