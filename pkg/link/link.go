// Package link owns the single ship<->offshore TCP connection: one decoder,
// one sender, and the reader goroutine that pumps socket bytes into the
// decoder and republishes complete frames on a channel.
package link

import (
	"net"

	"github.com/offshorelink/shipproxy/pkg/frame"
	"github.com/offshorelink/shipproxy/pkg/metrics"
)

// Link is the single TCP connection between ship and offshore. It owns
// exactly one Decoder and one Sender; Frames() is fed by a single reader
// goroutine started in New.
type Link struct {
	conn    net.Conn
	sender  *frame.Sender
	frames  chan frame.Frame
	closed  chan struct{}
	closeMu chan struct{} // acts as a one-shot latch for Close
	err     error
}

// New wraps conn in a Link: it starts the reader goroutine immediately and
// returns once the Link is ready to Send and to yield frames from Frames().
func New(conn net.Conn, maxFramePayload uint32) *Link {
	l := &Link{
		conn:    conn,
		sender:  frame.NewSender(conn),
		frames:  make(chan frame.Frame, 16),
		closed:  make(chan struct{}),
		closeMu: make(chan struct{}, 1),
	}
	l.closeMu <- struct{}{}
	go l.readLoop(maxFramePayload)
	return l
}

func (l *Link) readLoop(maxFramePayload uint32) {
	dec := frame.NewDecoder(maxFramePayload)
	buf := make([]byte, 32*1024)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			frames, decErr := dec.Push(buf[:n])
			for _, f := range frames {
				dir := metrics.DirectionIn
				metrics.FramesTotal.WithLabelValues(f.Type.String(), dir).Inc()
				select {
				case l.frames <- f:
				case <-l.closed:
					return
				}
			}
			if decErr != nil {
				l.closeWithErr(decErr)
				return
			}
		}
		if err != nil {
			l.closeWithErr(err)
			return
		}
	}
}

// Frames returns the channel of frames decoded off this link, in arrival
// order. It is closed when the link dies.
func (l *Link) Frames() <-chan frame.Frame {
	return l.frames
}

// Send writes one frame onto the link, serialized with every other Send on
// the same Link.
func (l *Link) Send(typ frame.Type, payload []byte) error {
	err := l.sender.Send(typ, payload)
	if err == nil {
		metrics.FramesTotal.WithLabelValues(typ.String(), metrics.DirectionOut).Inc()
	}
	return err
}

// Done is closed once the link has torn down (read error, decode error, or
// explicit Close).
func (l *Link) Done() <-chan struct{} {
	return l.closed
}

// Err returns the reason the link died, once Done is closed.
func (l *Link) Err() error {
	return l.err
}

// Close tears the link down: closes the underlying connection, stops the
// sender, and closes Frames(). Safe to call more than once.
func (l *Link) Close() {
	l.closeWithErr(nil)
}

func (l *Link) closeWithErr(err error) {
	select {
	case <-l.closeMu:
	default:
		return
	}
	l.err = err
	close(l.closed)
	l.conn.Close()
	l.sender.Close()
	close(l.frames)
}

// RawConn exposes the underlying connection for the rare cases that need to
// set deadlines directly; callers must not perform unsynchronized reads or
// writes on it outside of this package.
func (l *Link) RawConn() net.Conn {
	return l.conn
}
