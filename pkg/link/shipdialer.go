package link

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/offshorelink/shipproxy/pkg/errors"
	"github.com/offshorelink/shipproxy/pkg/metrics"
)

// ShipDialer maintains the ship's single outbound connection to the
// offshore node, reconnecting with a fixed backoff forever once the link
// drops.
type ShipDialer struct {
	addr            string
	maxFramePayload uint32
	reconnectDelay  time.Duration
	pendingTimeout  time.Duration

	mu      sync.Mutex
	current *Link
	ready   chan struct{} // closed and replaced whenever current changes
}

// NewShipDialer starts connecting to addr in the background and returns
// immediately; callers obtain the live link via Current.
func NewShipDialer(addr string, maxFramePayload uint32, reconnectDelay, pendingTimeout time.Duration) *ShipDialer {
	d := &ShipDialer{
		addr:            addr,
		maxFramePayload: maxFramePayload,
		reconnectDelay:  reconnectDelay,
		pendingTimeout:  pendingTimeout,
		ready:           make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *ShipDialer) run() {
	for {
		conn, err := net.Dial("tcp", d.addr)
		if err != nil {
			log.Printf("ship: dial %s failed: %v; retrying in %v", d.addr, err, d.reconnectDelay)
			metrics.ShipLinksActive.Set(0)
			time.Sleep(d.reconnectDelay)
			metrics.LinkReconnectsTotal.Inc()
			continue
		}

		l := New(conn, d.maxFramePayload)
		d.setCurrent(l)
		metrics.ShipLinksActive.Set(1)
		log.Printf("ship: link established to %s", d.addr)

		<-l.Done()
		log.Printf("ship: link to %s lost: %v", d.addr, l.Err())
		d.setCurrent(nil)
		metrics.ShipLinksActive.Set(0)
		metrics.LinkReconnectsTotal.Inc()
		time.Sleep(d.reconnectDelay)
	}
}

func (d *ShipDialer) setCurrent(l *Link) {
	d.mu.Lock()
	d.current = l
	old := d.ready
	d.ready = make(chan struct{})
	d.mu.Unlock()
	close(old)
}

// Current returns the live link immediately, if one exists.
func (d *ShipDialer) Current() *Link {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Get blocks until a link exists or PENDING_TIMEOUT_MS elapses, whichever
// comes first, returning an Upstream error (errors.ErrorTypeUpstream) on
// timeout.
func (d *ShipDialer) Get(ctx context.Context) (*Link, error) {
	deadline := time.Now().Add(d.pendingTimeout)
	for {
		d.mu.Lock()
		l := d.current
		ready := d.ready
		d.mu.Unlock()

		if l != nil {
			return l, nil
		}

		timeout := time.Until(deadline)
		if timeout <= 0 {
			return nil, errors.NewUpstreamError(d.addr, errors.NewValidationError("no link to offshore"))
		}

		timer := time.NewTimer(timeout)
		select {
		case <-ready:
			timer.Stop()
		case <-timer.C:
			return nil, errors.NewUpstreamError(d.addr, errors.NewValidationError("no link to offshore"))
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}
