// Package shipproxy is the client-facing half of the link: an HTTP proxy
// server whose single FIFO worker serializes every client transaction
// (regular request or CONNECT) over the one link to offshore.
package shipproxy

import (
	"bufio"
	"bytes"
	"context"
	"net"

	"github.com/offshorelink/shipproxy/pkg/errors"
	"github.com/offshorelink/shipproxy/pkg/frame"
	"github.com/offshorelink/shipproxy/pkg/httpmsg"
	"github.com/offshorelink/shipproxy/pkg/link"
	"github.com/offshorelink/shipproxy/pkg/metrics"
)

// transaction is one client request queued for the scheduler worker.
// Exactly one of respond (regular request) or connect (CONNECT) is set.
type transaction struct {
	method string // for logging only

	// Regular transaction fields.
	rawRequest []byte
	respond    func(*httpmsg.Response, error)

	// CONNECT transaction fields.
	connect func(dialer LinkSource) error
}

// LinkSource hands out the current ship<->offshore link, blocking while
// none exists. link.ShipDialer is the production implementation; tests
// substitute a stub that returns a pre-wired link.
type LinkSource interface {
	Get(ctx context.Context) (*link.Link, error)
}

// Scheduler is the ship's single-worker FIFO: it owns the dialer's current
// link for the duration of each queued item and never starts the next item
// until the current one is fully resolved.
type Scheduler struct {
	dialer LinkSource
	queue  chan *transaction
}

// NewScheduler starts the worker goroutine and returns a Scheduler ready to
// accept Submit/SubmitConnect calls.
func NewScheduler(dialer LinkSource) *Scheduler {
	s := &Scheduler{dialer: dialer, queue: make(chan *transaction, 64)}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	for txn := range s.queue {
		if txn.connect != nil {
			txn.connect(s.dialer)
			continue
		}
		s.processRegular(txn)
	}
}

// Submit enqueues a regular (non-CONNECT) transaction and blocks until its
// response is available or it fails. method is the client's original HTTP
// method, needed to parse the response correctly (HEAD carries no body).
func (s *Scheduler) Submit(method string, rawRequest []byte) (*httpmsg.Response, error) {
	done := make(chan struct{})
	var resp *httpmsg.Response
	var respErr error

	s.queue <- &transaction{
		method:     method,
		rawRequest: rawRequest,
		respond: func(r *httpmsg.Response, err error) {
			resp, respErr = r, err
			close(done)
		},
	}
	<-done
	return resp, respErr
}

func (s *Scheduler) processRegular(txn *transaction) {
	l, err := s.dialer.Get(context.Background())
	if err != nil {
		txn.respond(nil, err)
		metrics.TransactionsTotal.WithLabelValues("link_closed").Inc()
		return
	}

	if err := l.Send(frame.Request, txn.rawRequest); err != nil {
		txn.respond(nil, errors.NewLinkClosedError("send", err))
		metrics.TransactionsTotal.WithLabelValues("link_closed").Inc()
		return
	}

	f, ok := <-l.Frames()
	if !ok {
		txn.respond(nil, errors.NewLinkClosedError("await-response", l.Err()))
		metrics.TransactionsTotal.WithLabelValues("link_closed").Inc()
		return
	}

	resp, err := httpmsg.ReadResponse(bufio.NewReader(bytes.NewReader(f.Payload)), txn.method)
	if err != nil {
		txn.respond(nil, errors.NewParseError("parsing response frame", err))
		metrics.TransactionsTotal.WithLabelValues("parse_error").Inc()
		return
	}

	txn.respond(resp, nil)
	metrics.TransactionsTotal.WithLabelValues("ok").Inc()
}

// SubmitConnect enqueues a CONNECT tunnel entry. It blocks for the entire
// lifetime of the tunnel: the FIFO worker does not advance to the next
// queued item until runTunnel returns, which is exactly "queued items wait
// while tunnel mode is active".
func (s *Scheduler) SubmitConnect(target string, clientConn net.Conn, head []byte) {
	done := make(chan struct{})
	s.queue <- &transaction{
		connect: func(dialer LinkSource) error {
			defer close(done)
			runTunnel(dialer, target, clientConn, head)
			return nil
		},
	}
	<-done
}
