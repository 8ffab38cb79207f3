package frame

import (
	"io"
	"sync"

	"github.com/offshorelink/shipproxy/pkg/errors"
)

// sendJob is one pending write, queued by Send and drained by the writer
// loop. result carries the outcome back to the caller that enqueued it.
type sendJob struct {
	typ     Type
	payload []byte
	result  chan error
}

// Sender serializes all writes onto one net.Conn (or any io.Writer): at
// most one write is ever in flight, so frames from concurrent Send callers
// are never interleaved on the wire. Send's completion means the frame's
// bytes have been handed off to w — for a net.Conn that means the Write
// call returned, past any short-write/backpressure loop.
type Sender struct {
	w      io.Writer
	jobs   chan sendJob
	done   chan struct{}
	once   sync.Once
	closed chan struct{}
	mu     sync.Mutex
	err    error
}

// NewSender starts a Sender's writer goroutine over w. Call Close when the
// underlying connection is gone; any sends still queued or in flight fail
// with LinkClosed.
func NewSender(w io.Writer) *Sender {
	s := &Sender{
		w:      w,
		jobs:   make(chan sendJob, 64),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sender) run() {
	defer close(s.done)
	for {
		select {
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			job.result <- s.writeOne(job.typ, job.payload)
		case <-s.closed:
			s.drain()
			return
		}
	}
}

// drain fails every job still sitting in the channel once the sender has
// been closed, so no caller blocks forever on a dead link.
func (s *Sender) drain() {
	for {
		select {
		case job := <-s.jobs:
			job.result <- s.currentErr()
		default:
			return
		}
	}
}

func (s *Sender) writeOne(typ Type, payload []byte) error {
	buf, err := Encode(typ, payload)
	if err != nil {
		return err
	}
	if err := writeAll(s.w, buf); err != nil {
		wrapped := errors.NewLinkClosedError("send", err)
		s.fail(wrapped)
		return wrapped
	}
	return nil
}

func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if n > 0 {
			buf = buf[n:]
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

func (s *Sender) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Sender) currentErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return errors.NewLinkClosedError("send", nil)
}

// Send enqueues a frame and blocks until it has been written (or the
// sender is closed / the write fails), returning the outcome.
func (s *Sender) Send(typ Type, payload []byte) error {
	result := make(chan error, 1)
	select {
	case s.jobs <- sendJob{typ: typ, payload: payload, result: result}:
	case <-s.closed:
		return s.currentErr()
	}
	select {
	case err := <-result:
		return err
	case <-s.closed:
		return s.currentErr()
	}
}

// Close stops the writer loop. Safe to call more than once.
func (s *Sender) Close() {
	s.once.Do(func() {
		close(s.closed)
	})
	<-s.done
}
