package shipproxy

import (
	"io"
	"net/http"
	"net/textproto"

	"github.com/offshorelink/shipproxy/pkg/buffer"
	"github.com/offshorelink/shipproxy/pkg/constants"
	"github.com/offshorelink/shipproxy/pkg/errors"
	"github.com/offshorelink/shipproxy/pkg/httpmsg"
)

// Server is the ship's client-facing HTTP proxy: a net/http.Server whose
// handler either queues a regular transaction on the Scheduler or hijacks
// the connection for a CONNECT tunnel.
type Server struct {
	scheduler *Scheduler
	http      *http.Server
}

// NewServer wires a Scheduler (backed by dialer) into an HTTP proxy server
// listening on addr.
func NewServer(addr string, dialer LinkSource) *Server {
	s := &Server{scheduler: NewScheduler(dialer)}
	s.http = &http.Server{
		Addr:    addr,
		Handler: http.HandlerFunc(s.handle),
	}
	return s
}

// ListenAndServe blocks, serving client proxy connections until the server
// is closed or fails to bind.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.http.Close()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	s.handleRegular(w, r)
}

// clientError classifies a failure reading from the client's own connection
// as a ClientError and returns 400, matching the ship's documented
// 400-on-malformed-input / 502-on-upstream-failure split.
func clientError(w http.ResponseWriter, op string, cause error) {
	err := errors.NewClientError(op+" failed", cause)
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) handleRegular(w http.ResponseWriter, r *http.Request) {
	body := buffer.New(constants.DefaultBodyMemLimit)
	defer body.Close()

	if _, err := io.Copy(body, r.Body); err != nil {
		clientError(w, "reading request body", err)
		return
	}
	rc, err := body.Reader()
	if err != nil {
		clientError(w, "buffering request body", err)
		return
	}
	defer rc.Close()
	bodyBytes, err := io.ReadAll(rc)
	if err != nil {
		clientError(w, "reading request body", err)
		return
	}

	target := r.RequestURI
	if target == "" {
		target = r.URL.String()
	}

	headers := make(textproto.MIMEHeader)
	for k, vs := range r.Header {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	if headers.Get("Host") == "" {
		headers.Set("Host", r.Host)
	}

	req := &httpmsg.Request{
		Method:  r.Method,
		Target:  target,
		Version: "HTTP/1.1",
		Headers: headers,
		Body:    bodyBytes,
	}
	httpmsg.StripHopByHop(req.Headers)
	httpmsg.SetContentLength(req.Headers, len(req.Body))

	resp, err := s.scheduler.Submit(r.Method, req.Serialize())
	if err != nil {
		http.Error(w, "bad gateway: "+err.Error(), http.StatusBadGateway)
		return
	}

	for k, vs := range resp.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	conn, rw, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "hijack failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var head []byte
	if rw.Reader.Buffered() > 0 {
		head = make([]byte, rw.Reader.Buffered())
		if _, err := io.ReadFull(rw.Reader, head); err != nil {
			conn.Close()
			return
		}
	}

	target := r.RequestURI
	if target == "" {
		target = r.Host
	}

	s.scheduler.SubmitConnect(target, conn, head)
}
