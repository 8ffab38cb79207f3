package unit

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/offshorelink/shipproxy/pkg/httpmsg"
)

func TestReadRequestBasicGET(t *testing.T) {
	raw := "GET http://example.invalid/ HTTP/1.1\r\nHost: example.invalid\r\n\r\n"
	req, err := httpmsg.ReadRequest(bufio.NewReader(bytes.NewBufferString(raw)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req.Method != "GET" || req.Target != "http://example.invalid/" || req.Version != "HTTP/1.1" {
		t.Fatalf("unexpected request line fields: %+v", req)
	}
	if req.Headers.Get("Host") != "example.invalid" {
		t.Fatalf("expected Host header, got %q", req.Headers.Get("Host"))
	}
	if len(req.Body) != 0 {
		t.Fatalf("expected empty body, got %q", req.Body)
	}
}

func TestReadRequestWithBody(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\nHost: example.invalid\r\nContent-Length: 5\r\n\r\nhello"
	req, err := httpmsg.ReadRequest(bufio.NewReader(bytes.NewBufferString(raw)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if string(req.Body) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", req.Body)
	}
}

func TestReadRequestConnectHasNoBody(t *testing.T) {
	raw := "CONNECT example.invalid:443 HTTP/1.1\r\nHost: example.invalid:443\r\n\r\n"
	req, err := httpmsg.ReadRequest(bufio.NewReader(bytes.NewBufferString(raw)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req.Method != "CONNECT" || req.Target != "example.invalid:443" {
		t.Fatalf("unexpected CONNECT parse: %+v", req)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	raw := "GET /path?x=1 HTTP/1.1\r\nHost: example.invalid\r\nAccept: text/html\r\n\r\n"
	req, err := httpmsg.ReadRequest(bufio.NewReader(bytes.NewBufferString(raw)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	again, err := httpmsg.ReadRequest(bufio.NewReader(bytes.NewBuffer(req.Serialize())))
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if again.Method != req.Method || again.Target != req.Target {
		t.Fatalf("round-trip mismatch: %+v vs %+v", again, req)
	}
}

func TestStripHopByHop(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nProxy-Connection: keep-alive\r\nConnection: keep-alive\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n"
	req, err := httpmsg.ReadRequest(bufio.NewReader(bytes.NewBufferString(raw)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	httpmsg.StripHopByHop(req.Headers)
	for _, h := range []string{"Proxy-Connection", "Connection", "Transfer-Encoding"} {
		if req.Headers.Get(h) != "" {
			t.Errorf("expected %s to be stripped", h)
		}
	}
}

func TestReadResponseBasic(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	resp, err := httpmsg.ReadResponse(bufio.NewReader(bytes.NewBufferString(raw)), "GET")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "hello" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !httpmsg.IsSuccessfulConnect(resp) {
		t.Error("expected 200 to be a successful CONNECT response")
	}
}

func TestReadResponseChunked(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	resp, err := httpmsg.ReadResponse(bufio.NewReader(bytes.NewBufferString(raw)), "GET")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if string(resp.Body) != "hello world" {
		t.Fatalf("expected dechunked body %q, got %q", "hello world", resp.Body)
	}
}

func TestSetContentLengthRewritesAndDropsChunked(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n"
	resp, err := httpmsg.ReadResponse(bufio.NewReader(bytes.NewBufferString(raw)), "GET")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	resp.Body = []byte("hello")
	httpmsg.SetContentLength(resp.Headers, len(resp.Body))

	if resp.Headers.Get("Transfer-Encoding") != "" {
		t.Error("expected Transfer-Encoding to be removed")
	}
	if resp.Headers.Get("Content-Length") != "5" {
		t.Errorf("expected Content-Length 5, got %q", resp.Headers.Get("Content-Length"))
	}

	wire := resp.Serialize()
	again, err := httpmsg.ReadResponse(bufio.NewReader(bytes.NewBuffer(wire)), "GET")
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if string(again.Body) != "hello" {
		t.Fatalf("expected body %q after round trip, got %q", "hello", again.Body)
	}
}

func TestSyntheticBadGateway(t *testing.T) {
	resp := httpmsg.NewSynthetic(502, "connection refused")
	if resp.StatusCode != 502 {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if resp.Headers.Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Errorf("unexpected content type: %q", resp.Headers.Get("Content-Type"))
	}
	wire := resp.Serialize()
	again, err := httpmsg.ReadResponse(bufio.NewReader(bytes.NewBuffer(wire)), "GET")
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if string(again.Body) != "connection refused" {
		t.Fatalf("unexpected body: %q", again.Body)
	}
}
