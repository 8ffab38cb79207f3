// Package httpmsg parses and serializes the embedded HTTP/1.1 messages that
// travel inside frame payloads in message mode: canonical wire form,
// start-line + CRLF headers + blank line + optional body.
//
// Parsing is done by hand with bufio/textproto, in the style of a raw HTTP
// client that must preserve the bytes actually on the wire rather than
// normalize through a higher-level HTTP stack.
package httpmsg

import (
	"bufio"
	"bytes"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/offshorelink/shipproxy/pkg/buffer"
	"github.com/offshorelink/shipproxy/pkg/constants"
	"github.com/offshorelink/shipproxy/pkg/errors"
)

// Request is a parsed embedded HTTP/1.1 request.
type Request struct {
	Method  string
	Target  string // request-target: absolute-URI, origin-form, or authority-form (CONNECT)
	Version string
	Headers textproto.MIMEHeader
	Body    []byte
}

// ReadRequest parses one HTTP/1.1 request from r: request line, headers,
// and (for non-CONNECT methods) a body sized by Content-Length.
// Transfer-Encoding: chunked bodies are also supported since a client may
// legally send one to the ship's local proxy server.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, errors.NewParseError("reading request line", err)
	}

	method, target, version, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	headers, err := readHeaders(r)
	if err != nil {
		return nil, err
	}

	req := &Request{Method: method, Target: target, Version: version, Headers: headers}

	if method == "CONNECT" {
		return req, nil
	}

	body, err := readBody(r, headers, method, 0)
	if err != nil {
		return nil, err
	}
	req.Body = body
	return req, nil
}

func parseRequestLine(line string) (method, target, version string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", errors.NewParseError("malformed request line: "+line, nil)
	}
	return parts[0], parts[1], parts[2], nil
}

// Serialize renders req back into canonical HTTP/1.1 wire bytes: the same
// form the ship sends across the link and the offshore forwards to origin.
func (req *Request) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteString(req.Method)
	buf.WriteByte(' ')
	buf.WriteString(req.Target)
	buf.WriteByte(' ')
	buf.WriteString(req.Version)
	buf.WriteString("\r\n")
	writeHeaders(&buf, req.Headers)
	buf.WriteString("\r\n")
	buf.Write(req.Body)
	return buf.Bytes()
}

func writeHeaders(buf *bytes.Buffer, headers textproto.MIMEHeader) {
	for key, values := range headers {
		for _, v := range values {
			buf.WriteString(key)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString("\r\n")
		}
	}
}

// StripHopByHop removes the headers that must never be forwarded past one
// hop of the proxy chain: Proxy-Connection, Connection, Transfer-Encoding.
func StripHopByHop(h textproto.MIMEHeader) {
	h.Del("Proxy-Connection")
	h.Del("Connection")
	h.Del("Transfer-Encoding")
}

// SetContentLength overwrites (or adds) the Content-Length header to match
// n, and removes any Transfer-Encoding — the link only ever carries
// length-known blobs, never chunked framing.
func SetContentLength(h textproto.MIMEHeader, n int) {
	h.Del("Transfer-Encoding")
	h.Set("Content-Length", strconv.Itoa(n))
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) >= 2 && line[len(line)-2:] == "\r\n" {
		return line[:len(line)-2], nil
	}
	return strings.TrimRight(line, "\n"), nil
}

func readHeaders(r *bufio.Reader) (textproto.MIMEHeader, error) {
	headers := make(textproto.MIMEHeader)
	total := 0
	var lastKey string

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, errors.NewParseError("reading headers", err)
		}

		total += len(line)
		if total > constants.MaxHeaderBytes {
			return nil, errors.NewParseError("headers exceed maximum size", nil)
		}

		if line == "\r\n" || line == "\n" {
			break
		}

		trimmed := strings.TrimRight(line, "\r\n")

		// RFC 7230 3.2.4: obsolete header line folding.
		if strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t") {
			if lastKey == "" {
				continue
			}
			values := headers[lastKey]
			if len(values) == 0 {
				continue
			}
			values[len(values)-1] = values[len(values)-1] + " " + strings.TrimSpace(trimmed)
			continue
		}

		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) != 2 {
			continue
		}

		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		headers.Add(key, value)
		lastKey = key
	}

	return headers, nil
}

// readBody reads a message body following the rules shared by requests and
// responses: chunked transfer-coding, a fixed Content-Length, or (for
// responses only, signaled by statusCode != 0) read-until-close.
func readBody(r *bufio.Reader, headers textproto.MIMEHeader, method string, statusCode int) ([]byte, error) {
	if statusCode != 0 && noBodyStatus(method, statusCode) {
		return nil, nil
	}

	transferEncoding := headers.Get("Transfer-Encoding")
	contentLength := headers.Get("Content-Length")

	body := buffer.New(constants.DefaultBodyMemLimit)
	defer body.Close()

	switch {
	case strings.Contains(strings.ToLower(transferEncoding), "chunked"):
		if err := readChunkedBody(r, body); err != nil {
			return nil, err
		}
	case contentLength != "":
		n, err := strconv.ParseInt(strings.TrimSpace(contentLength), 10, 64)
		if err != nil || n < 0 {
			return nil, errors.NewParseError("invalid content-length", err)
		}
		if n > constants.MaxContentLength {
			return nil, errors.NewParseError("content-length too large", nil)
		}
		if _, err := io.CopyN(body, r, n); err != nil {
			return nil, errors.NewParseError("reading fixed-length body", err)
		}
	case statusCode != 0:
		if _, err := io.Copy(body, r); err != nil && err != io.EOF {
			return nil, errors.NewParseError("reading until-close body", err)
		}
	default:
		// A request with neither Transfer-Encoding nor Content-Length has no body.
		return nil, nil
	}

	rc, err := body.Reader()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func noBodyStatus(method string, statusCode int) bool {
	return method == "HEAD" ||
		(statusCode >= 100 && statusCode < 200) ||
		statusCode == 204 ||
		statusCode == 304
}

func readChunkedBody(r *bufio.Reader, dst *buffer.Buffer) error {
	tp := textproto.NewReader(r)
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return errors.NewParseError("reading chunk size", err)
		}

		size, err := strconv.ParseInt(strings.TrimSpace(strings.Split(line, ";")[0]), 16, 64)
		if err != nil {
			return errors.NewParseError("invalid chunk size", err)
		}
		if size == 0 {
			// Consume the trailer section (normally just the final CRLF).
			for {
				trailer, err := tp.ReadLine()
				if err != nil {
					return errors.NewParseError("reading chunk trailer", err)
				}
				if trailer == "" {
					break
				}
			}
			return nil
		}

		if _, err := io.CopyN(dst, r, size); err != nil {
			return errors.NewParseError("reading chunk body", err)
		}
		// Each chunk is followed by a trailing CRLF.
		if _, err := tp.ReadLine(); err != nil {
			return errors.NewParseError("reading chunk terminator", err)
		}
	}
}
