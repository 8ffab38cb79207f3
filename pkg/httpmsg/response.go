package httpmsg

import (
	"bufio"
	"bytes"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/offshorelink/shipproxy/pkg/errors"
)

// Response is a parsed embedded HTTP/1.1 response.
type Response struct {
	Version    string
	StatusCode int
	Reason     string
	Headers    textproto.MIMEHeader
	Body       []byte
}

// ReadResponse parses one HTTP/1.1 response from r: status line, headers,
// and a body read per the rules in §6 (chunked, fixed-length, or
// until-close).
func ReadResponse(r *bufio.Reader, method string) (*Response, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, errors.NewParseError("reading status line", err)
	}

	version, statusCode, reason, err := parseStatusLine(line)
	if err != nil {
		return nil, err
	}

	headers, err := readHeaders(r)
	if err != nil {
		return nil, err
	}

	body, err := readBody(r, headers, method, statusCode)
	if err != nil {
		return nil, err
	}

	return &Response{
		Version:    version,
		StatusCode: statusCode,
		Reason:     reason,
		Headers:    headers,
		Body:       body,
	}, nil
}

func parseStatusLine(line string) (version string, statusCode int, reason string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", errors.NewParseError("malformed status line: "+line, nil)
	}

	code, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return "", 0, "", errors.NewParseError("invalid status code", convErr)
	}

	reason = ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return parts[0], code, reason, nil
}

// IsSuccessfulConnect reports whether resp has an "HTTP/1.x 200 ..." status
// line, the only acceptable response to a CONNECT request.
func IsSuccessfulConnect(resp *Response) bool {
	return strings.HasPrefix(resp.Version, "HTTP/1.") && resp.StatusCode == 200
}

// Serialize renders resp back into canonical HTTP/1.1 wire bytes.
func (resp *Response) Serialize() []byte {
	var buf bytes.Buffer
	reason := resp.Reason
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	buf.WriteString(resp.Version)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(resp.StatusCode))
	buf.WriteByte(' ')
	buf.WriteString(reason)
	buf.WriteString("\r\n")
	writeHeaders(&buf, resp.Headers)
	buf.WriteString("\r\n")
	buf.Write(resp.Body)
	return buf.Bytes()
}

// NewSynthetic builds a Response carrying body as plain text. When body is
// non-empty it sets Content-Type: text/plain; charset=utf-8, an accurate
// Content-Length, and Connection: close; with an empty body no headers are
// set. This is the shape of the offshore's synthesized 500/502 responses and
// of the ship's CONNECT failure replies.
func NewSynthetic(statusCode int, body string) *Response {
	headers := make(textproto.MIMEHeader)
	if body != "" {
		headers.Set("Content-Type", "text/plain; charset=utf-8")
		headers.Set("Content-Length", strconv.Itoa(len(body)))
		headers.Set("Connection", "close")
	}
	return &Response{
		Version:    "HTTP/1.1",
		StatusCode: statusCode,
		Reason:     http.StatusText(statusCode),
		Headers:    headers,
		Body:       []byte(body),
	}
}
