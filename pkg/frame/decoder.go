package frame

import (
	"encoding/binary"

	"github.com/offshorelink/shipproxy/pkg/errors"
)

// Decoder is a stateful, single-producer single-consumer frame extractor.
// Feed it chunks as they arrive off a socket via Push; it buffers partial
// frames internally and returns every complete frame the buffer can yield.
//
// Concurrent pushes on the same Decoder are not supported — callers must
// serialize their own reads, exactly as the link's single reader goroutine
// does.
type Decoder struct {
	buf    []byte
	maxLen uint32
	closed bool
}

// NewDecoder returns a Decoder that rejects any frame whose advertised
// payload length exceeds maxPayload. A maxPayload of 0 disables the cap:
// any length up to 2^32-1 is accepted.
func NewDecoder(maxPayload uint32) *Decoder {
	return &Decoder{maxLen: maxPayload}
}

// Push appends chunk to the internal buffer and extracts as many complete
// frames as it now contains. It never blocks and never returns a payload
// shorter than its advertised length.
func (d *Decoder) Push(chunk []byte) ([]Frame, error) {
	if d.closed {
		return nil, errors.NewProtocolError("decoder: push after close", nil)
	}

	if len(chunk) > 0 {
		d.buf = append(d.buf, chunk...)
	}

	var frames []Frame
	for {
		f, n, err := d.extract()
		if err != nil {
			return frames, err
		}
		if n == 0 {
			break
		}
		d.buf = d.buf[n:]
		frames = append(frames, f)
	}
	return frames, nil
}

// extract reads one frame from the front of the buffer. It returns n == 0
// when fewer bytes are available than the next frame needs.
func (d *Decoder) extract() (Frame, int, error) {
	if len(d.buf) < HeaderLen {
		return Frame{}, 0, nil
	}

	length := binary.BigEndian.Uint32(d.buf[0:4])
	typ := Type(d.buf[4])

	if d.maxLen > 0 && length > d.maxLen {
		return Frame{}, 0, errors.NewProtocolError("decoder: frame exceeds maximum payload size", nil)
	}
	if !validType(typ) {
		return Frame{}, 0, errors.NewProtocolError("decoder: unrecognized frame type", nil)
	}

	total := HeaderLen + int(length)
	if len(d.buf) < total {
		return Frame{}, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, d.buf[HeaderLen:total])
	return Frame{Type: typ, Payload: payload}, total, nil
}

// Close drops any buffered partial frame and refuses further input.
func (d *Decoder) Close() {
	d.buf = nil
	d.closed = true
}
