// Package frame implements the length-prefixed binary framing protocol that
// multiplexes request and response blobs over the single ship<->offshore
// link.
//
// Wire format (big-endian):
//
//	u32 length | u8 type | byte[length] payload
//
// There is no magic byte, no version field, and no checksum: peers must
// never write anything outside a frame.
package frame

import (
	"encoding/binary"

	"github.com/offshorelink/shipproxy/pkg/errors"
)

// Type identifies which half of a transaction a frame carries.
type Type uint8

const (
	// Request carries bytes traveling ship -> offshore: an embedded HTTP
	// request in message mode, or raw tunnel bytes in tunnel mode.
	Request Type = 0
	// Response carries bytes traveling offshore -> ship: an embedded HTTP
	// response in message mode, or raw tunnel bytes in tunnel mode.
	Response Type = 1
)

// HeaderLen is the fixed size, in bytes, of a frame header.
const HeaderLen = 5

// Frame is the in-memory tuple produced by a Decoder and consumed by Encode.
// Payload bytes are opaque to the codec.
type Frame struct {
	Type    Type
	Payload []byte
}

func (t Type) String() string {
	switch t {
	case Request:
		return "REQUEST"
	case Response:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

func validType(t Type) bool {
	return t == Request || t == Response
}

// Encode returns one contiguous buffer of HeaderLen+len(payload) bytes: the
// 5-byte header followed by payload. It fails with a Validation error if
// typ is not Request or Response.
func Encode(typ Type, payload []byte) ([]byte, error) {
	if !validType(typ) {
		return nil, errors.NewValidationError("frame: invalid type")
	}

	buf := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	buf[4] = byte(typ)
	copy(buf[HeaderLen:], payload)
	return buf, nil
}
