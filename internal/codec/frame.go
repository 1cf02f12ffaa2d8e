// Package codec implements the length-prefixed binary frame protocol of
// spec.md §3/§4.1/§6: a 16-byte big-endian header (magic, version,
// flags, command, sequence, body_len, crc16) followed by an opaque
// body, plus a stateful defragmenting Codec for a growing TCP receive
// buffer.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/swiftim-go/core/internal/crc16"
	"github.com/swiftim-go/core/internal/model"
)

const (
	// HeaderLen is the fixed, bit-exact header size (spec.md §6).
	HeaderLen = 16

	magic   uint16 = 0xEF89
	version uint8  = 1

	// MaxBodyLen is the default body size ceiling (spec.md §4.1).
	MaxBodyLen = 4 * 1024 * 1024

	// MaxBufferLen bounds the Codec's receive buffer (spec.md §4.1).
	MaxBufferLen = 16 * 1024 * 1024
)

// Frame is one decoded wire unit: header fields plus opaque body bytes.
type Frame struct {
	Command  model.Command
	Sequence uint32
	Body     []byte
}

// Encode constructs the 16-byte header and concatenates body, producing
// the bytes to write to the TCP socket. There is no inter-frame marker;
// frames are self-delimiting via body_len.
func Encode(cmd model.Command, seq uint32, body []byte) []byte {
	buf := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint16(buf[0:2], magic)
	buf[2] = version
	buf[3] = 0 // flags, reserved
	binary.BigEndian.PutUint16(buf[4:6], uint16(cmd))
	binary.BigEndian.PutUint32(buf[6:10], seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	crc := crc16.Checksum(buf[0:14])
	binary.BigEndian.PutUint16(buf[14:16], crc)
	copy(buf[HeaderLen:], body)
	return buf
}

// decodeResult is the outcome of attempting to parse one frame from the
// front of a buffer.
type decodeResult int

const (
	needMore decodeResult = iota
	decoded
	fatal
)

// tryDecodeOne attempts to parse exactly one frame from the front of
// buf. It returns the frame, how many bytes of buf it consumed, the
// result classification, and an error when result == fatal.
func tryDecodeOne(buf []byte) (Frame, int, decodeResult, error) {
	if len(buf) < HeaderLen {
		return Frame{}, 0, needMore, nil
	}

	gotMagic := binary.BigEndian.Uint16(buf[0:2])
	gotVersion := buf[2]
	if gotMagic != magic {
		return Frame{}, 0, fatal, fmt.Errorf("codec: bad magic %#x", gotMagic)
	}
	if gotVersion != version {
		return Frame{}, 0, fatal, fmt.Errorf("codec: unsupported version %d", gotVersion)
	}

	cmd := binary.BigEndian.Uint16(buf[4:6])
	seq := binary.BigEndian.Uint32(buf[6:10])
	bodyLen := binary.BigEndian.Uint32(buf[10:14])
	wantCRC := binary.BigEndian.Uint16(buf[14:16])

	if bodyLen > MaxBodyLen {
		return Frame{}, 0, fatal, fmt.Errorf("codec: body_len %d exceeds max %d", bodyLen, MaxBodyLen)
	}

	gotCRC := crc16.Checksum(buf[0:14])
	if gotCRC != wantCRC {
		return Frame{}, 0, fatal, fmt.Errorf("codec: crc mismatch: got %#x want %#x", gotCRC, wantCRC)
	}

	total := HeaderLen + int(bodyLen)
	if len(buf) < total {
		return Frame{}, 0, needMore, nil
	}

	body := append([]byte(nil), buf[HeaderLen:total]...)
	return Frame{Command: model.Command(cmd), Sequence: seq, Body: body}, total, decoded, nil
}
