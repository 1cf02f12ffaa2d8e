// Package wire implements the Protocol-Buffer-encoded payloads the
// codec and transport carry: the WebSocket envelope of spec.md §6
// (`WebSocketMessage{command, sequence, body}`) and a small helper for
// building/parsing the simple tagged payloads nested in a frame body.
//
// Frames are encoded with google.golang.org/protobuf/encoding/protowire
// directly rather than through generated .pb.go stubs: the wire shapes
// here are small and fixed, and protowire gives real protobuf wire
// compatibility (varint/length-delimited fields, same tag/wire-type
// encoding any .proto-generated client would produce) without requiring
// a protoc toolchain step this module doesn't otherwise need.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/swiftim-go/core/internal/model"
)

const (
	envFieldCommand  protowire.Number = 1
	envFieldSequence protowire.Number = 2
	envFieldBody     protowire.Number = 3
)

// EncodeEnvelope serializes the WebSocket-variant envelope described in
// spec.md §6: one binary WS message per application message, carrying
// command/sequence/body with no 16-byte header (WebSocket already
// frames the transport).
func EncodeEnvelope(cmd model.Command, seq uint32, body []byte) []byte {
	var out []byte
	out = protowire.AppendTag(out, envFieldCommand, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(cmd))
	out = protowire.AppendTag(out, envFieldSequence, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(seq))
	out = protowire.AppendTag(out, envFieldBody, protowire.BytesType)
	out = protowire.AppendBytes(out, body)
	return out
}

// DecodeEnvelope parses a WebSocket-variant envelope produced by
// EncodeEnvelope. Unknown fields are skipped for forward compatibility.
func DecodeEnvelope(data []byte) (cmd model.Command, seq uint32, body []byte, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, 0, nil, fmt.Errorf("wire: invalid envelope tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case envFieldCommand:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, 0, nil, fmt.Errorf("wire: invalid command field: %w", protowire.ParseError(n))
			}
			cmd = model.Command(v)
			data = data[n:]
		case envFieldSequence:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, 0, nil, fmt.Errorf("wire: invalid sequence field: %w", protowire.ParseError(n))
			}
			seq = uint32(v)
			data = data[n:]
		case envFieldBody:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, 0, nil, fmt.Errorf("wire: invalid body field: %w", protowire.ParseError(n))
			}
			body = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return 0, 0, nil, fmt.Errorf("wire: invalid unknown field: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return cmd, seq, body, nil
}
