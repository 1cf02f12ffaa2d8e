package codec

import (
	"fmt"

	"github.com/swiftim-go/core/internal/model"
)

// Codec buffers arbitrary-sized chunks from a byte stream (TCP) and
// extracts complete frames in arrival order, reclaiming consumed bytes
// as it goes. One Codec belongs to exactly one Transport connection; it
// is never shared (spec.md §5).
type Codec struct {
	buf []byte
}

// New returns an empty Codec.
func New() *Codec {
	return &Codec{}
}

// Feed appends chunk to the receive buffer and returns every frame that
// can now be fully parsed, in arrival order. A fatal decode error means
// the buffer is corrupt/misaligned: the caller must tear down and
// reopen the connection (spec.md §4.1) — Feed does not attempt to
// resynchronize.
func (c *Codec) Feed(chunk []byte) ([]Frame, error) {
	if len(c.buf)+len(chunk) > MaxBufferLen {
		return nil, fmt.Errorf("codec: receive buffer would exceed %d bytes", MaxBufferLen)
	}
	c.buf = append(c.buf, chunk...)

	var frames []Frame
	for {
		frame, n, result, err := tryDecodeOne(c.buf)
		switch result {
		case needMore:
			return frames, nil
		case fatal:
			return frames, err
		case decoded:
			frames = append(frames, frame)
			c.buf = c.buf[n:]
		}
	}
}

// Pending returns the number of unconsumed bytes currently buffered.
func (c *Codec) Pending() int { return len(c.buf) }

// EncodeFrame builds the wire bytes for one outbound frame. Kept as a
// Codec method (rather than a free function) so callers that already
// hold a *Codec reference for decoding use the same type for encoding;
// Encode is stateless and safe to call directly too.
func (c *Codec) EncodeFrame(cmd model.Command, seq uint32, body []byte) []byte {
	return Encode(cmd, seq, body)
}
