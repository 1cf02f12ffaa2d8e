package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Writer is a thin ergonomic layer over protowire.Append* for building
// the small tagged payloads nested in a frame body (see payloads.go).
type Writer struct {
	buf []byte
}

func (w *Writer) Varint(tag protowire.Number, v uint64) {
	w.buf = protowire.AppendTag(w.buf, tag, protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, v)
}

func (w *Writer) Int64(tag protowire.Number, v int64) {
	w.Varint(tag, uint64(v))
}

func (w *Writer) Bool(tag protowire.Number, v bool) {
	if v {
		w.Varint(tag, 1)
	} else {
		w.Varint(tag, 0)
	}
}

func (w *Writer) String(tag protowire.Number, v string) {
	if v == "" {
		return
	}
	w.buf = protowire.AppendTag(w.buf, tag, protowire.BytesType)
	w.buf = protowire.AppendString(w.buf, v)
}

func (w *Writer) Bytes(tag protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	w.buf = protowire.AppendTag(w.buf, tag, protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, v)
}

// Message appends v (already-encoded) as a nested length-delimited
// message field.
func (w *Writer) Message(tag protowire.Number, v []byte) {
	w.buf = protowire.AppendTag(w.buf, tag, protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, v)
}

func (w *Writer) Bytes_() []byte { return w.buf }

// Reader walks a tagged payload field by field via Next; callers switch
// on the returned tag and consume the matching typed getter.
type Reader struct {
	buf []byte
	val []byte
	typ protowire.Type
}

func NewReader(data []byte) *Reader { return &Reader{buf: data} }

// Next advances to the next field, returning its tag number, or ok=false
// at end of input. err is non-nil on malformed input.
func (r *Reader) Next() (tag protowire.Number, ok bool, err error) {
	if len(r.buf) == 0 {
		return 0, false, nil
	}
	num, typ, n := protowire.ConsumeTag(r.buf)
	if n < 0 {
		return 0, false, fmt.Errorf("wire: invalid tag: %w", protowire.ParseError(n))
	}
	r.buf = r.buf[n:]
	r.typ = typ

	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(r.buf)
		if n < 0 {
			return 0, false, fmt.Errorf("wire: invalid varint: %w", protowire.ParseError(n))
		}
		r.val = protowire.AppendVarint(nil, v)
		r.buf = r.buf[n:]
	case protowire.BytesType:
		v, n := protowire.ConsumeBytes(r.buf)
		if n < 0 {
			return 0, false, fmt.Errorf("wire: invalid bytes: %w", protowire.ParseError(n))
		}
		r.val = append([]byte(nil), v...)
		r.buf = r.buf[n:]
	default:
		n := protowire.ConsumeFieldValue(num, typ, r.buf)
		if n < 0 {
			return 0, false, fmt.Errorf("wire: invalid field: %w", protowire.ParseError(n))
		}
		r.val = nil
		r.buf = r.buf[n:]
	}
	return num, true, nil
}

func (r *Reader) Uint64() uint64 {
	v, _ := protowire.ConsumeVarint(r.val)
	return v
}

func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

func (r *Reader) Bool() bool { return r.Uint64() != 0 }

func (r *Reader) String() string { return string(r.val) }

func (r *Reader) Bytes() []byte { return r.val }
