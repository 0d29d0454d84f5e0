package wasm

import (
	"bytes"
	"io"

	"github.com/wippyai/brainwasm/wasm/internal/binary"
)

// ErrOverflow is returned when a varint runs past its bit width.
var ErrOverflow = binary.ErrOverflow

// ReadLEB128u reads an unsigned 32-bit varint.
func ReadLEB128u(r io.ByteReader) (uint32, error) {
	return binary.DecodeU32(r)
}

// ReadLEB128s reads a signed 32-bit varint.
func ReadLEB128s(r io.ByteReader) (int32, error) {
	v, err := binary.DecodeSigned(r, 32)
	return int32(v), err
}

// ReadLEB128s64 reads a signed 64-bit varint.
func ReadLEB128s64(r io.ByteReader) (int64, error) {
	return binary.DecodeSigned(r, 64)
}

// WriteLEB128s64 appends the signed varint of v to w.
func WriteLEB128s64(w *bytes.Buffer, v int64) {
	var tmp [10]byte
	w.Write(binary.AppendS64(tmp[:0], v))
}

// EncodeLEB128u returns the varint bytes of v.
func EncodeLEB128u(v uint32) []byte {
	return binary.AppendU32(nil, v)
}

// EncodeLEB128s returns the signed varint bytes of v.
func EncodeLEB128s(v int32) []byte {
	return binary.AppendS64(nil, int64(v))
}
