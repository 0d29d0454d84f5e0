package binary

import (
	"errors"
	"io"
)

// ErrOverflow is returned when a varint runs past its bit width.
var ErrOverflow = errors.New("leb128: overflow")

// AppendU32 appends the unsigned LEB128 form of v.
func AppendU32(dst []byte, v uint32) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// AppendS64 appends the signed LEB128 form of v. i32 immediates use it too:
// sign extension yields the same bytes.
func AppendS64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if done {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// DecodeU32 reads an unsigned varint of at most five bytes.
func DecodeU32(r io.ByteReader) (uint32, error) {
	var v uint32
	for shift := uint(0); shift < 35; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, ErrOverflow
}

// DecodeSigned reads a signed varint holding at most bits bits (32 or 64).
func DecodeSigned(r io.ByteReader, bits uint) (int64, error) {
	limit := (bits + 6) / 7 * 7
	var v int64
	for shift := uint(0); shift < limit; {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 != 0 {
			continue
		}
		if shift < 64 && b&0x40 != 0 {
			v |= -1 << shift
		}
		return v, nil
	}
	return 0, ErrOverflow
}
