package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Reader walks an in-memory byte slice. Slices it returns alias the input.
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Position is the offset of the next unread byte.
func (r *Reader) Position() int { return r.pos }

// Len is the number of unread bytes.
func (r *Reader) Len() int { return len(r.data) - r.pos }

func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	r.pos++
	return r.data[r.pos-1], nil
}

// ReadBytes returns the next n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	start := r.pos
	r.pos += n
	return r.data[start:r.pos], nil
}

// ReadU32 reads an unsigned varint.
func (r *Reader) ReadU32() (uint32, error) {
	start := r.pos
	v, err := DecodeU32(r)
	if errors.Is(err, ErrOverflow) {
		return 0, fmt.Errorf("varint at %d: %w", start, err)
	}
	return v, err
}

// ReadName reads a length-prefixed name, which must be valid UTF-8.
func (r *Reader) ReadName() (string, error) {
	n, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	start := r.pos
	data, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("name at %d: invalid UTF-8", start)
	}
	return string(data), nil
}

// ReadU32LE reads four little-endian bytes.
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadRemaining consumes and returns everything left.
func (r *Reader) ReadRemaining() []byte {
	rest := r.data[r.pos:]
	r.pos = len(r.data)
	return rest
}

// ParseError locates a decoding failure in the module.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	where := fmt.Sprintf("offset %d", e.Position)
	if e.Section != "" {
		where = e.Section + " at " + where
	}
	return "wasm: " + where + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// WrapError attaches the current offset and section name to err.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{Err: err, Section: section, Position: r.pos}
}
