package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wippyai/brainwasm/wasm"
)

func TestLEB128Unsigned(t *testing.T) {
	tests := []struct {
		value uint32
		bytes []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{1000, []byte{0xe8, 0x07}},
		{1024, []byte{0x80, 0x08}},
		{0xffffffff, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}

	for _, tt := range tests {
		got := wasm.EncodeLEB128u(tt.value)
		if !bytes.Equal(got, tt.bytes) {
			t.Errorf("EncodeLEB128u(%d) = %x, want %x", tt.value, got, tt.bytes)
		}
		v, err := wasm.ReadLEB128u(bytes.NewReader(tt.bytes))
		if err != nil {
			t.Fatalf("ReadLEB128u(%x): %v", tt.bytes, err)
		}
		if v != tt.value {
			t.Errorf("ReadLEB128u(%x) = %d, want %d", tt.bytes, v, tt.value)
		}
	}
}

func TestLEB128Signed(t *testing.T) {
	tests := []struct {
		value int32
		bytes []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{-1, []byte{0x7f}},
		{4, []byte{0x04}},
		{-4, []byte{0x7c}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-64, []byte{0x40}},
		{-65, []byte{0xbf, 0x7f}},
		{1024, []byte{0x80, 0x08}},
		{-2147483648, []byte{0x80, 0x80, 0x80, 0x80, 0x78}},
		{2147483647, []byte{0xff, 0xff, 0xff, 0xff, 0x07}},
	}

	for _, tt := range tests {
		got := wasm.EncodeLEB128s(tt.value)
		if !bytes.Equal(got, tt.bytes) {
			t.Errorf("EncodeLEB128s(%d) = %x, want %x", tt.value, got, tt.bytes)
		}
		v, err := wasm.ReadLEB128s(bytes.NewReader(tt.bytes))
		if err != nil {
			t.Fatalf("ReadLEB128s(%x): %v", tt.bytes, err)
		}
		if v != tt.value {
			t.Errorf("ReadLEB128s(%x) = %d, want %d", tt.bytes, v, tt.value)
		}
	}
}

func TestLEB128Signed64(t *testing.T) {
	for _, v := range []int64{0, -1, 1 << 40, -(1 << 40), 9223372036854775807, -9223372036854775808} {
		var buf bytes.Buffer
		wasm.WriteLEB128s64(&buf, v)
		got, err := wasm.ReadLEB128s64(&buf)
		if err != nil {
			t.Fatalf("ReadLEB128s64: %v", err)
		}
		if got != v {
			t.Errorf("round trip %d = %d", v, got)
		}
	}
}

func TestLEB128Overflow(t *testing.T) {
	_, err := wasm.ReadLEB128u(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
	if !errors.Is(err, wasm.ErrOverflow) {
		t.Errorf("unsigned: expected ErrOverflow, got %v", err)
	}
	_, err = wasm.ReadLEB128s(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
	if !errors.Is(err, wasm.ErrOverflow) {
		t.Errorf("signed: expected ErrOverflow, got %v", err)
	}
}

func TestLEB128Truncated(t *testing.T) {
	if _, err := wasm.ReadLEB128u(bytes.NewReader([]byte{0x80})); err == nil {
		t.Error("expected error for truncated input")
	}
}
