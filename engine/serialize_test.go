package engine

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// encodeEnvelope writes env the way Serialize does, without an object.
func encodeEnvelope(t *testing.T, env envelope) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(ObjectMagic[:])
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := msgpack.NewEncoder(zw).Encode(&env); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestHostTag(t *testing.T) {
	tag := HostTag()
	if tag == "" || tag != HostTag() {
		t.Fatalf("host tag must be stable and non-empty, got %q", tag)
	}
	if !bytes.Contains([]byte(tag), []byte("wazero/")) {
		t.Errorf("host tag should name the runtime: %q", tag)
	}
}

func TestEnvelopeDecode(t *testing.T) {
	in := envelope{
		Format:   envelopeFormat,
		Strategy: "optimized",
		Host:     HostTag(),
		Digest:   []byte{1, 2, 3},
		Module:   []byte{0, 'a', 's', 'm'},
		Cache:    map[string][]byte{"wazero-v1/abc": {9, 9}},
	}
	out, err := readEnvelope(bytes.NewReader(encodeEnvelope(t, in)))
	if err != nil {
		t.Fatal(err)
	}
	if out.Strategy != in.Strategy || !bytes.Equal(out.Module, in.Module) || !bytes.Equal(out.Cache["wazero-v1/abc"], []byte{9, 9}) {
		t.Errorf("decoded envelope differs: %+v", out)
	}
}
