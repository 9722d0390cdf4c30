package persist

import (
	"bytes"
	"strings"
	"testing"
)

type archiveState struct {
	Seeds []string `json:"seeds"`
}

func TestLZ4Codec_RoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewLZ4Codec(NewGobCodec())

	original := archiveState{Seeds: []string{"ALEEB7QQ", "1111AAAA", "ZZZZ9999"}}

	var buf bytes.Buffer

	err := codec.Encode(&buf, original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded archiveState

	err = codec.Decode(&buf, &decoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if len(decoded.Seeds) != len(original.Seeds) {
		t.Fatalf("Seeds length = %d, want %d", len(decoded.Seeds), len(original.Seeds))
	}

	for i, seed := range original.Seeds {
		if decoded.Seeds[i] != seed {
			t.Errorf("Seeds[%d] = %q, want %q", i, decoded.Seeds[i], seed)
		}
	}
}

func TestLZ4Codec_CompressesRepetitiveState(t *testing.T) {
	t.Parallel()

	codec := NewLZ4Codec(NewGobCodec())

	seeds := make([]string, 10000)
	for i := range seeds {
		seeds[i] = strings.Repeat("A", 8)
	}

	var compressed bytes.Buffer

	err := codec.Encode(&compressed, archiveState{Seeds: seeds})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var plain bytes.Buffer

	err = NewGobCodec().Encode(&plain, archiveState{Seeds: seeds})
	if err != nil {
		t.Fatalf("plain Encode failed: %v", err)
	}

	if compressed.Len() >= plain.Len() {
		t.Errorf("compressed size %d not smaller than plain %d", compressed.Len(), plain.Len())
	}
}

func TestLZ4Codec_Extension(t *testing.T) {
	t.Parallel()

	codec := NewLZ4Codec(NewGobCodec())
	if ext := codec.Extension(); ext != ".gob.lz4" {
		t.Errorf("Extension() = %q, want %q", ext, ".gob.lz4")
	}
}
