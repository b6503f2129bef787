package blobtable

import (
	"strings"
	"testing"

	"github.com/apache/arrow/go/v10/arrow/array"

	"github.com/tablepull/tablepull/pkg/tablestream"
)

func TestPageCodecRoundTrip(t *testing.T) {
	for _, compress := range []bool{true, false} {
		rec := buildBatch(t, 100, 50)

		payload, err := encodePage(rec, compress)
		if err != nil {
			t.Fatalf("encodePage(compress=%v): %v", compress, err)
		}

		got, err := DecodePage(tablestream.Page{StreamID: "s", Ordinal: 0, Data: payload})
		if err != nil {
			t.Fatalf("DecodePage(compress=%v): %v", compress, err)
		}

		if got.NumRows() != rec.NumRows() {
			t.Fatalf("rows %d != %d", got.NumRows(), rec.NumRows())
		}
		if !got.Schema().Equal(rec.Schema()) {
			t.Fatalf("schema mismatch after round trip")
		}
		want := rec.Column(0).(*array.Int64)
		have := got.Column(0).(*array.Int64)
		for i := 0; i < want.Len(); i++ {
			if want.Value(i) != have.Value(i) {
				t.Fatalf("row %d: %d != %d", i, have.Value(i), want.Value(i))
			}
		}

		got.Release()
		rec.Release()
	}
}

func TestCompressedPagesAreSmaller(t *testing.T) {
	// Highly repetitive payload; zstd should win comfortably.
	rec := buildBatch(t, 0, 4096)
	defer rec.Release()

	plain, err := encodePage(rec, false)
	if err != nil {
		t.Fatalf("encodePage: %v", err)
	}
	compressed, err := encodePage(rec, true)
	if err != nil {
		t.Fatalf("encodePage: %v", err)
	}
	if len(compressed) >= len(plain) {
		t.Fatalf("compressed page (%d bytes) not smaller than plain (%d bytes)", len(compressed), len(plain))
	}
}

func TestDecodePageGarbage(t *testing.T) {
	_, err := DecodePage(tablestream.Page{StreamID: "s", Ordinal: 3, Data: []byte("not an ipc stream")})
	if err == nil {
		t.Fatal("expected error for garbage payload")
	}

	// Valid zstd frame wrapping garbage must also fail, with the page named.
	payload := zstdEnc.EncodeAll([]byte("still not an ipc stream"), nil)
	_, err = DecodePage(tablestream.Page{StreamID: "s", Ordinal: 3, Data: payload})
	if err == nil {
		t.Fatal("expected error for compressed garbage payload")
	}
	if !strings.Contains(err.Error(), "blobtable") {
		t.Fatalf("error %q not from blobtable", err)
	}
}
