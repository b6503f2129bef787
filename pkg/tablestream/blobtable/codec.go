package blobtable

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/ipc"
	"github.com/klauspost/compress/zstd"

	"github.com/tablepull/tablepull/pkg/tablestream"
)

// zstd frame magic; pages are sniffed rather than trusting out-of-band state,
// so DecodePage works on any blobtable page regardless of manifest settings.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Shared codec state. Both are safe for concurrent use via EncodeAll /
// DecodeAll.
var (
	zstdEnc, _ = zstd.NewWriter(nil)
	zstdDec, _ = zstd.NewReader(nil)
)

// encodePage serializes one record batch as an Arrow IPC stream, compressed
// when requested. The schema travels inside the payload, keeping pages
// self-describing.
func encodePage(rec arrow.Record, compress bool) ([]byte, error) {
	var buf bytes.Buffer

	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, fmt.Errorf("blobtable: encode page: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("blobtable: finish page: %w", err)
	}

	if !compress {
		return buf.Bytes(), nil
	}
	return zstdEnc.EncodeAll(buf.Bytes(), nil), nil
}

// DecodePage is the decode adapter for blobtable pages: zstd-decompress when
// the frame magic matches, then read the single record batch from the IPC
// stream. It satisfies [tablestream.DecodeFunc].
func DecodePage(page tablestream.Page) (arrow.Record, error) {
	data := page.Data
	if bytes.HasPrefix(data, zstdMagic) {
		var err error
		data, err = zstdDec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("blobtable: decompress page: %w", err)
		}
	}

	r, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("blobtable: open page payload: %w", err)
	}
	defer r.Release()

	if !r.Next() {
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("blobtable: read page batch: %w", err)
		}
		return nil, fmt.Errorf("blobtable: page %d of stream %s holds no batch", page.Ordinal, page.StreamID)
	}

	rec := r.Record()
	rec.Retain()
	return rec, nil
}
