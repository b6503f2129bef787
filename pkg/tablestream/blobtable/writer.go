package blobtable

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"gocloud.dev/blob"

	"github.com/tablepull/tablepull/pkg/tableschema"
	"github.com/tablepull/tablepull/pkg/tablestream"
)

// Options configures table publishing.
type Options struct {
	Streams  int               // number of streams to shard pages across
	Compress bool              // zstd-compress page payloads
	Metadata map[string]string // caller-defined metadata stored in the manifest
}

// Option is a functional option for configuring a Writer.
type Option func(*Options)

// WithStreams sets how many streams the table is sharded across. More streams
// means more download parallelism. Default: 1.
func WithStreams(n int) Option {
	return func(o *Options) {
		o.Streams = n
	}
}

// WithCompression toggles zstd compression of page payloads. Default: on.
func WithCompression(compress bool) Option {
	return func(o *Options) {
		o.Compress = compress
	}
}

// WithMetadata sets caller-defined metadata stored in the manifest.
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) {
		o.Metadata = metadata
	}
}

// Writer publishes a table to a bucket. Not safe for concurrent use.
type Writer struct {
	bucket   *blob.Bucket
	prefix   string
	manifest *Manifest
	opts     Options

	nextAppend int // round-robin cursor for Append
	completed  bool
}

// Create starts publishing a table for ref. The schema is fixed at creation;
// every page written must match it. Readers cannot see the table until
// [Writer.Complete] writes the manifest.
func Create(ctx context.Context, bucket *blob.Bucket, root string, ref tablestream.TableRef, schema *arrow.Schema, options ...Option) (*Writer, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	opts := Options{Streams: 1, Compress: true}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Streams < 1 {
		return nil, fmt.Errorf("blobtable: stream count must be positive, got %d", opts.Streams)
	}

	fields, err := tableschema.FromArrow(schema)
	if err != nil {
		return nil, fmt.Errorf("blobtable: schema for %s: %w", ref, err)
	}

	compression := CompressionZstd
	if !opts.Compress {
		compression = CompressionNone
	}

	m := &Manifest{
		Table:       ref.String(),
		Schema:      fields,
		Compression: compression,
		Metadata:    opts.Metadata,
		Streams:     make([]StreamManifest, opts.Streams),
	}
	for i := range m.Streams {
		m.Streams[i].ID = fmt.Sprintf("stream-%04d", i)
	}

	return &Writer{
		bucket:   bucket,
		prefix:   tablePrefix(root, ref),
		manifest: m,
		opts:     opts,
	}, nil
}

// WritePage appends one record batch as a new page of the given stream.
func (w *Writer) WritePage(ctx context.Context, stream int, rec arrow.Record) error {
	if w.completed {
		return fmt.Errorf("blobtable: write to completed table %s", w.manifest.Table)
	}
	if stream < 0 || stream >= len(w.manifest.Streams) {
		return fmt.Errorf("blobtable: stream index %d out of range [0, %d)", stream, len(w.manifest.Streams))
	}

	payload, err := encodePage(rec, w.opts.Compress)
	if err != nil {
		return err
	}

	sm := &w.manifest.Streams[stream]
	object := fmt.Sprintf("pages/%s-%06d.arrow", sm.ID, len(sm.Pages))
	if err := w.bucket.WriteAll(ctx, path.Join(w.prefix, object), payload, nil); err != nil {
		return fmt.Errorf("blobtable: write page %s: %w", object, err)
	}

	sm.Pages = append(sm.Pages, PageInfo{
		Object: object,
		Rows:   rec.NumRows(),
		Size:   int64(len(payload)),
	})
	w.manifest.TotalRows += rec.NumRows()
	w.manifest.TotalBytes += int64(len(payload))
	return nil
}

// Append writes rec as a page of the next stream in round-robin order. Use
// WritePage directly when the stream placement matters.
func (w *Writer) Append(ctx context.Context, rec arrow.Record) error {
	stream := w.nextAppend
	w.nextAppend = (w.nextAppend + 1) % len(w.manifest.Streams)
	return w.WritePage(ctx, stream, rec)
}

// Complete writes the manifest, making the table visible to readers. No pages
// may be written afterwards.
func (w *Writer) Complete(ctx context.Context) error {
	if w.completed {
		return nil
	}

	w.manifest.CompletedAt = time.Now().UTC()
	data, err := json.MarshalIndent(w.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("blobtable: marshal manifest: %w", err)
	}
	if err := w.bucket.WriteAll(ctx, path.Join(w.prefix, manifestObject), data, nil); err != nil {
		return fmt.Errorf("blobtable: write manifest: %w", err)
	}

	w.completed = true
	return nil
}

// Manifest exposes the manifest being built; useful for tests and for
// reporting totals after Complete.
func (w *Writer) Manifest() *Manifest {
	return w.manifest
}
