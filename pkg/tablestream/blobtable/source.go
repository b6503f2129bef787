package blobtable

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"gocloud.dev/blob"

	"github.com/tablepull/tablepull/pkg/tablestream"
)

// Source serves blobtable tables to the tablestream engine. The zero number
// of streams offered for a download equals the number the table was published
// with, unless the session request asks for fewer.
type Source struct {
	bucket *blob.Bucket
	root   string

	ownsBucket bool
}

// NewSource adapts an existing bucket handle. The caller keeps ownership of
// the bucket.
func NewSource(bucket *blob.Bucket, root string) *Source {
	return &Source{bucket: bucket, root: root}
}

// OpenSource opens the bucket URL and adapts it. The caller must Close the
// source when done.
func OpenSource(ctx context.Context, bucketURL, root string) (*Source, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("blobtable: open bucket: %w", err)
	}
	return &Source{bucket: bucket, root: root, ownsBucket: true}, nil
}

// Close releases the bucket if this source owns it.
func (s *Source) Close() error {
	if s.ownsBucket {
		return s.bucket.Close()
	}
	return nil
}

// Manifest loads the manifest for ref without opening a session.
func (s *Source) Manifest(ctx context.Context, ref tablestream.TableRef) (*Manifest, error) {
	return ReadManifest(ctx, s.bucket, s.root, ref)
}

// OpenSession implements [tablestream.Source]. Stream negotiation is manifest
// shaping: the published streams are regrouped to honor MaxStreams, and
// collapse to a single stream in stream-major page order when the request
// preserves order. Column pruning is left to the decode side; pages are
// immutable once published.
func (s *Source) OpenSession(ctx context.Context, ref tablestream.TableRef, req tablestream.SessionRequest) (tablestream.Session, error) {
	m, err := ReadManifest(ctx, s.bucket, s.root, ref)
	if err != nil {
		return nil, err
	}

	streams := groupStreams(m.Streams, sessionStreamCount(m, req))

	sess := &session{
		id:     uuid.NewString(),
		bucket: s.bucket,
		prefix: tablePrefix(s.root, ref),
	}
	for i, sm := range streams {
		if len(sm.Pages) == 0 {
			continue
		}
		sess.streams = append(sess.streams, sm)
		sess.descs = append(sess.descs, tablestream.StreamDescriptor{ID: sm.ID, Ordinal: i})
	}
	return sess, nil
}

func sessionStreamCount(m *Manifest, req tablestream.SessionRequest) int {
	n := len(m.Streams)
	if req.PreserveOrder {
		return 1
	}
	if req.MaxStreams > 0 && req.MaxStreams < n {
		return req.MaxStreams
	}
	return n
}

// groupStreams reassigns whole published streams to n session streams,
// round-robin. Keeping each published stream intact preserves intra-stream
// page order; with n == 1 the result is all pages in stream-major order.
func groupStreams(streams []StreamManifest, n int) []StreamManifest {
	if n >= len(streams) {
		return streams
	}

	out := make([]StreamManifest, n)
	for i := range out {
		out[i].ID = fmt.Sprintf("session-stream-%04d", i)
	}
	for i, sm := range streams {
		g := &out[i%n]
		g.Pages = append(g.Pages, sm.Pages...)
	}
	return out
}

type session struct {
	id      string
	bucket  *blob.Bucket
	prefix  string
	streams []StreamManifest
	descs   []tablestream.StreamDescriptor
}

func (s *session) ID() string { return s.id }

func (s *session) Streams() []tablestream.StreamDescriptor { return s.descs }

func (s *session) Open(ctx context.Context, desc tablestream.StreamDescriptor) (tablestream.Stream, error) {
	for _, sm := range s.streams {
		if sm.ID == desc.ID {
			return &pageStream{
				id:     sm.ID,
				bucket: s.bucket,
				prefix: s.prefix,
				pages:  sm.Pages,
			}, nil
		}
	}
	return nil, fmt.Errorf("blobtable: unknown stream %s in session %s", desc.ID, s.id)
}

// Close is a no-op: the bucket belongs to the Source.
func (s *session) Close() error { return nil }

// pageStream reads the page objects of one stream, in manifest order.
type pageStream struct {
	id     string
	bucket *blob.Bucket
	prefix string
	pages  []PageInfo
	next   int
}

func (ps *pageStream) Next(ctx context.Context) (tablestream.Page, error) {
	if ps.next >= len(ps.pages) {
		return tablestream.Page{}, io.EOF
	}

	info := ps.pages[ps.next]
	data, err := ps.bucket.ReadAll(ctx, path.Join(ps.prefix, info.Object))
	if err != nil {
		return tablestream.Page{}, fmt.Errorf("blobtable: read page %s: %w", info.Object, err)
	}

	page := tablestream.Page{StreamID: ps.id, Ordinal: ps.next, Data: data}
	ps.next++
	return page, nil
}

func (ps *pageStream) Close() error { return nil }
