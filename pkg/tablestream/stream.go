package tablestream

import (
	"context"

	"github.com/apache/arrow/go/v10/arrow"
)

// StreamDescriptor identifies one independently fetchable shard of a table.
// Descriptors are assigned at session negotiation and are immutable; each one
// is owned by exactly one worker for the life of a download.
type StreamDescriptor struct {
	ID      string
	Ordinal int
}

// Page is one unit of wire-transferred data from a stream. The payload is
// opaque to the engine; only the decode adapter interprets it.
type Page struct {
	StreamID string
	Ordinal  int
	Data     []byte
}

// DecodeFunc converts one page into one record batch. It must be pure: no
// side effects beyond the conversion. Any error it returns terminates the
// whole download.
type DecodeFunc func(Page) (arrow.Record, error)

// SessionRequest carries caller preferences to the source during stream
// negotiation.
type SessionRequest struct {
	// MaxStreams caps how many streams the source may return. Zero lets the
	// source choose.
	MaxStreams int

	// PreserveOrder asks for exactly one stream so that output order equals
	// source order.
	PreserveOrder bool

	// Columns is the field subset to request. Sources that cannot prune may
	// ignore it; the engine projects decoded batches regardless.
	Columns []string
}

// Source negotiates read sessions for tables.
type Source interface {
	// OpenSession acquires the set of streams for a table. It returns a
	// session with zero streams for an empty table; that is not an error.
	OpenSession(ctx context.Context, ref TableRef, req SessionRequest) (Session, error)
}

// Session is one negotiated view of a table, split into streams.
type Session interface {
	// ID identifies the session, for diagnostics.
	ID() string

	// Streams returns the negotiated stream set. The engine spawns one
	// worker per descriptor.
	Streams() []StreamDescriptor

	// Open opens one stream for reading.
	Open(ctx context.Context, desc StreamDescriptor) (Stream, error)

	// Close releases session resources. Called once by the engine after all
	// workers have exited.
	Close() error
}

// Stream yields the pages of one shard, in order.
type Stream interface {
	// Next returns the next page, or io.EOF when the stream is exhausted.
	Next(ctx context.Context) (Page, error)

	// Close releases stream resources.
	Close() error
}
