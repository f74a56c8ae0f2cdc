package streamdb

import (
	"context"
	"time"
)

// SeekKind selects where a Tail begins.
type SeekKind int

const (
	SeekLatest SeekKind = iota
	SeekEarliest
	SeekAbsolute
	SeekRelative
)

// Seek is a tail start directive: `latest`, `earliest`, an absolute UTC
// timestamp, or a relative "now minus N" expression.
type Seek struct {
	Kind SeekKind
	At   time.Time     // valid when Kind == SeekAbsolute
	Ago  time.Duration // valid when Kind == SeekRelative
}

func SeekLatestAt() Seek               { return Seek{Kind: SeekLatest} }
func SeekFromEarliest() Seek           { return Seek{Kind: SeekEarliest} }
func SeekAt(t time.Time) Seek          { return Seek{Kind: SeekAbsolute, At: t} }
func SeekAgo(d time.Duration) Seek     { return Seek{Kind: SeekRelative, Ago: d} }

// Cursor is a cancelable, single-consumer, backpressured row sequence
// produced by Tail. The producer does not advance past what the consumer
// has accepted: Rows is unbuffered, so a slow consumer blocks the producer
// rather than piling up memory.
type Cursor struct {
	Rows   <-chan Row
	Errs   <-chan error
	cancel context.CancelFunc
}

func (c *Cursor) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Client is the stream substrate contract (C1).
type Client interface {
	// Execute runs fire-and-forget DDL/DML.
	Execute(ctx context.Context, statement string, args ...any) error
	// Query runs a bounded historical read, returning fully materialized rows.
	Query(ctx context.Context, statement string, args ...any) ([]Row, error)
	// Tail runs an unbounded streaming read starting at seek. On transport
	// loss the cursor's Errs channel receives a StreamTransportError and
	// closes; callers restart with a fresh Tail and an updated seek.
	Tail(ctx context.Context, stream string, where string, seek Seek) (*Cursor, error)
	// Append writes a single row to stream via the batch path.
	Append(ctx context.Context, stream string, row Row) error
	Close() error
}
