package streamdb

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemClient is an in-process fake of Client, used by component and scenario
// tests so they do not require a live streaming database. Semantics mirror
// ClickHouseClient closely enough for the testable properties in spec §8 to
// hold against it.
type MemClient struct {
	mu      sync.Mutex
	streams map[string][]Row
	seq     int
}

func NewMemClient() *MemClient {
	return &MemClient{streams: map[string][]Row{}}
}

func (m *MemClient) Execute(ctx context.Context, statement string, args ...any) error { return nil }

// Query understands only the "SELECT ... FROM <stream> [...]" shape its
// callers emit; it ignores WHERE/ORDER clauses and returns the full
// (timestamp, id)-ordered stream, since MemClient has no SQL engine behind
// it. Callers that need filtering should use QueryStream directly.
func (m *MemClient) Query(ctx context.Context, statement string, args ...any) ([]Row, error) {
	stream := streamNameFromSelect(statement)
	if stream == "" {
		return nil, nil
	}
	return m.QueryStream(stream, nil), nil
}

func streamNameFromSelect(statement string) string {
	upper := strings.ToUpper(statement)
	idx := strings.Index(upper, "FROM")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(statement[idx+len("FROM"):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// QueryStream returns a snapshot of stream filtered by pred, ordered by
// (timestamp, id) per the §3 ordering invariant.
func (m *MemClient) QueryStream(stream string, pred func(Row) bool) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Row, 0)
	for _, r := range m.streams[stream] {
		if pred == nil || pred(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Time("timestamp"), out[j].Time("timestamp")
		if ti.Equal(tj) {
			return out[i].String("id") < out[j].String("id")
		}
		return ti.Before(tj)
	})
	return out
}

func (m *MemClient) Append(ctx context.Context, stream string, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := row["id"]; !ok || row["id"] == "" {
		row["id"] = NewID()
	}
	if _, ok := row["timestamp"]; !ok {
		m.seq++
		row["timestamp"] = time.Now().UTC().Add(time.Duration(m.seq) * time.Microsecond)
	}
	row = cloneRow(row)
	m.streams[stream] = append(m.streams[stream], row)
	return nil
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (m *MemClient) Close() error { return nil }

// Tail polls the in-memory stream on a short interval starting after seek;
// rows matching a caller-supplied target/message_type filter embedded in
// `where` are not parsed (MemClient ignores `where` text), so callers of the
// fake should filter after receiving rows, or use TailFiltered directly.
func (m *MemClient) Tail(ctx context.Context, stream string, where string, seek Seek) (*Cursor, error) {
	return m.TailFiltered(ctx, stream, nil, seek)
}

func (m *MemClient) TailFiltered(ctx context.Context, stream string, pred func(Row) bool, seek Seek) (*Cursor, error) {
	tailCtx, cancel := context.WithCancel(ctx)
	rowsCh := make(chan Row)
	errCh := make(chan error, 1)

	since := m.seekTime(stream, seek)

	go func() {
		defer close(rowsCh)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		sent := map[string]bool{}
		for {
			select {
			case <-tailCtx.Done():
				return
			case <-ticker.C:
				for _, r := range m.QueryStream(stream, pred) {
					if !r.Time("timestamp").After(since) {
						continue
					}
					id := r.String("id")
					if sent[id] {
						continue
					}
					sent[id] = true
					select {
					case rowsCh <- r:
					case <-tailCtx.Done():
						return
					}
				}
			}
		}
	}()

	return &Cursor{Rows: rowsCh, Errs: errCh, cancel: cancel}, nil
}

func (m *MemClient) seekTime(stream string, seek Seek) time.Time {
	switch seek.Kind {
	case SeekAbsolute:
		return seek.At
	case SeekRelative:
		return time.Now().UTC().Add(-seek.Ago)
	case SeekEarliest:
		return time.Unix(0, 0).UTC()
	default:
		rows := m.QueryStream(stream, nil)
		if len(rows) == 0 {
			return time.Unix(0, 0).UTC()
		}
		return rows[len(rows)-1].Time("timestamp")
	}
}
