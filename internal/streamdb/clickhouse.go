package streamdb

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"pulsebot/internal/perr"
)

// ClickHouseClient backs Client against Timeplus Proton / ClickHouse over the
// native wire protocol. Execute, Query, Append and Tail all share one
// connection pool; no connection is reserved for a tail. A tail re-queries
// past the last-seen timestamp on a short interval, since the go driver does
// not expose Proton's blocking unbounded-SELECT streaming mode; it keeps the
// seek/cancel/backpressure contract but is not a server-pushed stream.
type ClickHouseClient struct {
	batch      clickhouse.Conn
	pollEvery  time.Duration
	database   string
}

// DSN holds connection parameters for Dial (see database config section).
type DSN struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Database   string
	DialTimeout time.Duration
}

func Dial(d DSN) (*ClickHouseClient, error) {
	dialTimeout := d.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", d.Host, d.Port)},
		Auth: clickhouse.Auth{
			Database: d.Database,
			Username: d.Username,
			Password: d.Password,
		},
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, perr.Wrap(perr.StreamTransportError, "open clickhouse connection", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, perr.Wrap(perr.StreamTransportError, "ping clickhouse", err)
	}
	return &ClickHouseClient{batch: conn, pollEvery: 500 * time.Millisecond, database: d.Database}, nil
}

func (c *ClickHouseClient) Execute(ctx context.Context, statement string, args ...any) error {
	if err := c.batch.Exec(ctx, statement, args...); err != nil {
		return perr.Wrap(perr.StreamTransportError, "execute statement", err)
	}
	return nil
}

func (c *ClickHouseClient) Query(ctx context.Context, statement string, args ...any) ([]Row, error) {
	rows, err := c.batch.Query(ctx, statement, args...)
	if err != nil {
		return nil, perr.Wrap(perr.StreamTransportError, "query statement", err)
	}
	defer rows.Close()
	return decodeRows(rows)
}

func decodeRows(rows clickhouse.Rows) ([]Row, error) {
	cts := rows.ColumnTypes()
	out := make([]Row, 0, 16)
	for rows.Next() {
		vals := make([]any, len(cts))
		for i, ct := range cts {
			vals[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(vals...); err != nil {
			return nil, perr.Wrap(perr.StreamTransportError, "scan row", err)
		}
		row := Row{}
		for i, ct := range cts {
			row[ct.Name()] = reflect.ValueOf(vals[i]).Elem().Interface()
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.Wrap(perr.StreamTransportError, "iterate rows", err)
	}
	return out, nil
}

func (c *ClickHouseClient) Append(ctx context.Context, stream string, row Row) error {
	cols := make([]string, 0, len(row))
	placeholders := make([]string, 0, len(row))
	vals := make([]any, 0, len(row))
	for k, v := range row {
		cols = append(cols, k)
		placeholders = append(placeholders, "?")
		vals = append(vals, v)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", stream, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if err := c.batch.Exec(ctx, stmt, vals...); err != nil {
		return perr.Wrap(perr.StreamTransportError, "append row to "+stream, err)
	}
	return nil
}

func (c *ClickHouseClient) Close() error { return c.batch.Close() }

func (c *ClickHouseClient) Tail(ctx context.Context, stream string, where string, seek Seek) (*Cursor, error) {
	tailCtx, cancel := context.WithCancel(ctx)
	rowsCh := make(chan Row)
	errCh := make(chan error, 1)

	since, err := c.seekTime(tailCtx, stream, seek)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer close(rowsCh)
		ticker := time.NewTicker(c.pollEvery)
		defer ticker.Stop()
		seen := map[string]bool{}
		for {
			select {
			case <-tailCtx.Done():
				return
			case <-ticker.C:
				stmt := fmt.Sprintf("SELECT * FROM %s WHERE timestamp > ?", stream)
				if where != "" {
					stmt += " AND " + where
				}
				stmt += " ORDER BY timestamp ASC, id ASC"
				rows, err := c.Query(tailCtx, stmt, since)
				if err != nil {
					select {
					case errCh <- perr.Wrap(perr.StreamTransportError, "tail poll on "+stream, err):
					default:
					}
					return
				}
				for _, r := range rows {
					id := r.String("id")
					if id != "" && seen[id] {
						continue
					}
					if id != "" {
						seen[id] = true
					}
					if t := r.Time("timestamp"); t.After(since) {
						since = t
					}
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

func (c *ClickHouseClient) seekTime(ctx context.Context, stream string, seek Seek) (time.Time, error) {
	switch seek.Kind {
	case SeekAbsolute:
		return seek.At, nil
	case SeekRelative:
		return time.Now().UTC().Add(-seek.Ago), nil
	case SeekEarliest:
		return time.Unix(0, 0).UTC(), nil
	default: // SeekLatest
		rows, err := c.Query(ctx, fmt.Sprintf("SELECT max(timestamp) AS m FROM %s", stream))
		if err != nil || len(rows) == 0 {
			log.Warn().Str("stream", stream).Msg("seek latest fell back to now due to empty or failed max() query")
			return time.Now().UTC(), nil
		}
		if t := rows[0].Time("m"); !t.IsZero() {
			return t, nil
		}
		return time.Now().UTC(), nil
	}
}
