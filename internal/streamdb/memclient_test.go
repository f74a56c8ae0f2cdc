package streamdb

import (
	"context"
	"testing"
	"time"
)

func TestMemClientTailDeliversAppendedRows(t *testing.T) {
	c := NewMemClient()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	cur, err := c.Tail(ctx, MessageStream, "", SeekFromEarliest())
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	defer cur.Cancel()

	go func() {
		_ = c.Append(context.Background(), MessageStream, Row{
			"session_id": "s1", "message_type": "user_input", "content": "hi",
		})
	}()

	select {
	case row := <-cur.Rows:
		if row.String("session_id") != "s1" {
			t.Fatalf("unexpected row: %+v", row)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for tailed row")
	}
}

func TestMemClientQueryStreamOrdering(t *testing.T) {
	c := NewMemClient()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = c.Append(ctx, MessageStream, Row{"id": "b", "timestamp": base.Add(2 * time.Second), "session_id": "s1"})
	_ = c.Append(ctx, MessageStream, Row{"id": "a", "timestamp": base, "session_id": "s1"})

	rows := c.QueryStream(MessageStream, nil)
	if len(rows) != 2 || rows[0].String("id") != "a" || rows[1].String("id") != "b" {
		t.Fatalf("rows not ordered by timestamp: %+v", rows)
	}
}
