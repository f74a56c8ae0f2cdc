package kafkamirror

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"

	"pulsebot/internal/config"
	"pulsebot/internal/streamdb"
)

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}
func (f *fakeWriter) Close() error { return nil }

func TestNewReturnsNilWhenDisabled(t *testing.T) {
	m, err := New(config.KafkaMirrorConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m != nil {
		t.Fatal("expected nil mirror when disabled")
	}
	// Publish and Close on a nil Mirror must be safe no-ops.
	m.Publish(context.Background(), streamdb.Row{"target": "agent"})
	if err := m.Close(); err != nil {
		t.Fatalf("Close on nil mirror: %v", err)
	}
}

func TestPublishRoutesByTarget(t *testing.T) {
	fw := &fakeWriter{}
	m := &Mirror{writer: fw}

	m.Publish(context.Background(), streamdb.Row{"target": "channel:slack-general", "session_id": "s1"})
	m.Publish(context.Background(), streamdb.Row{"target": "agent", "session_id": "s2"})

	if len(fw.msgs) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(fw.msgs))
	}
	if fw.msgs[0].Topic != "pulsebot.channel.slack-general" {
		t.Fatalf("expected sanitized topic name, got %q", fw.msgs[0].Topic)
	}
	if fw.msgs[1].Topic != "pulsebot.agent" {
		t.Fatalf("unexpected topic: %q", fw.msgs[1].Topic)
	}
}

func TestWrapMirrorsMessageLogAppendsOnly(t *testing.T) {
	db := streamdb.NewMemClient()
	fw := &fakeWriter{}
	wrapped := Wrap(db, &Mirror{writer: fw})

	if err := wrapped.Append(context.Background(), streamdb.MessageStream, streamdb.Row{
		"target": "agent", "message_type": "user_input",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := wrapped.Append(context.Background(), streamdb.LLMStream, streamdb.Row{
		"session_id": "s1",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if len(fw.msgs) != 1 {
		t.Fatalf("expected only the message_log append mirrored, got %d", len(fw.msgs))
	}
}

func TestWrapReturnsUnderlyingClientWhenMirrorNil(t *testing.T) {
	db := streamdb.NewMemClient()
	if Wrap(db, nil) != streamdb.Client(db) {
		t.Fatal("expected Wrap to return the underlying client unchanged when mirror is nil")
	}
}

func TestPublishSkipsRowsWithoutTarget(t *testing.T) {
	fw := &fakeWriter{}
	m := &Mirror{writer: fw}

	m.Publish(context.Background(), streamdb.Row{"session_id": "s1"})

	if len(fw.msgs) != 0 {
		t.Fatalf("expected no publish for a targetless row, got %d", len(fw.msgs))
	}
}
