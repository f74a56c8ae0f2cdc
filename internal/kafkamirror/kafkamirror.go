// Package kafkamirror implements the optional low-latency façade mirror: a
// best-effort copy of every Message-log append published to a Kafka topic
// named after the row's `target`, for external façades that cannot afford
// to poll or tail the streaming DB directly. The streaming DB remains the
// source of truth; mirror failures never fail the append that triggered
// them.
package kafkamirror

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"pulsebot/internal/config"
	"pulsebot/internal/streamdb"
)

// topicPrefix namespaces mirrored topics so they don't collide with
// unrelated topics on a shared Kafka cluster.
const topicPrefix = "pulsebot."

// Writer abstracts kafka.Writer so tests can substitute a fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Mirror publishes message_log rows to Kafka, one topic per distinct
// `target` value (`agent`, `channel:<name>`, `broadcast`).
type Mirror struct {
	writer Writer
}

// New constructs a Mirror, or returns (nil, nil) when the config disables
// it — callers should treat a nil Mirror as "do nothing".
func New(cfg config.KafkaMirrorConfig) (*Mirror, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Mirror{writer: w}, nil
}

// Publish mirrors one message_log row. Failures are logged locally and
// swallowed, so they never fail a turn; no event_log row is appended for
// them. The write is synchronous: the caller (MirroredClient.Append) waits
// for it to return.
func (m *Mirror) Publish(ctx context.Context, row streamdb.Row) {
	if m == nil {
		return
	}
	target := row.String("target")
	if target == "" {
		return
	}

	payload, err := json.Marshal(row)
	if err != nil {
		log.Warn().Err(err).Msg("kafka mirror: marshal row failed")
		return
	}

	msg := kafka.Message{
		Topic: topicFor(target),
		Key:   []byte(row.String("session_id")),
		Value: payload,
	}
	if err := m.writer.WriteMessages(ctx, msg); err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic).Msg("kafka mirror: publish failed")
	}
}

// Close releases the underlying writer.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.writer.Close()
}

// topicFor turns a `target` value into a Kafka-safe topic name. Kafka topic
// names disallow ':', which the `channel:<name>` convention uses.
func topicFor(target string) string {
	return topicPrefix + strings.ReplaceAll(target, ":", ".")
}

// MirroredClient decorates a streamdb.Client so every message_log Append is
// also published to the mirror, without changing any other stream's
// behavior or the caller-visible Append contract (the append itself still
// succeeds or fails solely on the underlying client's result).
type MirroredClient struct {
	streamdb.Client
	mirror *Mirror
}

// Wrap returns client unchanged when mirror is nil, so callers can wire
// this unconditionally regardless of configuration.
func Wrap(client streamdb.Client, mirror *Mirror) streamdb.Client {
	if mirror == nil {
		return client
	}
	return &MirroredClient{Client: client, mirror: mirror}
}

func (c *MirroredClient) Append(ctx context.Context, stream string, row streamdb.Row) error {
	err := c.Client.Append(ctx, stream, row)
	if err == nil && stream == streamdb.MessageStream {
		c.mirror.Publish(ctx, row)
	}
	return err
}
