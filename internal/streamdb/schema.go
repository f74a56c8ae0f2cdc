package streamdb

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"pulsebot/internal/perr"
)

// Stream names for the five append-only logs (§3).
const (
	MessageStream = "message_log"
	LLMStream     = "llm_log"
	ToolStream    = "tool_log"
	MemoryStream  = "memory_log"
	EventStream   = "event_log"
)

// columnSpec is one declared column: name, ClickHouse type, and default.
type columnSpec struct {
	name    string
	ddlType string
	def     string
}

var schemas = map[string][]columnSpec{
	MessageStream: {
		{"id", "String", "generateUUIDv4()"},
		{"timestamp", "DateTime64(3)", "now64(3)"},
		{"source", "String", "''"},
		{"target", "String", "''"},
		{"session_id", "String", "''"},
		{"message_type", "String", "''"},
		{"content", "String", "''"},
		{"user_id", "String", "''"},
		{"channel_metadata", "String", "'{}'"},
		{"priority", "Int8", "0"},
	},
	LLMStream: {
		{"id", "String", "generateUUIDv4()"},
		{"timestamp", "DateTime64(3)", "now64(3)"},
		{"session_id", "String", "''"},
		{"model", "String", "''"},
		{"provider", "String", "''"},
		{"input_tokens", "UInt32", "0"},
		{"output_tokens", "UInt32", "0"},
		{"total_tokens", "UInt32", "0"},
		{"estimated_cost", "Float64", "0"},
		{"latency_ms", "UInt32", "0"},
		{"time_to_first_token_ms", "UInt32", "0"},
		{"system_prompt_hash", "String", "''"},
		{"user_message_preview", "String", "''"},
		{"assistant_response_preview", "String", "''"},
		{"tools_called", "Array(String)", "[]"},
		{"tool_call_count", "UInt16", "0"},
		{"status", "String", "'success'"},
		{"error_message", "String", "''"},
	},
	ToolStream: {
		{"id", "String", "generateUUIDv4()"},
		{"timestamp", "DateTime64(3)", "now64(3)"},
		{"session_id", "String", "''"},
		{"llm_request_id", "String", "''"},
		{"tool_name", "String", "''"},
		{"skill_name", "String", "''"},
		{"arguments", "String", "'{}'"},
		{"status", "String", "'started'"},
		{"result_preview", "String", "''"},
		{"error_message", "String", "''"},
		{"duration_ms", "UInt32", "0"},
	},
	MemoryStream: {
		{"id", "String", "generateUUIDv4()"},
		{"timestamp", "DateTime64(3)", "now64(3)"},
		{"memory_type", "String", "''"},
		{"category", "String", "''"},
		{"content", "String", "''"},
		{"source_session_id", "String", "''"},
		{"embedding", "Array(Float32)", "[]"},
		{"importance", "Float32", "0"},
		{"is_deleted", "Bool", "false"},
	},
	EventStream: {
		{"id", "String", "generateUUIDv4()"},
		{"timestamp", "DateTime64(3)", "now64(3)"},
		{"event_type", "String", "''"},
		{"source", "String", "''"},
		{"severity", "String", "'info'"},
		{"payload", "String", "'{}'"},
		{"tags", "Array(String)", "[]"},
	},
}

// EnsureSchema idempotently creates the five logs with their declared
// columns and the event-time attribute set to `timestamp`. Re-running is a
// no-op when the logs already exist; when a log exists with missing
// required columns, EnsureSchema fails fast with SchemaMismatch rather than
// attempting to alter drifted tables.
func EnsureSchema(ctx context.Context, c *ClickHouseClient) error {
	for stream, cols := range schemas {
		if err := createStreamIfNotExists(ctx, c, stream, cols); err != nil {
			return err
		}
		if err := verifyColumns(ctx, c, stream, cols); err != nil {
			return err
		}
	}
	return nil
}

func createStreamIfNotExists(ctx context.Context, c *ClickHouseClient, stream string, cols []columnSpec) error {
	defs := make([]string, 0, len(cols))
	for _, col := range cols {
		defs = append(defs, col.name+" "+col.ddlType+" DEFAULT "+col.def)
	}
	ddl := "CREATE TABLE IF NOT EXISTS " + stream + " (\n  " + strings.Join(defs, ",\n  ") +
		"\n) ENGINE = MergeTree()\nORDER BY (session_id, timestamp)\nTTL timestamp + INTERVAL 90 DAY"
	if stream == EventStream {
		ddl = "CREATE TABLE IF NOT EXISTS " + stream + " (\n  " + strings.Join(defs, ",\n  ") +
			"\n) ENGINE = MergeTree()\nORDER BY (timestamp)\nTTL timestamp + INTERVAL 90 DAY"
	}
	if err := c.Execute(ctx, ddl); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return perr.Wrap(perr.SchemaMismatch, "create stream "+stream, err)
	}
	log.Info().Str("stream", stream).Msg("stream ready")
	return nil
}

func verifyColumns(ctx context.Context, c *ClickHouseClient, stream string, cols []columnSpec) error {
	rows, err := c.Query(ctx, "DESCRIBE TABLE "+stream)
	if err != nil {
		return perr.Wrap(perr.SchemaMismatch, "describe stream "+stream, err)
	}
	have := map[string]bool{}
	for _, r := range rows {
		have[r.String("name")] = true
	}
	for _, col := range cols {
		if !have[col.name] {
			return perr.New(perr.SchemaMismatch, "stream "+stream+" is missing required column "+col.name)
		}
	}
	return nil
}
