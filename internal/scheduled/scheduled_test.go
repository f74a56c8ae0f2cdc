package scheduled

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pulsebot/internal/config"
	"pulsebot/internal/streamdb"
)

func TestRunHeartbeatAppendsHeartbeatMessage(t *testing.T) {
	db := streamdb.NewMemClient()
	s := New(db, config.AgentConfig{Name: "pulsebot"}, nil)

	if err := s.runHeartbeat(context.Background(), config.ScheduledTaskConfig{Enabled: true, Interval: "30m"}); err != nil {
		t.Fatalf("runHeartbeat: %v", err)
	}

	rows := db.QueryStream(streamdb.MessageStream, func(r streamdb.Row) bool {
		return r.String("message_type") == "heartbeat"
	})
	if len(rows) != 1 {
		t.Fatalf("expected one heartbeat row, got %d", len(rows))
	}
	if rows[0].String("target") != "agent" {
		t.Fatalf("expected heartbeat targeted at agent, got %q", rows[0].String("target"))
	}
}

func TestRunDailySummaryAppendsPriorityOneScheduledTask(t *testing.T) {
	db := streamdb.NewMemClient()
	s := New(db, config.AgentConfig{Name: "pulsebot"}, nil)

	cfg := config.ScheduledTaskConfig{Enabled: false, Cron: "0 9 * * *", Payload: map[string]any{"scope": "24h"}}
	if err := s.runDailySummary(context.Background(), cfg); err != nil {
		t.Fatalf("runDailySummary: %v", err)
	}

	rows := db.QueryStream(streamdb.MessageStream, func(r streamdb.Row) bool {
		return r.String("message_type") == "scheduled_task"
	})
	if len(rows) != 1 {
		t.Fatalf("expected one scheduled_task row, got %d", len(rows))
	}
	if rows[0].Int("priority") != 1 {
		t.Fatalf("expected priority 1, got %d", rows[0].Int("priority"))
	}
	var content struct {
		Task  string `json:"task"`
		Scope string `json:"scope"`
	}
	_ = json.Unmarshal([]byte(rows[0].String("content")), &content)
	if content.Task != "daily_summary" || content.Scope != "24h" {
		t.Fatalf("expected payload merged into content, got %+v", content)
	}
}

func TestRunCostAlertSkipsBelowThreshold(t *testing.T) {
	db := streamdb.NewMemClient()
	s := New(db, config.AgentConfig{Name: "pulsebot"}, nil)
	s.costThresholdUSD = 10.0

	if err := db.Append(context.Background(), streamdb.LLMStream, streamdb.Row{
		"session_id": "s1", "estimated_cost": 1.0,
	}); err != nil {
		t.Fatalf("seed llm log: %v", err)
	}

	if err := s.runCostAlert(context.Background(), config.ScheduledTaskConfig{Enabled: true, Interval: "1h"}); err != nil {
		t.Fatalf("runCostAlert: %v", err)
	}

	events := db.QueryStream(streamdb.EventStream, func(r streamdb.Row) bool {
		return r.String("event_type") == "cost_alert"
	})
	if len(events) != 0 {
		t.Fatalf("expected no cost_alert event below threshold, got %d", len(events))
	}
}

func TestRunCostAlertFiresAboveThreshold(t *testing.T) {
	db := streamdb.NewMemClient()
	s := New(db, config.AgentConfig{Name: "pulsebot"}, nil)
	s.costThresholdUSD = 1.0

	for i := 0; i < 3; i++ {
		if err := db.Append(context.Background(), streamdb.LLMStream, streamdb.Row{
			"session_id": "s1", "estimated_cost": 0.5,
		}); err != nil {
			t.Fatalf("seed llm log: %v", err)
		}
	}

	if err := s.runCostAlert(context.Background(), config.ScheduledTaskConfig{Enabled: true, Interval: "1h"}); err != nil {
		t.Fatalf("runCostAlert: %v", err)
	}

	events := db.QueryStream(streamdb.EventStream, func(r streamdb.Row) bool {
		return r.String("event_type") == "cost_alert"
	})
	if len(events) != 1 {
		t.Fatalf("expected one cost_alert event, got %d", len(events))
	}
	if events[0].String("severity") != "warning" {
		t.Fatalf("expected warning severity, got %q", events[0].String("severity"))
	}
}

func TestRunCostAlertHonorsPayloadThreshold(t *testing.T) {
	db := streamdb.NewMemClient()
	s := New(db, config.AgentConfig{Name: "pulsebot"}, nil)

	if err := db.Append(context.Background(), streamdb.LLMStream, streamdb.Row{
		"session_id": "s1", "estimated_cost": 2.0,
	}); err != nil {
		t.Fatalf("seed llm log: %v", err)
	}

	cfg := config.ScheduledTaskConfig{Enabled: true, Interval: "1h", Payload: map[string]any{"threshold_usd": 5.0}}
	if err := s.runCostAlert(context.Background(), cfg); err != nil {
		t.Fatalf("runCostAlert: %v", err)
	}

	events := db.QueryStream(streamdb.EventStream, nil)
	if len(events) != 0 {
		t.Fatalf("expected threshold override to suppress the alert, got %d events", len(events))
	}
}

func TestRunSkipsUnknownTaskNameAndStopsOnCancel(t *testing.T) {
	db := streamdb.NewMemClient()
	s := New(db, config.AgentConfig{Name: "pulsebot"}, map[string]config.ScheduledTaskConfig{
		"mystery":   {Enabled: true, Interval: "1ms"},
		"heartbeat": {Enabled: true, Interval: "2ms"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err == nil {
		t.Fatal("expected Run to return the context's deadline error")
	}

	rows := db.QueryStream(streamdb.MessageStream, func(r streamdb.Row) bool {
		return r.String("message_type") == "heartbeat"
	})
	if len(rows) == 0 {
		t.Fatal("expected at least one heartbeat tick before cancellation")
	}
}
