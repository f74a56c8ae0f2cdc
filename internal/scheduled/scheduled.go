// Package scheduled runs the periodic producers (C9): heartbeat,
// daily_summary, and cost_alert. Each producer only appends a row to the
// stream log; consumption is handled by the agent loop and external
// tooling, not by this package.
package scheduled

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"pulsebot/internal/config"
	"pulsebot/internal/streamdb"
)

// schedulerSessionID is the stable session identity producer-appended rows
// carry, so the agent loop's context builder can assemble a coherent
// history for turns triggered by a heartbeat or scheduled_task rather than
// by a user.
const schedulerSessionID = "scheduler"

const defaultCostAlertThresholdUSD = 1.0

// handlerFunc executes one scheduled task firing.
type handlerFunc func(ctx context.Context, cfg config.ScheduledTaskConfig) error

// Scheduler wires config.ScheduledTaskConfig entries to their producers,
// running cron-style entries through robfig/cron and interval-style
// entries on a ticker.
type Scheduler struct {
	db    streamdb.Client
	agent config.AgentConfig
	tasks map[string]config.ScheduledTaskConfig
	cron  *cron.Cron

	costThresholdUSD float64
}

func New(db streamdb.Client, agent config.AgentConfig, tasks map[string]config.ScheduledTaskConfig) *Scheduler {
	return &Scheduler{
		db:               db,
		agent:            agent,
		tasks:            tasks,
		cron:             cron.New(),
		costThresholdUSD: defaultCostAlertThresholdUSD,
	}
}

// handlerFor returns the producer registered for a task name, or nil when
// the configured name has no known behavior.
func (s *Scheduler) handlerFor(name string) handlerFunc {
	switch name {
	case "heartbeat":
		return s.runHeartbeat
	case "daily_summary":
		return s.runDailySummary
	case "cost_alert":
		return s.runCostAlert
	default:
		return nil
	}
}

// Run wires every enabled task to its schedule and blocks until ctx is
// canceled, at which point it stops the cron engine and all interval
// tickers and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	var tickers []*time.Ticker

	for name, cfg := range s.tasks {
		if !cfg.Enabled {
			continue
		}
		handler := s.handlerFor(name)
		if handler == nil {
			log.Warn().Str("task", name).Msg("scheduled task has no registered producer, skipping")
			continue
		}

		switch {
		case cfg.Cron != "":
			taskCfg, taskName := cfg, name
			if _, err := s.cron.AddFunc(cfg.Cron, func() {
				s.runOnce(ctx, taskCfg, handler, taskName)
			}); err != nil {
				log.Error().Err(err).Str("task", name).Str("cron", cfg.Cron).
					Msg("invalid cron expression, task disabled")
			}
		case cfg.Interval != "":
			d, err := time.ParseDuration(cfg.Interval)
			if err != nil {
				log.Error().Err(err).Str("task", name).Str("interval", cfg.Interval).
					Msg("invalid interval, task disabled")
				continue
			}
			ticker := time.NewTicker(d)
			tickers = append(tickers, ticker)
			go s.runOnTicker(ctx, ticker, cfg, handler, name)
		default:
			log.Warn().Str("task", name).Msg("scheduled task has neither cron nor interval configured, skipping")
		}
	}

	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	for _, t := range tickers {
		t.Stop()
	}
	return ctx.Err()
}

func (s *Scheduler) runOnTicker(ctx context.Context, t *time.Ticker, cfg config.ScheduledTaskConfig, handler handlerFunc, name string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runOnce(ctx, cfg, handler, name)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, cfg config.ScheduledTaskConfig, handler handlerFunc, name string) {
	if err := handler(ctx, cfg); err != nil {
		log.Error().Err(err).Str("task", name).Msg("scheduled task producer failed")
	}
}

// runHeartbeat appends a heartbeat message targeted at the agent.
func (s *Scheduler) runHeartbeat(ctx context.Context, cfg config.ScheduledTaskConfig) error {
	content, err := json.Marshal(map[string]any{"agent": s.agent.Name})
	if err != nil {
		return err
	}
	return s.db.Append(ctx, streamdb.MessageStream, streamdb.Row{
		"id":           streamdb.NewID(),
		"source":       "scheduler",
		"target":       "agent",
		"session_id":   schedulerSessionID,
		"message_type": "heartbeat",
		"content":      string(content),
	})
}

// runDailySummary appends a priority-1 scheduled_task message carrying any
// operator-configured payload.
func (s *Scheduler) runDailySummary(ctx context.Context, cfg config.ScheduledTaskConfig) error {
	payload := map[string]any{"task": "daily_summary"}
	for k, v := range cfg.Payload {
		payload[k] = v
	}
	content, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.db.Append(ctx, streamdb.MessageStream, streamdb.Row{
		"id":           streamdb.NewID(),
		"source":       "scheduler",
		"target":       "agent",
		"session_id":   schedulerSessionID,
		"message_type": "scheduled_task",
		"content":      string(content),
		"priority":     1,
	})
}

// runCostAlert sums estimated_cost across the last hour of the LLM log and
// appends a warning event when the operator-configured (or default)
// threshold is exceeded.
func (s *Scheduler) runCostAlert(ctx context.Context, cfg config.ScheduledTaskConfig) error {
	threshold := s.costThresholdUSD
	if v, ok := cfg.Payload["threshold_usd"]; ok {
		if f, ok := v.(float64); ok {
			threshold = f
		}
	}

	since := time.Now().UTC().Add(-time.Hour)
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		"SELECT * FROM %s WHERE timestamp >= '%s'", streamdb.LLMStream, since.Format(time.RFC3339Nano),
	))
	if err != nil {
		return err
	}

	var total float64
	var calls int
	for _, r := range rows {
		if r.Time("timestamp").Before(since) {
			continue
		}
		total += r.Float64("estimated_cost")
		calls++
	}

	if total <= threshold {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"window":         "1h",
		"total_cost_usd": total,
		"threshold_usd":  threshold,
		"llm_call_count": calls,
	})
	if err != nil {
		return err
	}
	return s.db.Append(ctx, streamdb.EventStream, streamdb.Row{
		"id":         streamdb.NewID(),
		"event_type": "cost_alert",
		"source":     "scheduler",
		"severity":   "warning",
		"payload":    string(payload),
	})
}
