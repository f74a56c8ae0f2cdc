// Package agentloop implements the agent loop (C8): the long-lived task
// that tails the message log for one agent identity, drives the
// reason/act cycle through the LLM provider and tool registry, and appends
// the resulting messages, LLM-log, tool-log, and event records.
package agentloop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"pulsebot/internal/config"
	"pulsebot/internal/contextbuilder"
	"pulsebot/internal/llm"
	"pulsebot/internal/memory"
	"pulsebot/internal/metastore"
	"pulsebot/internal/observability"
	"pulsebot/internal/perr"
	"pulsebot/internal/skills"
	"pulsebot/internal/streamdb"
)

const (
	maxIterations      = 10
	defaultLLMTimeout  = 60 * time.Second
	defaultToolTimeout = 30 * time.Second
	previewMaxLen      = 200
)

// triggerTypes are the message_type values that wake the loop for a session.
var triggerTypes = map[string]bool{
	"user_input":     true,
	"tool_result":    true,
	"heartbeat":      true,
	"scheduled_task": true,
}

// Loop owns one agent identity's tail-driven reason/act cycle.
type Loop struct {
	db           streamdb.Client
	provider     llm.Provider
	registry     *skills.Registry
	mem          *memory.Manager
	builder      *contextbuilder.Builder
	agent        config.AgentConfig
	llmTimeout   time.Duration
	toolTimeout  time.Duration
	selfWritten  *recentSet // tool_result ids this loop appended, to avoid re-triggering on its own writes
}

func New(db streamdb.Client, provider llm.Provider, registry *skills.Registry, mem *memory.Manager, agent config.AgentConfig) *Loop {
	return &Loop{
		db:          db,
		provider:    provider,
		registry:    registry,
		mem:         mem,
		builder:     contextbuilder.New(db, mem, registry, agent),
		agent:       agent,
		llmTimeout:  defaultLLMTimeout,
		toolTimeout: defaultToolTimeout,
		selfWritten: newRecentSet(1000),
	}
}

// WithSessionDirectory enables the loop's context builder to resolve a
// session's display name/channel binding through the metastore instead of
// using session_id verbatim. Returns the same Loop for chaining.
func (l *Loop) WithSessionDirectory(dir metastore.SessionDirectory) *Loop {
	l.builder.WithSessionDirectory(dir)
	return l
}

// Run tails the message log for target='agent' starting at latest and
// processes each triggering row until ctx is canceled. On stream transport
// loss it restarts the tail from the last successfully observed seek.
func (l *Loop) Run(ctx context.Context) error {
	seek := streamdb.SeekLatestAt()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cursor, err := l.db.Tail(ctx, streamdb.MessageStream, "target = 'agent'", seek)
		if err != nil {
			return perr.Wrap(perr.StreamTransportError, "tail message log", err)
		}

		restart, lastSeen := l.consume(ctx, cursor)
		cursor.Cancel()
		if !restart {
			return ctx.Err()
		}
		if !lastSeen.IsZero() {
			seek = streamdb.SeekAt(lastSeen)
		}
	}
}

// consume drains one tail cursor until it closes or ctx is canceled,
// returning whether the caller should reconnect and the timestamp of the
// last row observed (used to resume without reprocessing or gapping).
func (l *Loop) consume(ctx context.Context, cursor *streamdb.Cursor) (restart bool, lastSeen time.Time) {
	for {
		select {
		case <-ctx.Done():
			return false, lastSeen
		case row, ok := <-cursor.Rows:
			if !ok {
				return true, lastSeen
			}
			lastSeen = row.Time("timestamp")
			l.dispatchRow(ctx, row)
		case err, ok := <-cursor.Errs:
			if !ok {
				return true, lastSeen
			}
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("agent loop tail error, reconnecting")
			return true, lastSeen
		}
	}
}

func (l *Loop) dispatchRow(ctx context.Context, row streamdb.Row) {
	mt := row.String("message_type")
	if !triggerTypes[mt] {
		return
	}
	if mt == "tool_result" && l.selfWritten.contains(row.String("id")) {
		return
	}
	l.processTurn(ctx, row)
}

// processTurn runs one full turn for the session named by row, recovering
// from panics the same way the state machine's "unrecoverable error"
// transition is specified: logged, surfaced as an error message, loop
// continues.
func (l *Loop) processTurn(ctx context.Context, row streamdb.Row) {
	sessionID := row.String("session_id")
	source := row.String("source")
	userID := row.String("user_id")

	defer func() {
		if r := recover(); r != nil {
			l.handleTurnError(ctx, sessionID, source, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := l.runTurn(ctx, row, sessionID, source, userID); err != nil {
		l.handleTurnError(ctx, sessionID, source, err)
	}
}

func (l *Loop) runTurn(ctx context.Context, row streamdb.Row, sessionID, source, userID string) error {
	var userText string
	if row.String("message_type") == "user_input" {
		var payload struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal([]byte(row.String("content")), &payload)
		userText = payload.Text
	}

	built, err := l.builder.Build(ctx, contextbuilder.Request{
		SessionID:     sessionID,
		UserMessage:   userText,
		UserID:        userID,
		ChannelName:   source,
		IncludeMemory: l.mem != nil && l.mem.IsAvailable(),
		MemoryLimit:   5,
	})
	if err != nil {
		return err
	}

	messages := built.Messages
	var final string
	truncated := false

	for iter := 0; iter < maxIterations; iter++ {
		resp, err := l.callLLM(ctx, sessionID, messages, built.SystemPrompt, built.Tools)
		if err != nil {
			return l.surfaceError(ctx, sessionID, source, err)
		}

		if len(resp.ToolCalls) == 0 {
			final = resp.Content
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			break
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, tc := range resp.ToolCalls {
			result := l.runTool(ctx, sessionID, source, tc)
			content, _ := json.Marshal(result)
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: string(content), ToolID: tc.ID})
		}

		if iter == maxIterations-1 {
			truncated = true
		}
	}

	if truncated && final == "" {
		return l.handleTruncation(ctx, sessionID, source)
	}

	if err := l.emitAgentResponse(ctx, sessionID, source, final); err != nil {
		return err
	}

	l.extractMemory(ctx, sessionID, messages)
	return nil
}

// callLLM times one provider call and appends the LLM-log record.
func (l *Loop) callLLM(ctx context.Context, sessionID string, messages []llm.Message, system string, tools []llm.ToolSchema) (llm.ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.llmTimeout)
	defer cancel()

	start := time.Now()
	resp, err := l.provider.Chat(callCtx, messages, system, tools)
	latency := time.Since(start)

	status := string(llm.StatusSuccess)
	errMsg := ""
	if err != nil {
		status = string(llm.StatusError)
		if kind, ok := perr.KindOf(err); ok {
			switch kind {
			case perr.LLMTimeout:
				status = string(llm.StatusTimeout)
			case perr.LLMRateLimited:
				status = string(llm.StatusRateLimited)
			}
		}
		errMsg = err.Error()
	} else if resp.Status != "" {
		status = string(resp.Status)
	}

	toolNames := make([]string, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		toolNames = append(toolNames, tc.Name)
	}

	userPreview, assistantPreview := "", ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			userPreview = truncatePreview(messages[i].Content)
			break
		}
	}
	assistantPreview = truncatePreview(resp.Content)

	appendErr := l.db.Append(ctx, streamdb.LLMStream, streamdb.Row{
		"session_id":                 sessionID,
		"model":                      l.provider.Model(),
		"provider":                   l.provider.ProviderName(),
		"input_tokens":               resp.Usage.InputTokens,
		"output_tokens":              resp.Usage.OutputTokens,
		"total_tokens":               resp.Usage.TotalTokens,
		"estimated_cost":             0.0,
		"latency_ms":                 int(latency.Milliseconds()),
		"time_to_first_token_ms":     0,
		"system_prompt_hash":         hashPrompt(system),
		"user_message_preview":       userPreview,
		"assistant_response_preview": assistantPreview,
		"tools_called":               toolNames,
		"tool_call_count":            len(resp.ToolCalls),
		"status":                     status,
		"error_message":              errMsg,
	})
	if appendErr != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(appendErr).Msg("failed to append llm-log record, degrading to local log")
	}

	return resp, err
}

// runTool dispatches through the skill registry with a bounded timeout and
// appends the tool-log, tool_call status, and tool_result records. Tool
// calls are always invoked sequentially by the caller (§5 ordering
// guarantee); runTool itself performs exactly one call and appends exactly
// one tool_call message (§4.8 step 2(b)).
func (l *Loop) runTool(ctx context.Context, sessionID, source string, tc llm.ToolCall) skills.Result {
	toolCtx, cancel := context.WithTimeout(ctx, l.toolTimeout)
	defer cancel()

	start := time.Now()
	result, err := l.registry.Dispatch(toolCtx, tc.Name, tc.Arguments)
	duration := time.Since(start)

	status := "success"
	errMsg := ""
	if err != nil {
		status = "error"
		errMsg = err.Error()
		result = skills.Result{Success: false, Error: errMsg}
		if kind, ok := perr.KindOf(err); ok && kind == perr.UnknownTool {
			result.Error = "unknown tool"
		}
	} else if !result.Success {
		status = "error"
		errMsg = result.Error
	}

	redactedArgs := observability.RedactJSON(tc.Arguments)
	preview, _ := json.Marshal(result.Output)
	logErr := l.db.Append(ctx, streamdb.ToolStream, streamdb.Row{
		"session_id":     sessionID,
		"tool_name":      tc.Name,
		"skill_name":     tc.Name,
		"arguments":      string(redactedArgs),
		"status":         status,
		"result_preview": truncatePreview(string(preview)),
		"error_message":  errMsg,
		"duration_ms":    int(duration.Milliseconds()),
	})
	if logErr != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(logErr).Msg("failed to append tool-log record, degrading to local log")
	}

	l.broadcastToolStatus(ctx, sessionID, source, tc, redactedArgs, status, duration.Milliseconds(), errMsg)
	l.appendToolResult(ctx, sessionID, tc, result)

	return result
}

// broadcastToolStatus appends the single tool_call status message for one
// tool invocation, carrying its outcome (§4.8 step 2(b): one append per call).
// args is the already-redacted argument payload, never the raw tool call.
func (l *Loop) broadcastToolStatus(ctx context.Context, sessionID, source string, tc llm.ToolCall, args []byte, status string, durationMs int64, errMsg string) {
	content := map[string]any{
		"tool_name":         tc.Name,
		"arguments_summary": truncatePreview(string(args)),
		"status":            status,
	}
	if durationMs > 0 {
		content["duration_ms"] = durationMs
	}
	if errMsg != "" {
		content["error"] = errMsg
	}
	raw, _ := json.Marshal(content)
	err := l.db.Append(ctx, streamdb.MessageStream, streamdb.Row{
		"source":       "agent",
		"target":       "channel:" + source,
		"session_id":   sessionID,
		"message_type": "tool_call",
		"content":      string(raw),
	})
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("failed to broadcast tool_call status")
	}
}

func (l *Loop) appendToolResult(ctx context.Context, sessionID string, tc llm.ToolCall, result skills.Result) {
	content := map[string]any{
		"tool_call_id": tc.ID,
		"tool_name":    tc.Name,
		"success":      result.Success,
		"output":       result.Output,
	}
	if result.Error != "" {
		content["error"] = result.Error
	}
	raw, _ := json.Marshal(content)
	id := streamdb.NewID()
	row := streamdb.Row{
		"id":           id,
		"source":       "agent",
		"target":       "agent",
		"session_id":   sessionID,
		"message_type": "tool_result",
		"content":      string(raw),
	}
	if err := l.db.Append(ctx, streamdb.MessageStream, row); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("failed to append tool_result message")
		return
	}
	l.selfWritten.add(id)
}

// emitAgentResponse writes the final answer to the originating channel.
func (l *Loop) emitAgentResponse(ctx context.Context, sessionID, source, text string) error {
	raw, _ := json.Marshal(map[string]any{"text": text})
	return l.db.Append(ctx, streamdb.MessageStream, streamdb.Row{
		"source":       "agent",
		"target":       "channel:" + source,
		"session_id":   sessionID,
		"message_type": "agent_response",
		"content":      string(raw),
	})
}

// handleTruncation implements the iteration-cap branch of the state
// machine: a truncation response plus a warning event.
func (l *Loop) handleTruncation(ctx context.Context, sessionID, source string) error {
	text := "I wasn't able to finish this within the allotted number of steps. Please try rephrasing or breaking the request down."
	if err := l.emitAgentResponse(ctx, sessionID, source, text); err != nil {
		return err
	}
	return l.appendEvent(ctx, "iteration_cap_reached", "warning", map[string]any{"session_id": sessionID})
}

// surfaceError converts an in-turn LLM error into an error message for the
// originating channel, per the error-kind propagation table; the turn still
// terminates without panicking the loop.
func (l *Loop) surfaceError(ctx context.Context, sessionID, source string, err error) error {
	raw, _ := json.Marshal(map[string]any{"message": err.Error()})
	appendErr := l.db.Append(ctx, streamdb.MessageStream, streamdb.Row{
		"source":       "agent",
		"target":       "channel:" + source,
		"session_id":   sessionID,
		"message_type": "error",
		"content":      string(raw),
	})
	if appendErr != nil {
		observability.LoggerWithTrace(ctx).Error().Err(appendErr).Msg("failed to surface llm error to channel")
	}
	return err
}

// handleTurnError logs the event stream and surfaces an error message to
// the originating channel, matching the "any state -> RECOVERING -> IDLE"
// transition; it never propagates back to Run, so the loop continues.
func (l *Loop) handleTurnError(ctx context.Context, sessionID, source string, err error) {
	observability.LoggerWithTrace(ctx).Error().Err(err).Str("session_id", sessionID).Msg("agent turn failed")
	_ = l.appendEvent(ctx, "turn_error", "error", map[string]any{"session_id": sessionID, "error": err.Error()})
	raw, _ := json.Marshal(map[string]any{"message": "An internal error occurred while handling your request."})
	_ = l.db.Append(ctx, streamdb.MessageStream, streamdb.Row{
		"source":       "agent",
		"target":       "channel:" + source,
		"session_id":   sessionID,
		"message_type": "error",
		"content":      string(raw),
	})
}

func (l *Loop) appendEvent(ctx context.Context, eventType, severity string, payload map[string]any) error {
	raw, _ := json.Marshal(payload)
	return l.db.Append(ctx, streamdb.EventStream, streamdb.Row{
		"event_type": eventType,
		"source":     "agent_loop",
		"severity":   severity,
		"payload":    string(raw),
	})
}

// extractMemory requests a structured extraction of durable facts from the
// last up-to-5 session messages and stores each valid entry. Parse failures
// are swallowed and logged, matching the spec's "parsing failures are
// swallowed and logged" directive for this sub-call.
func (l *Loop) extractMemory(ctx context.Context, sessionID string, messages []llm.Message) {
	if l.mem == nil || !l.mem.IsAvailable() {
		return
	}
	tail := messages
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	if len(tail) == 0 {
		return
	}

	const extractionInstruction = `Review the conversation below and extract any durable facts, preferences, or ` +
		`lessons worth remembering long-term. Respond with a JSON array only, each element shaped ` +
		`{"type": "fact"|"preference"|"conversation_summary"|"skill_learned", "content": "...", "importance": 0.0-1.0}. ` +
		`Return an empty array if nothing is worth keeping.`

	resp, err := l.provider.Chat(ctx, tail, extractionInstruction, nil)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("memory extraction call failed")
		return
	}

	var entries []struct {
		Type       string  `json:"type"`
		Content    string  `json:"content"`
		Importance float32 `json:"importance"`
	}
	if err := json.Unmarshal([]byte(extractJSONArray(resp.Content)), &entries); err != nil {
		observability.LoggerWithTrace(ctx).Debug().Err(err).Str("session_id", sessionID).Msg("memory extraction response not valid JSON, skipping")
		return
	}

	for _, e := range entries {
		memType := memory.Type(e.Type)
		switch memType {
		case memory.TypeFact, memory.TypePreference, memory.TypeConversationSummary, memory.TypeSkillLearned:
		default:
			continue
		}
		if e.Content == "" {
			continue
		}
		if _, err := l.mem.Store(ctx, e.Content, memType, memory.CategoryGeneral, e.Importance, sessionID, true); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("memory store failed during extraction")
		}
	}
}

// extractJSONArray returns the substring of s spanning its first '[' to its
// last ']', tolerating a model response that wraps the array in prose or a
// code fence.
func extractJSONArray(s string) string {
	start := -1
	end := -1
	for i, c := range s {
		if c == '[' && start == -1 {
			start = i
		}
		if c == ']' {
			end = i
		}
	}
	if start == -1 || end == -1 || end < start {
		return "[]"
	}
	return s[start : end+1]
}

func truncatePreview(s string) string {
	if len(s) <= previewMaxLen {
		return s
	}
	return s[:previewMaxLen]
}

func hashPrompt(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
