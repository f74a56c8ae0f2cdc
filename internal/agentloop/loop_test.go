package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"pulsebot/internal/config"
	"pulsebot/internal/llm"
	"pulsebot/internal/skills"
	"pulsebot/internal/streamdb"
)

// scriptedProvider returns one queued response per Chat call, in order.
type scriptedProvider struct {
	responses []llm.ChatResponse
	calls     int
}

func (p *scriptedProvider) ProviderName() string { return "scripted" }
func (p *scriptedProvider) Model() string         { return "scripted-model" }
func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.Message, system string, tools []llm.ToolSchema) (llm.ChatResponse, error) {
	if p.calls >= len(p.responses) {
		return llm.ChatResponse{Content: "[]", Status: llm.StatusSuccess}, nil
	}
	r := p.responses[p.calls]
	p.calls++
	return r, nil
}

type stubSkill struct{ called int }

func (s *stubSkill) Name() string        { return "stub" }
func (s *stubSkill) Description() string { return "stub skill" }
func (s *stubSkill) Tools() []skills.ToolDefinition {
	return []skills.ToolDefinition{{
		Name:        "web_search",
		Description: "search",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}},
	}}
}
func (s *stubSkill) Execute(ctx context.Context, toolName string, arguments json.RawMessage) (skills.Result, error) {
	s.called++
	return skills.Result{Success: true, Output: map[string]any{"results": []string{"a", "b", "c"}}}, nil
}

func userInputRow(sessionID, text string) streamdb.Row {
	raw, _ := json.Marshal(map[string]any{"text": text})
	return streamdb.Row{
		"id":           streamdb.NewID(),
		"session_id":   sessionID,
		"source":       "test-channel",
		"target":       "agent",
		"message_type": "user_input",
		"content":      string(raw),
	}
}

func TestProcessTurnHappyPath(t *testing.T) {
	db := streamdb.NewMemClient()
	provider := &scriptedProvider{responses: []llm.ChatResponse{
		{Content: "hi there", Usage: llm.Usage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7}, Status: llm.StatusSuccess},
	}}
	reg := skills.NewRegistry()
	loop := New(db, provider, reg, nil, config.AgentConfig{Name: "pulsebot"})

	loop.processTurn(context.Background(), userInputRow("s1", "hello"))

	responses := db.QueryStream(streamdb.MessageStream, func(r streamdb.Row) bool {
		return r.String("message_type") == "agent_response"
	})
	if len(responses) != 1 {
		t.Fatalf("expected exactly one agent_response, got %d", len(responses))
	}
	var content struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal([]byte(responses[0].String("content")), &content)
	if content.Text != "hi there" {
		t.Fatalf("unexpected response text: %q", content.Text)
	}

	llmRows := db.QueryStream(streamdb.LLMStream, nil)
	if len(llmRows) != 1 {
		t.Fatalf("expected one llm-log row, got %d", len(llmRows))
	}
	if llmRows[0].Int("tool_call_count") != 0 {
		t.Fatalf("expected zero tool calls logged, got %d", llmRows[0].Int("tool_call_count"))
	}

	toolCalls := db.QueryStream(streamdb.MessageStream, func(r streamdb.Row) bool {
		return r.String("message_type") == "tool_call"
	})
	if len(toolCalls) != 0 {
		t.Fatalf("expected zero tool_call rows, got %d", len(toolCalls))
	}
}

func TestProcessTurnOneToolCall(t *testing.T) {
	db := streamdb.NewMemClient()
	args, _ := json.Marshal(map[string]any{"query": "cats", "count": 3})
	provider := &scriptedProvider{responses: []llm.ChatResponse{
		{
			Content:   "",
			ToolCalls: []llm.ToolCall{{ID: "t1", Name: "web_search", Arguments: args}},
			Usage:     llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			Status:    llm.StatusSuccess,
		},
		{Content: "Here are three results", Usage: llm.Usage{InputTokens: 12, OutputTokens: 6, TotalTokens: 18}, Status: llm.StatusSuccess},
	}}
	reg := skills.NewRegistry()
	stub := &stubSkill{}
	if err := reg.Register(stub); err != nil {
		t.Fatalf("register stub: %v", err)
	}
	loop := New(db, provider, reg, nil, config.AgentConfig{Name: "pulsebot"})

	loop.processTurn(context.Background(), userInputRow("s2", "search for cats"))

	toolCalls := db.QueryStream(streamdb.MessageStream, func(r streamdb.Row) bool {
		return r.String("message_type") == "tool_call"
	})
	if len(toolCalls) != 1 {
		t.Fatalf("expected exactly one tool_call message per tool invocation, got %d", len(toolCalls))
	}

	toolResults := db.QueryStream(streamdb.MessageStream, func(r streamdb.Row) bool {
		return r.String("message_type") == "tool_result"
	})
	if len(toolResults) != 1 {
		t.Fatalf("expected one tool_result, got %d", len(toolResults))
	}
	var resultContent struct {
		Success bool `json:"success"`
	}
	_ = json.Unmarshal([]byte(toolResults[0].String("content")), &resultContent)
	if !resultContent.Success {
		t.Fatalf("expected tool_result success=true")
	}

	agentResponses := db.QueryStream(streamdb.MessageStream, func(r streamdb.Row) bool {
		return r.String("message_type") == "agent_response"
	})
	if len(agentResponses) != 1 {
		t.Fatalf("expected one final agent_response, got %d", len(agentResponses))
	}

	llmRows := db.QueryStream(streamdb.LLMStream, nil)
	if len(llmRows) != 2 {
		t.Fatalf("expected two llm-log rows, got %d", len(llmRows))
	}

	toolLogs := db.QueryStream(streamdb.ToolStream, nil)
	if len(toolLogs) != 1 || toolLogs[0].String("status") != "success" {
		t.Fatalf("expected one successful tool-log row, got %+v", toolLogs)
	}
	if stub.called != 1 {
		t.Fatalf("expected skill executed exactly once, got %d", stub.called)
	}
}

func TestProcessTurnIterationCapTruncates(t *testing.T) {
	db := streamdb.NewMemClient()
	args, _ := json.Marshal(map[string]any{"query": "x"})
	always := llm.ChatResponse{
		Content:   "",
		ToolCalls: []llm.ToolCall{{ID: "loop", Name: "web_search", Arguments: args}},
		Status:    llm.StatusSuccess,
	}
	responses := make([]llm.ChatResponse, maxIterations)
	for i := range responses {
		responses[i] = always
	}
	provider := &scriptedProvider{responses: responses}
	reg := skills.NewRegistry()
	if err := reg.Register(&stubSkill{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	loop := New(db, provider, reg, nil, config.AgentConfig{Name: "pulsebot"})

	loop.processTurn(context.Background(), userInputRow("s5", "loop forever"))

	llmRows := db.QueryStream(streamdb.LLMStream, nil)
	if len(llmRows) != maxIterations {
		t.Fatalf("expected %d llm-log rows, got %d", maxIterations, len(llmRows))
	}

	events := db.QueryStream(streamdb.EventStream, func(r streamdb.Row) bool {
		return r.String("severity") == "warning"
	})
	if len(events) != 1 {
		t.Fatalf("expected one warning event for truncation, got %d", len(events))
	}

	agentResponses := db.QueryStream(streamdb.MessageStream, func(r streamdb.Row) bool {
		return r.String("message_type") == "agent_response"
	})
	if len(agentResponses) != 1 {
		t.Fatalf("expected one truncation agent_response, got %d", len(agentResponses))
	}
}

func TestProcessTurnSurfacesUnknownToolAsFailedResult(t *testing.T) {
	db := streamdb.NewMemClient()
	args, _ := json.Marshal(map[string]any{})
	provider := &scriptedProvider{responses: []llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "t1", Name: "does_not_exist", Arguments: args}}, Status: llm.StatusSuccess},
		{Content: "sorry about that", Status: llm.StatusSuccess},
	}}
	reg := skills.NewRegistry()
	loop := New(db, provider, reg, nil, config.AgentConfig{Name: "pulsebot"})

	loop.processTurn(context.Background(), userInputRow("s3", "do the impossible"))

	toolResults := db.QueryStream(streamdb.MessageStream, func(r streamdb.Row) bool {
		return r.String("message_type") == "tool_result"
	})
	if len(toolResults) != 1 {
		t.Fatalf("expected one tool_result, got %d", len(toolResults))
	}
	var content struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal([]byte(toolResults[0].String("content")), &content)
	if content.Success {
		t.Fatal("expected unknown tool to fail")
	}
	if content.Error != "unknown tool" {
		t.Fatalf("expected error 'unknown tool', got %q", content.Error)
	}
}
