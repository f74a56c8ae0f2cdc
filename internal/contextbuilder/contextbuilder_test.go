package contextbuilder

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"pulsebot/internal/config"
	"pulsebot/internal/llm"
	"pulsebot/internal/memory"
	"pulsebot/internal/metastore"
	"pulsebot/internal/skills"
	"pulsebot/internal/streamdb"
)

type fakeEmbedder struct{}

func (fakeEmbedder) ProviderName() string { return "fake" }
func (fakeEmbedder) Model() string        { return "fake-model" }
func (fakeEmbedder) Dimensions() int      { return 2 }
func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "coffee") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}
func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

func appendMessage(t *testing.T, db streamdb.Client, sessionID, messageType string, content map[string]any) {
	t.Helper()
	raw, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	err = db.Append(context.Background(), streamdb.MessageStream, streamdb.Row{
		"session_id":   sessionID,
		"message_type": messageType,
		"content":      string(raw),
		"target":       "agent",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestBuildLoadsOrderedVisibleHistory(t *testing.T) {
	db := streamdb.NewMemClient()
	appendMessage(t, db, "s1", "user_input", map[string]any{"text": "hi"})
	appendMessage(t, db, "s1", "agent_response", map[string]any{"text": "hello"})
	appendMessage(t, db, "s1", "heartbeat", map[string]any{})
	appendMessage(t, db, "s2", "user_input", map[string]any{"text": "other session"})

	b := New(db, nil, nil, config.AgentConfig{Name: "pulsebot"})
	res, err := b.Build(context.Background(), Request{SessionID: "s1"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("expected 2 visible history messages, got %d: %+v", len(res.Messages), res.Messages)
	}
	if res.Messages[0].Role != llm.RoleUser || res.Messages[0].Content != "hi" {
		t.Fatalf("unexpected first message: %+v", res.Messages[0])
	}
	if res.Messages[1].Role != llm.RoleAssistant || res.Messages[1].Content != "hello" {
		t.Fatalf("unexpected second message: %+v", res.Messages[1])
	}
}

func TestBuildAppendsCurrentUserMessage(t *testing.T) {
	db := streamdb.NewMemClient()
	b := New(db, nil, nil, config.AgentConfig{Name: "pulsebot"})
	res, err := b.Build(context.Background(), Request{SessionID: "s1", UserMessage: "what's up"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].Content != "what's up" {
		t.Fatalf("expected current user message appended, got %+v", res.Messages)
	}
}

func TestBuildIncludesMemoryBulletsWhenEnabled(t *testing.T) {
	db := streamdb.NewMemClient()
	mgr := memory.New(db, fakeEmbedder{}, 0.95)
	if _, err := mgr.Store(context.Background(), "user drinks black coffee", memory.TypePreference, memory.CategoryUserInfo, 0.8, "s1", false); err != nil {
		t.Fatalf("store: %v", err)
	}

	b := New(db, mgr, nil, config.AgentConfig{Name: "pulsebot"})
	res, err := b.Build(context.Background(), Request{
		SessionID: "s1", UserMessage: "what does the user drink", IncludeMemory: true, MemoryLimit: 5,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(res.SystemPrompt, "coffee") {
		t.Fatalf("expected memory bullet in system prompt, got %q", res.SystemPrompt)
	}
}

func TestBuildOmitsMemoryWhenDisabled(t *testing.T) {
	db := streamdb.NewMemClient()
	mgr := memory.New(db, fakeEmbedder{}, 0.95)
	if _, err := mgr.Store(context.Background(), "user drinks black coffee", memory.TypePreference, memory.CategoryUserInfo, 0.8, "s1", false); err != nil {
		t.Fatalf("store: %v", err)
	}

	b := New(db, mgr, nil, config.AgentConfig{Name: "pulsebot"})
	res, err := b.Build(context.Background(), Request{SessionID: "s1", UserMessage: "what does the user drink", IncludeMemory: false})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(res.SystemPrompt, "Relevant memory") {
		t.Fatalf("did not expect memory section when disabled, got %q", res.SystemPrompt)
	}
}

func TestBuildListsRegisteredTools(t *testing.T) {
	db := streamdb.NewMemClient()
	reg := skills.NewRegistry()
	if err := reg.Register(skills.NewFileSkill(t.TempDir(), nil)); err != nil {
		t.Fatalf("register: %v", err)
	}

	b := New(db, nil, reg, config.AgentConfig{Name: "pulsebot"})
	res, err := b.Build(context.Background(), Request{SessionID: "s1"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(res.Tools) == 0 {
		t.Fatal("expected registered tools in the result")
	}
	if !strings.Contains(res.SystemPrompt, "read_file") {
		t.Fatalf("expected tool catalog in system prompt, got %q", res.SystemPrompt)
	}
}

type fakeDirectory struct {
	entry map[string]struct{ displayName, channel string }
}

func (f fakeDirectory) Resolve(ctx context.Context, sessionID string) (metastore.Entry, error) {
	e, ok := f.entry[sessionID]
	if !ok {
		return metastore.Entry{}, metastore.ErrNotFound
	}
	return metastore.Entry{SessionID: sessionID, DisplayName: e.displayName, Channel: e.channel}, nil
}
func (f fakeDirectory) Bind(ctx context.Context, sessionID, displayName, channel string) error { return nil }

func TestBuildResolvesSessionDirectoryDisplayName(t *testing.T) {
	db := streamdb.NewMemClient()
	dir := fakeDirectory{entry: map[string]struct{ displayName, channel string }{
		"s1": {displayName: "alice", channel: "slack-general"},
	}}
	b := New(db, nil, nil, config.AgentConfig{Name: "pulsebot"}).WithSessionDirectory(dir)

	res, err := b.Build(context.Background(), Request{SessionID: "s1", UserMessage: "hi"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(res.SystemPrompt, "Session: alice") {
		t.Fatalf("expected resolved display name in system prompt, got %q", res.SystemPrompt)
	}
	if !strings.Contains(res.SystemPrompt, "Channel: slack-general") {
		t.Fatalf("expected resolved channel in system prompt, got %q", res.SystemPrompt)
	}
}

func TestBuildFallsBackToRawSessionIDWhenUnresolved(t *testing.T) {
	db := streamdb.NewMemClient()
	dir := fakeDirectory{entry: map[string]struct{ displayName, channel string }{}}
	b := New(db, nil, nil, config.AgentConfig{Name: "pulsebot"}).WithSessionDirectory(dir)

	res, err := b.Build(context.Background(), Request{SessionID: "s-unknown", UserMessage: "hi"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(res.SystemPrompt, "Session: s-unknown") {
		t.Fatalf("expected raw session_id fallback, got %q", res.SystemPrompt)
	}
}

func TestBuildHonorsHistoryLimit(t *testing.T) {
	db := streamdb.NewMemClient()
	for i := 0; i < 5; i++ {
		appendMessage(t, db, "s1", "user_input", map[string]any{"text": "msg"})
	}
	b := New(db, nil, nil, config.AgentConfig{Name: "pulsebot"})
	res, err := b.Build(context.Background(), Request{SessionID: "s1", HistoryLimit: 2})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("expected history truncated to 2, got %d", len(res.Messages))
	}
}
