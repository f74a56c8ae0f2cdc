// Package contextbuilder assembles the per-turn LLM request (C7): recent
// session history, relevant memory, and a synthesized system prompt, ready
// to hand to an llm.Provider.
package contextbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"pulsebot/internal/config"
	"pulsebot/internal/llm"
	"pulsebot/internal/memory"
	"pulsebot/internal/metastore"
	"pulsebot/internal/skills"
	"pulsebot/internal/streamdb"
)

// visibleTypes are the message_type values included in LLM-facing history.
var visibleTypes = map[string]bool{
	"user_input":     true,
	"agent_response": true,
	"tool_call":      true,
	"tool_result":    true,
}

// Request describes one context-build call.
type Request struct {
	SessionID     string
	UserMessage   string
	UserID        string
	ChannelName   string
	IncludeMemory bool
	MemoryLimit   int
	HistoryLimit  int
	Instructions  string // optional free-form operator instructions
}

// Result is ready to pass directly to llm.Provider.Chat.
type Result struct {
	SystemPrompt string
	Messages     []llm.Message
	Tools        []llm.ToolSchema
}

// Builder holds the collaborators a context build needs: the stream client
// for session history, the skill registry for the tool/skill catalog, and
// (optionally) the memory manager.
type Builder struct {
	db        streamdb.Client
	mem       *memory.Manager
	registry  *skills.Registry
	agent     config.AgentConfig
	directory metastore.SessionDirectory // optional; nil uses raw session_id
}

func New(db streamdb.Client, mem *memory.Manager, registry *skills.Registry, agent config.AgentConfig) *Builder {
	return &Builder{db: db, mem: mem, registry: registry, agent: agent}
}

// WithSessionDirectory enables resolving a session's display name/channel
// binding through the metastore instead of using session_id verbatim. It
// returns the same Builder for chaining at construction time.
func (b *Builder) WithSessionDirectory(dir metastore.SessionDirectory) *Builder {
	b.directory = dir
	return b
}

const defaultHistoryLimit = 50

// Build implements the four steps of the context-build operation: history
// load, memory search, system-prompt synthesis, and tool-catalog assembly.
func (b *Builder) Build(ctx context.Context, req Request) (Result, error) {
	limit := req.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	history, err := b.loadHistory(ctx, req.SessionID, limit)
	if err != nil {
		return Result{}, err
	}

	var memoryBullets string
	if req.IncludeMemory && b.mem != nil && b.mem.IsAvailable() && strings.TrimSpace(req.UserMessage) != "" {
		memLimit := req.MemoryLimit
		if memLimit <= 0 {
			memLimit = 5
		}
		hits, serr := b.mem.Search(ctx, req.UserMessage, memLimit, 0, nil, nil)
		if serr != nil {
			return Result{}, serr
		}
		memoryBullets = formatMemoryBullets(hits)
	}

	var tools []llm.ToolSchema
	if b.registry != nil {
		tools = b.registry.Schemas()
	}

	b.resolveIdentity(ctx, &req)
	system := b.composeSystemPrompt(req, tools, memoryBullets)

	messages := make([]llm.Message, 0, 1+len(history))
	messages = append(messages, history...)
	if strings.TrimSpace(req.UserMessage) != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.UserMessage})
	}

	return Result{SystemPrompt: system, Messages: messages, Tools: tools}, nil
}

// resolveIdentity substitutes the metastore's display name for the raw
// session_id, and fills in its channel binding when the request carries no
// channel name, when a directory is configured and has an entry for this
// session. Lookup failures (including
// ErrNotFound) leave req untouched — the raw session_id remains usable.
func (b *Builder) resolveIdentity(ctx context.Context, req *Request) {
	if b.directory == nil || req.SessionID == "" {
		return
	}
	entry, err := b.directory.Resolve(ctx, req.SessionID)
	if err != nil {
		return
	}
	if entry.DisplayName != "" {
		req.SessionID = entry.DisplayName
	}
	if entry.Channel != "" && req.ChannelName == "" {
		req.ChannelName = entry.Channel
	}
}

// loadHistory queries the message log and keeps the session's last N
// LLM-visible rows, ordered ascending, decoded to llm.Message. The query
// carries the session filter in its WHERE clause for a real bounded-query
// backend; bindings that can only materialize the whole stream (e.g. the
// in-memory test fake) still produce correct results because the session
// and visibility filters are re-applied here.
func (b *Builder) loadHistory(ctx context.Context, sessionID string, limit int) ([]llm.Message, error) {
	stmt := fmt.Sprintf(
		"SELECT * FROM %s WHERE session_id = ? AND message_type IN ('user_input','agent_response','tool_call','tool_result') ORDER BY timestamp ASC",
		streamdb.MessageStream,
	)
	rows, err := b.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, err
	}

	var filtered []streamdb.Row
	for _, r := range rows {
		if r.String("session_id") != sessionID {
			continue
		}
		if !visibleTypes[r.String("message_type")] {
			continue
		}
		filtered = append(filtered, r)
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	out := make([]llm.Message, 0, len(filtered))
	for _, r := range filtered {
		msg, ok := messageFromRow(r.String("message_type"), r)
		if ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// messageFromRow decodes one message-log row's content payload into an
// llm.Message of the appropriate role.
func messageFromRow(messageType string, r streamdb.Row) (llm.Message, bool) {
	var payload map[string]any
	_ = json.Unmarshal([]byte(r.String("content")), &payload)

	switch messageType {
	case "user_input":
		return llm.Message{Role: llm.RoleUser, Content: textField(payload)}, true
	case "agent_response":
		return llm.Message{Role: llm.RoleAssistant, Content: textField(payload)}, true
	case "tool_call":
		// Status broadcasts only; the authoritative call is replayed to the
		// provider via the tool_result row that follows it.
		return llm.Message{}, false
	case "tool_result":
		id, _ := payload["tool_call_id"].(string)
		content, err := json.Marshal(payload["output"])
		if err != nil {
			content = []byte(fmt.Sprintf("%v", payload["output"]))
		}
		return llm.Message{Role: llm.RoleTool, Content: string(content), ToolID: id}, true
	default:
		return llm.Message{}, false
	}
}

func textField(payload map[string]any) string {
	if s, ok := payload["text"].(string); ok {
		return s
	}
	return ""
}

// formatMemoryBullets groups hits by type and renders a "type:" header per
// group followed by a "- content" bullet per hit, highest-scored first within
// each type.
func formatMemoryBullets(hits []memory.Scored) string {
	if len(hits) == 0 {
		return ""
	}
	byType := map[memory.Type][]memory.Scored{}
	var order []memory.Type
	for _, h := range hits {
		if _, seen := byType[h.MemoryType]; !seen {
			order = append(order, h.MemoryType)
		}
		byType[h.MemoryType] = append(byType[h.MemoryType], h)
	}

	var sb strings.Builder
	for _, t := range order {
		group := byType[t]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Score > group[j].Score })
		sb.WriteString(string(t))
		sb.WriteString(":\n")
		for _, h := range group {
			sb.WriteString("- ")
			sb.WriteString(h.Content)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// composeSystemPrompt synthesizes the system prompt from agent identity,
// the current turn's context, the tool catalog, and discovered memory.
func (b *Builder) composeSystemPrompt(req Request, tools []llm.ToolSchema, memoryBullets string) string {
	var sb strings.Builder

	name := b.agent.Name
	if name == "" {
		name = "assistant"
	}
	fmt.Fprintf(&sb, "You are %s, a conversational agent running in a stream-native runtime.\n", name)
	fmt.Fprintf(&sb, "Current UTC time: %s\n", time.Now().UTC().Format(time.RFC3339))
	if req.UserID != "" {
		fmt.Fprintf(&sb, "User: %s\n", req.UserID)
	}
	if req.SessionID != "" {
		fmt.Fprintf(&sb, "Session: %s\n", req.SessionID)
	}
	if req.ChannelName != "" {
		fmt.Fprintf(&sb, "Channel: %s\n", req.ChannelName)
	}

	if len(tools) > 0 {
		sb.WriteString("\nAvailable tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		}
	}

	if skillIndex := b.skillIndex(); skillIndex != "" {
		sb.WriteString("\nInstruction skills (call load_skill to read one in full):\n")
		sb.WriteString(skillIndex)
		sb.WriteString("\n")
	}

	if memoryBullets != "" {
		sb.WriteString("\nRelevant memory:\n")
		sb.WriteString(memoryBullets)
		sb.WriteString("\n")
	}

	if req.Instructions != "" {
		sb.WriteString("\n")
		sb.WriteString(req.Instructions)
		sb.WriteString("\n")
	}

	sb.WriteString("\nUse tools when they let you answer more accurately; otherwise respond directly.")
	sb.WriteString(" Never claim a tool ran when it did not.")

	return sb.String()
}

// skillIndex renders the discovered instruction skills' names and
// descriptions, if any are registered with the bridge skill.
func (b *Builder) skillIndex() string {
	if b.registry == nil {
		return ""
	}
	entries := b.registry.InstructionSkillIndex()
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s: %s\n", e.Name, e.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}
