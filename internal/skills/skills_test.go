package skills

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type stubSkill struct {
	name  string
	tools []ToolDefinition
}

func (s *stubSkill) Name() string               { return s.name }
func (s *stubSkill) Description() string        { return "stub" }
func (s *stubSkill) Tools() []ToolDefinition     { return s.tools }
func (s *stubSkill) Execute(ctx context.Context, toolName string, arguments json.RawMessage) (Result, error) {
	return Result{Success: true, Output: toolName}, nil
}

func TestRegistryRejectsDuplicateToolNames(t *testing.T) {
	reg := NewRegistry()
	def := ToolDefinition{Name: "dup", Description: "d", Parameters: map[string]any{"type": "object"}}
	if err := reg.Register(&stubSkill{name: "a", tools: []ToolDefinition{def}}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(&stubSkill{name: "b", tools: []ToolDefinition{def}}); err == nil {
		t.Fatal("expected duplicate tool name to be rejected")
	}
}

func TestRegistryDispatchValidatesArguments(t *testing.T) {
	reg := NewRegistry()
	def := ToolDefinition{
		Name: "greet",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
			"required":   []string{"name"},
		},
	}
	if err := reg.Register(&stubSkill{name: "a", tools: []ToolDefinition{def}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := reg.Dispatch(context.Background(), "greet", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
	if _, err := reg.Dispatch(context.Background(), "greet", json.RawMessage(`{"name":"ada"}`)); err != nil {
		t.Fatalf("valid arguments rejected: %v", err)
	}
}

func TestRegistryDispatchUnknownTool(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Dispatch(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected unknown tool error")
	}
}

func TestShellSkillBlocksListedBinary(t *testing.T) {
	s := NewShellSkill(t.TempDir(), []string{"rm"}, 0)
	args, _ := json.Marshal(map[string]any{"command": "rm", "args": []string{"-rf", "/"}})
	res, err := s.Execute(context.Background(), "run_command", args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected blocked binary to fail")
	}
}

func TestShellSkillRunsAllowedBinary(t *testing.T) {
	s := NewShellSkill(t.TempDir(), []string{"rm"}, 0)
	args, _ := json.Marshal(map[string]any{"command": "echo", "args": []string{"hi"}})
	res, err := s.Execute(context.Background(), "run_command", args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected echo to succeed: %+v", res)
	}
}

func TestFileSkillRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileSkill(dir, nil)
	args, _ := json.Marshal(map[string]any{"path": "../outside.txt"})
	res, err := fs.Execute(context.Background(), "read_file", args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected path traversal to be rejected")
	}
}

func TestFileSkillWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileSkill(dir, []string{".txt"})
	writeArgs, _ := json.Marshal(map[string]any{"path": "note.txt", "content": "hello"})
	if res, err := fs.Execute(context.Background(), "write_file", writeArgs); err != nil || !res.Success {
		t.Fatalf("write: res=%+v err=%v", res, err)
	}

	readArgs, _ := json.Marshal(map[string]any{"path": "note.txt"})
	res, err := fs.Execute(context.Background(), "read_file", readArgs)
	if err != nil || !res.Success {
		t.Fatalf("read: res=%+v err=%v", res, err)
	}
	out := res.Output.(map[string]any)
	if out["content"] != "hello" {
		t.Fatalf("unexpected content: %+v", out)
	}
}

func TestFileSkillRejectsDisallowedExtension(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileSkill(dir, []string{".txt"})
	args, _ := json.Marshal(map[string]any{"path": "script.sh", "content": "x"})
	res, err := fs.Execute(context.Background(), "write_file", args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected disallowed extension to be rejected")
	}
}

func TestLoadInstructionSkillsRequiresDirectoryNameMatch(t *testing.T) {
	root := t.TempDir()
	badDir := filepath.Join(root, "mismatched-dir")
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "---\nname: actual-name\ndescription: does something useful\n---\nbody\n"
	if err := os.WriteFile(filepath.Join(badDir, manifestFileName), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	skills := LoadInstructionSkills([]string{root})
	if len(skills) != 0 {
		t.Fatalf("expected mismatched directory name to be rejected, got %+v", skills)
	}
}

func TestLoadInstructionSkillsAcceptsValidManifest(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "weather-lookup")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "---\nname: weather-lookup\ndescription: Looks up current weather for a city.\n---\nbody\n"
	if err := os.WriteFile(filepath.Join(dir, manifestFileName), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	skills := LoadInstructionSkills([]string{root})
	if len(skills) != 1 || skills[0].Name != "weather-lookup" {
		t.Fatalf("expected one valid skill, got %+v", skills)
	}
}
