package skills

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"pulsebot/internal/perr"
)

// bridgeSkill exposes discovered InstructionSkills to the agent loop as
// ordinary tool calls. It is only registered when at least one instruction
// skill was discovered (§4.6).
type bridgeSkill struct {
	byName map[string]InstructionSkill
}

func newBridgeSkill(instructions []InstructionSkill) *bridgeSkill {
	byName := make(map[string]InstructionSkill, len(instructions))
	for _, s := range instructions {
		byName[s.Name] = s
	}
	return &bridgeSkill{byName: byName}
}

func (b *bridgeSkill) Name() string        { return "skill_bridge" }
func (b *bridgeSkill) Description() string { return "Loads instruction-skill manifests and their supporting files." }

func (b *bridgeSkill) Tools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "load_skill",
			Description: "Returns the full manifest body of a discovered instruction skill.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"name": map[string]any{"type": "string"}},
				"required":   []string{"name"},
			},
		},
		{
			Name:        "read_skill_file",
			Description: "Returns the contents of a file under a skill's scripts/ or references/ subtree.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"name", "path"},
			},
		},
	}
}

func (b *bridgeSkill) Execute(ctx context.Context, toolName string, arguments json.RawMessage) (Result, error) {
	var args struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return Result{}, perr.Wrap(perr.ToolArgumentInvalid, "decode bridge arguments", err)
	}
	sk, ok := b.byName[args.Name]
	if !ok {
		return Result{Success: false, Error: "unknown skill: " + args.Name}, nil
	}

	switch toolName {
	case "load_skill":
		return Result{Success: true, Output: map[string]any{"body": sk.Body}}, nil
	case "read_skill_file":
		allowedRoots := []string{filepath.Join(sk.Dir, "scripts"), filepath.Join(sk.Dir, "references")}
		var resolved string
		var err error
		for _, root := range allowedRoots {
			if resolved, err = resolveWithin(root, relativeToRoot(args.Path)); err == nil {
				if _, statErr := os.Stat(resolved); statErr == nil {
					break
				}
				err = statErr
			}
		}
		if err != nil {
			return Result{Success: false, Error: "file not accessible: " + err.Error()}, nil
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return Result{Success: false, Error: err.Error()}, nil
		}
		return Result{Success: true, Output: map[string]any{"content": string(data)}}, nil
	default:
		return Result{}, perr.New(perr.UnknownTool, "bridge skill has no tool "+toolName)
	}
}

// relativeToRoot strips a leading scripts/ or references/ prefix, since
// callers pass paths relative to the skill root but resolveWithin is called
// per-subtree root.
func relativeToRoot(p string) string {
	for _, prefix := range []string{"scripts/", "references/"} {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			return p[len(prefix):]
		}
	}
	return p
}
