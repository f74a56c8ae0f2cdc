package skills

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"pulsebot/internal/perr"
)

// FileSkill exposes read/write/list operations confined to a base directory
// and, when configured, an allow-list of file extensions.
type FileSkill struct {
	basePath   string
	extensions map[string]bool // empty set means no restriction
}

func NewFileSkill(basePath string, allowedExtensions []string) *FileSkill {
	exts := make(map[string]bool, len(allowedExtensions))
	for _, e := range allowedExtensions {
		exts[strings.ToLower(e)] = true
	}
	return &FileSkill{basePath: basePath, extensions: exts}
}

func (f *FileSkill) Name() string        { return "files" }
func (f *FileSkill) Description() string { return "Reads, writes, and lists files under a locked base directory." }

func (f *FileSkill) Tools() []ToolDefinition {
	pathParam := map[string]any{"type": "string", "description": "Path relative to the locked base directory."}
	return []ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read the text content of a file.",
			Parameters: map[string]any{
				"type": "object", "properties": map[string]any{"path": pathParam}, "required": []string{"path"},
			},
		},
		{
			Name:        "write_file",
			Description: "Write text content to a file, creating parent directories as needed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    pathParam,
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
		},
		{
			Name:        "list_files",
			Description: "List entries in a directory.",
			Parameters: map[string]any{
				"type": "object", "properties": map[string]any{"path": pathParam}, "required": []string{},
			},
		},
	}
}

func (f *FileSkill) Execute(ctx context.Context, toolName string, arguments json.RawMessage) (Result, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return Result{}, perr.Wrap(perr.ToolArgumentInvalid, "decode file arguments", err)
		}
	}

	full, err := resolveWithin(f.basePath, args.Path)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	switch toolName {
	case "read_file":
		if !f.extensionAllowed(args.Path) {
			return Result{Success: false, Error: "file extension not permitted: " + args.Path}, nil
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return Result{Success: false, Error: err.Error()}, nil
		}
		return Result{Success: true, Output: map[string]any{"content": string(data)}}, nil

	case "write_file":
		if !f.extensionAllowed(args.Path) {
			return Result{Success: false, Error: "file extension not permitted: " + args.Path}, nil
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return Result{Success: false, Error: err.Error()}, nil
		}
		if err := os.WriteFile(full, []byte(args.Content), 0o644); err != nil {
			return Result{Success: false, Error: err.Error()}, nil
		}
		return Result{Success: true, Output: map[string]any{"bytes_written": len(args.Content)}}, nil

	case "list_files":
		entries, err := os.ReadDir(full)
		if err != nil {
			return Result{Success: false, Error: err.Error()}, nil
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return Result{Success: true, Output: map[string]any{"entries": names}}, nil

	default:
		return Result{}, perr.New(perr.UnknownTool, "files skill has no tool "+toolName)
	}
}

func (f *FileSkill) extensionAllowed(path string) bool {
	if len(f.extensions) == 0 {
		return true
	}
	return f.extensions[strings.ToLower(filepath.Ext(path))]
}
