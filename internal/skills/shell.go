package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"pulsebot/internal/perr"
)

const shellOutputLimit = 64 * 1024

// ShellSkill runs a bare binary (no shell interpreter) in a fixed working
// directory, rejecting block-listed binaries and absolute-path arguments,
// with a per-call timeout and truncated output.
type ShellSkill struct {
	workdir     string
	blocked     map[string]struct{}
	maxDuration time.Duration
}

func NewShellSkill(workdir string, blockBinaries []string, maxDuration time.Duration) *ShellSkill {
	blocked := make(map[string]struct{}, len(blockBinaries))
	for _, b := range blockBinaries {
		blocked[strings.ToLower(b)] = struct{}{}
	}
	if maxDuration <= 0 {
		maxDuration = 30 * time.Second
	}
	return &ShellSkill{workdir: workdir, blocked: blocked, maxDuration: maxDuration}
}

func (s *ShellSkill) Name() string        { return "shell" }
func (s *ShellSkill) Description() string { return "Executes a restricted CLI command." }

func (s *ShellSkill) Tools() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "run_command",
		Description: "Execute a CLI command in a restricted working directory (no shell, no absolute paths).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":         map[string]any{"type": "string", "description": "Bare binary name (e.g., ls, git)."},
				"args":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"timeout_seconds": map[string]any{"type": "integer", "minimum": 1},
			},
			"required": []string{"command"},
		},
	}}
}

func (s *ShellSkill) Execute(ctx context.Context, toolName string, arguments json.RawMessage) (Result, error) {
	if toolName != "run_command" {
		return Result{}, perr.New(perr.UnknownTool, "shell skill has no tool "+toolName)
	}
	var args struct {
		Command        string   `json:"command"`
		Args           []string `json:"args"`
		TimeoutSeconds int      `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return Result{}, perr.Wrap(perr.ToolArgumentInvalid, "decode shell arguments", err)
	}
	if strings.TrimSpace(args.Command) == "" {
		return Result{Success: false, Error: "command is required"}, nil
	}
	if _, blocked := s.blocked[strings.ToLower(args.Command)]; blocked {
		return Result{Success: false, Error: "command is blocked: " + args.Command}, nil
	}
	for _, a := range args.Args {
		if filepath.IsAbs(a) {
			return Result{Success: false, Error: "absolute-path arguments are not allowed: " + a}, nil
		}
	}

	timeout := s.maxDuration
	if args.TimeoutSeconds > 0 && time.Duration(args.TimeoutSeconds)*time.Second < timeout {
		timeout = time.Duration(args.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args.Command, args.Args...)
	cmd.Dir = s.workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	dur := time.Since(start)

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			exitCode = 124
		default:
			exitCode = 1
		}
	}

	outS, truncOut := truncateOutput(stdout.String(), shellOutputLimit)
	errS, truncErr := truncateOutput(stderr.String(), shellOutputLimit)

	return Result{
		Success: runErr == nil,
		Output: map[string]any{
			"exit_code":   exitCode,
			"stdout":      outS,
			"stderr":      errS,
			"duration_ms": dur.Milliseconds(),
			"truncated":   truncOut || truncErr,
		},
	}, nil
}

func truncateOutput(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	return s[:limit] + "\n[TRUNCATED]", true
}
