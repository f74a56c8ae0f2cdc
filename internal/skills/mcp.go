package skills

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"strings"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"

	"pulsebot/internal/perr"
)

// MCPServerConfig names an MCP server to connect to: either a local command
// (stdio transport) or a remote endpoint (streamable HTTP transport).
type MCPServerConfig struct {
	Name    string
	Command string
	Args    []string
	URL     string
}

// mcpSkill adapts every tool exposed by one MCP server session into the
// Skill contract, namespacing tool names as "<server>_<tool>" to keep the
// registry's global tool-name space collision-free.
type mcpSkill struct {
	serverName string
	session    *mcppkg.ClientSession
	tools      map[string]*mcppkg.Tool // local tool name -> remote tool
}

// ConnectMCPServer dials srv and returns a Skill wrapping its tools. Callers
// are responsible for closing the underlying session via Close when the
// agent shuts down.
func ConnectMCPServer(ctx context.Context, srv MCPServerConfig, httpClient *http.Client) (Skill, error) {
	if strings.TrimSpace(srv.Name) == "" {
		return nil, perr.New(perr.ConfigError, "mcp server name required")
	}
	client := mcppkg.NewClient(&mcppkg.Implementation{Name: "pulsebot", Version: "1"}, nil)

	var session *mcppkg.ClientSession
	var err error
	switch {
	case strings.TrimSpace(srv.Command) != "":
		cmd := exec.Command(srv.Command, srv.Args...)
		session, err = client.Connect(ctx, &mcppkg.CommandTransport{Command: cmd}, nil)
	case strings.TrimSpace(srv.URL) != "":
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		transport := &mcppkg.StreamableClientTransport{Endpoint: srv.URL, HTTPClient: httpClient}
		session, err = client.Connect(ctx, transport, nil)
	default:
		return nil, perr.New(perr.ConfigError, "mcp server "+srv.Name+" declares neither command nor url")
	}
	if err != nil {
		return nil, perr.Wrap(perr.ConfigError, "connect to mcp server "+srv.Name, err)
	}

	ms := &mcpSkill{serverName: srv.Name, session: session, tools: map[string]*mcppkg.Tool{}}
	for tool, terr := range session.Tools(ctx, nil) {
		if terr != nil {
			break
		}
		ms.tools[ms.localName(tool.Name)] = tool
	}
	return ms, nil
}

func (m *mcpSkill) localName(remote string) string { return m.serverName + "_" + remote }

func (m *mcpSkill) Name() string        { return "mcp_" + m.serverName }
func (m *mcpSkill) Description() string { return "Tools proxied from the MCP server " + m.serverName }

func (m *mcpSkill) Tools() []ToolDefinition {
	out := make([]ToolDefinition, 0, len(m.tools))
	for local, t := range m.tools {
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		if t.InputSchema != nil {
			if b, err := json.Marshal(t.InputSchema); err == nil {
				var decoded map[string]any
				if json.Unmarshal(b, &decoded) == nil {
					params = decoded
				}
			}
		}
		out = append(out, ToolDefinition{Name: local, Description: t.Description, Parameters: params})
	}
	return out
}

func (m *mcpSkill) Execute(ctx context.Context, toolName string, arguments json.RawMessage) (Result, error) {
	t, ok := m.tools[toolName]
	if !ok {
		return Result{}, perr.New(perr.UnknownTool, "mcp server "+m.serverName+" has no tool "+toolName)
	}
	var args map[string]any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return Result{}, perr.Wrap(perr.ToolArgumentInvalid, "decode mcp tool arguments", err)
		}
	}
	res, err := m.session.CallTool(ctx, &mcppkg.CallToolParams{Name: t.Name, Arguments: args})
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	if res.IsError {
		return Result{Success: false, Error: textContent(res)}, nil
	}
	return Result{Success: true, Output: textContent(res)}, nil
}

func textContent(res *mcppkg.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcppkg.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func (m *mcpSkill) Close() error { return m.session.Close() }
