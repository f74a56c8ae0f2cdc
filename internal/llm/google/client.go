// Package google adapts the Gemini GenerateContent API to the llm.Provider
// contract.
package google

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"pulsebot/internal/llm"
	"pulsebot/internal/perr"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	client *genai.Client
	model  string
}

func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	httpOpts := genai.HTTPOptions{}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, perr.Wrap(perr.ConfigError, "init google genai client", err)
	}
	return &Client{client: client, model: cfg.Model}, nil
}

func (c *Client) ProviderName() string { return "google" }
func (c *Client) Model() string        { return c.model }

func (c *Client) Chat(ctx context.Context, messages []llm.Message, system string, tools []llm.ToolSchema) (llm.ChatResponse, error) {
	contents := toContents(messages)
	genConfig := &genai.GenerateContentConfig{}
	if strings.TrimSpace(system) != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(tools) > 0 {
		genConfig.Tools = adaptTools(tools)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genConfig)
	if err != nil {
		return llm.ChatResponse{Status: llm.StatusError, ErrorMessage: err.Error()}, perr.Wrap(perr.LLMError, "google chat", err)
	}
	if len(resp.Candidates) == 0 {
		return llm.ChatResponse{Status: llm.StatusError, ErrorMessage: "no candidates returned"}, perr.New(perr.LLMError, "google returned no candidates")
	}

	out := fromCandidate(resp.Candidates[0])
	out.Status = llm.StatusSuccess
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func toContents(msgs []llm.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
			}
		case llm.RoleAssistant:
			var parts []*genai.Part
			if strings.TrimSpace(m.Content) != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Arguments, &args)
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			if len(parts) > 0 {
				out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case llm.RoleTool:
			resp := map[string]any{"result": m.Content}
			out = append(out, genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromFunctionResponse(m.ToolID, resp),
			}, genai.RoleUser))
		}
	}
	return out
}

func adaptTools(schemas []llm.ToolSchema) []*genai.Tool {
	fds := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, s := range schemas {
		fds = append(fds, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}

func fromCandidate(candidate *genai.Candidate) llm.ChatResponse {
	var sb strings.Builder
	var calls []llm.ToolCall
	if candidate.Content != nil {
		for i, part := range candidate.Content.Parts {
			if part.Text != "" {
				sb.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				id := part.FunctionCall.ID
				if id == "" {
					id = part.FunctionCall.Name + "-" + string(rune('0'+i))
				}
				calls = append(calls, llm.ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: args})
			}
		}
	}
	return llm.ChatResponse{Content: sb.String(), ToolCalls: calls}
}
