// Package anthropic adapts the Anthropic Messages API to the llm.Provider
// contract.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"pulsebot/internal/llm"
	"pulsebot/internal/perr"
)

const defaultMaxTokens int64 = 4096

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	sdk   anthropic.Client
	model string
}

func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &Client{sdk: anthropic.NewClient(opts...), model: cfg.Model}
}

func (c *Client) ProviderName() string { return "anthropic" }
func (c *Client) Model() string        { return c.model }

func (c *Client) Chat(ctx context.Context, messages []llm.Message, system string, tools []llm.ToolSchema) (llm.ChatResponse, error) {
	converted, err := adaptMessages(messages)
	if err != nil {
		return llm.ChatResponse{Status: llm.StatusError, ErrorMessage: err.Error()}, perr.Wrap(perr.LLMError, "adapt messages", err)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  converted,
		MaxTokens: defaultMaxTokens,
	}
	if strings.TrimSpace(system) != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = adaptTools(tools)
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		if strings.Contains(err.Error(), "rate_limit") {
			return llm.ChatResponse{Status: llm.StatusRateLimited, ErrorMessage: err.Error()}, perr.Wrap(perr.LLMRateLimited, "anthropic chat", err)
		}
		return llm.ChatResponse{Status: llm.StatusError, ErrorMessage: err.Error()}, perr.Wrap(perr.LLMError, "anthropic chat", err)
	}

	out := messageFromResponse(resp)
	out.Usage = llm.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	out.Status = llm.StatusSuccess
	return out, nil
}

func adaptTools(tools []llm.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if req, ok := t.Parameters["required"].([]string); ok {
			schema.Required = req
		}
		param := anthropic.ToolParam{Name: t.Name, InputSchema: schema}
		if t.Description != "" {
			param.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func adaptMessages(msgs []llm.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	toolResultSeq := 0
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		case llm.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for i, tc := range m.ToolCalls {
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("call-%d", i+1)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(id, decodeArgs(tc.Arguments), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case llm.RoleTool:
			id := m.ToolID
			if id == "" {
				toolResultSeq++
				id = fmt.Sprintf("tool-result-%d", toolResultSeq)
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(id, m.Content, false)))
		}
	}
	return out, nil
}

func decodeArgs(raw []byte) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func messageFromResponse(resp *anthropic.Message) llm.ChatResponse {
	var sb strings.Builder
	var calls []llm.ToolCall
	callIdx := 0
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			callIdx++
			id := v.ID
			if id == "" {
				id = fmt.Sprintf("call-%d", callIdx)
			}
			args, _ := json.Marshal(v.Input)
			calls = append(calls, llm.ToolCall{ID: id, Name: v.Name, Arguments: args})
		}
	}
	return llm.ChatResponse{Content: sb.String(), ToolCalls: calls}
}
