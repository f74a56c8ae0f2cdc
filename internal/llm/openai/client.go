// Package openai adapts the OpenAI (and OpenAI-compatible "local") chat
// completions API to the llm.Provider contract.
package openai

import (
	"context"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"pulsebot/internal/llm"
	"pulsebot/internal/perr"
)

type Config struct {
	APIKey  string
	BaseURL string // non-empty for "local" OpenAI-compatible endpoints
	Model   string
}

type Client struct {
	sdk      sdk.Client
	model    string
	provider string
}

func New(cfg Config, httpClient *http.Client, providerName string) *Client {
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
	return &Client{sdk: sdk.NewClient(opts...), model: cfg.Model, provider: providerName}
}

func (c *Client) ProviderName() string { return c.provider }
func (c *Client) Model() string        { return c.model }

func (c *Client) Chat(ctx context.Context, messages []llm.Message, system string, tools []llm.ToolSchema) (llm.ChatResponse, error) {
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(c.model)}
	params.Messages = adaptMessages(system, messages)
	if len(tools) > 0 {
		params.Tools = adaptTools(tools)
	}

	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		if strings.Contains(err.Error(), "rate_limit") {
			return llm.ChatResponse{Status: llm.StatusRateLimited, ErrorMessage: err.Error()}, perr.Wrap(perr.LLMRateLimited, "openai chat", err)
		}
		return llm.ChatResponse{Status: llm.StatusError, ErrorMessage: err.Error()}, perr.Wrap(perr.LLMError, "openai chat", err)
	}
	if len(comp.Choices) == 0 {
		return llm.ChatResponse{Status: llm.StatusError, ErrorMessage: "no choices returned"}, perr.New(perr.LLMError, "openai returned no choices")
	}

	msg := comp.Choices[0].Message
	out := llm.ChatResponse{
		Content: msg.Content,
		Status:  llm.StatusSuccess,
		Usage: llm.Usage{
			InputTokens:  int(comp.Usage.PromptTokens),
			OutputTokens: int(comp.Usage.CompletionTokens),
			TotalTokens:  int(comp.Usage.TotalTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		if fn, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall); ok {
			if strings.TrimSpace(fn.Function.Arguments) == "" {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        fn.ID,
				Name:      fn.Function.Name,
				Arguments: []byte(fn.Function.Arguments),
			})
		}
	}
	return out, nil
}

func adaptTools(schemas []llm.ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, sdk.ChatCompletionFunctionTool(sdk.FunctionDefinitionParam{
			Name:        s.Name,
			Description: sdk.String(s.Description),
			Parameters:  s.Parameters,
		}))
	}
	return out
}

func adaptMessages(system string, msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, sdk.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			out = append(out, sdk.UserMessage(nonEmpty(m.Content)))
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(nonEmpty(m.Content)))
				continue
			}
			asst := sdk.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = sdk.String(nonEmpty(m.Content))
			for _, tc := range m.ToolCalls {
				fn := sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case llm.RoleTool:
			content := m.Content
			if content == "" {
				content = `{}`
			}
			out = append(out, sdk.ToolMessage(content, m.ToolID))
		}
	}
	return out
}

func nonEmpty(s string) string {
	if s == "" {
		return " "
	}
	return s
}
