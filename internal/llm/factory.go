package llm

import (
	"net/http"

	"pulsebot/internal/config"
	"pulsebot/internal/llm/anthropic"
	"pulsebot/internal/llm/google"
	"pulsebot/internal/llm/openai"
	"pulsebot/internal/perr"
)

// New builds the Provider named by `name` from the matching `providers.<name>`
// config entry, defaulting the model to agent.model when the entry omits
// default_model. httpClient, if nil, defaults per-adapter to http.DefaultClient.
func New(name string, cfg config.Config, httpClient *http.Client) (Provider, error) {
	pc, ok := cfg.Providers[name]
	if !ok || !pc.Enabled {
		return nil, perr.New(perr.ConfigError, "provider not configured or disabled: "+name)
	}
	model := pc.DefaultModel
	if model == "" {
		model = cfg.Agent.Model
	}

	switch name {
	case "openai":
		return openai.New(openai.Config{APIKey: pc.APIKey, BaseURL: pc.Host, Model: model}, httpClient, "openai"), nil
	case "local":
		// OpenAI-compatible local inference endpoint (LM Studio, vLLM, etc).
		return openai.New(openai.Config{APIKey: pc.APIKey, BaseURL: pc.Host, Model: model}, httpClient, "local"), nil
	case "anthropic":
		return anthropic.New(anthropic.Config{APIKey: pc.APIKey, BaseURL: pc.Host, Model: model}, httpClient), nil
	case "google":
		c, err := google.New(google.Config{APIKey: pc.APIKey, BaseURL: pc.Host, Model: model}, httpClient)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, perr.New(perr.ConfigError, "unknown provider: "+name)
	}
}
