package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"pulsebot/internal/perr"
)

// WebSearchSkill queries a configured search provider over HTTP. Two
// providers are supported: "brave" (Brave Search API, API key in header)
// and "local-alternative" (a self-hosted metasearch endpoint queried with a
// plain `?q=` parameter, e.g. a SearXNG instance).
type WebSearchSkill struct {
	provider string
	baseURL  string
	apiKey   string
	client   *http.Client
}

func NewWebSearchSkill(provider, baseURL, apiKey string, client *http.Client) *WebSearchSkill {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebSearchSkill{provider: provider, baseURL: baseURL, apiKey: apiKey, client: client}
}

func (w *WebSearchSkill) Name() string        { return "web_search" }
func (w *WebSearchSkill) Description() string { return "Searches the web via a configured provider." }

func (w *WebSearchSkill) Tools() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "web_search",
		Description: "Search the web and return a ranked list of results.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"count": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
			},
			"required": []string{"query"},
		},
	}}
}

type searchHit struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Snippet string `json:"description"`
}

func (w *WebSearchSkill) Execute(ctx context.Context, toolName string, arguments json.RawMessage) (Result, error) {
	if toolName != "web_search" {
		return Result{}, perr.New(perr.UnknownTool, "web_search skill has no tool "+toolName)
	}
	var args struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return Result{}, perr.Wrap(perr.ToolArgumentInvalid, "decode web_search arguments", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return Result{Success: false, Error: "query is required"}, nil
	}
	count := args.Count
	if count <= 0 {
		count = 10
	}

	hits, err := w.dispatch(ctx, args.Query, count)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true, Output: map[string]any{"results": hits}}, nil
}

func (w *WebSearchSkill) dispatch(ctx context.Context, query string, count int) ([]searchHit, error) {
	switch w.provider {
	case "brave":
		return w.braveSearch(ctx, query, count)
	default:
		return w.localAlternativeSearch(ctx, query, count)
	}
}

func (w *WebSearchSkill) braveSearch(ctx context.Context, query string, count int) ([]searchHit, error) {
	u := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", w.apiKey)
	req.Header.Set("Accept", "application/json")
	return w.doSearch(req)
}

func (w *WebSearchSkill) localAlternativeSearch(ctx context.Context, query string, count int) ([]searchHit, error) {
	base := strings.TrimSuffix(w.baseURL, "/")
	u := fmt.Sprintf("%s/search?q=%s&format=json", base, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	hits, err := w.doSearch(req)
	if err != nil {
		return nil, err
	}
	if len(hits) > count {
		hits = hits[:count]
	}
	return hits, nil
}

func (w *WebSearchSkill) doSearch(req *http.Request) ([]searchHit, error) {
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("search provider returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	var out []searchHit
	for _, r := range parsed.Web.Results {
		out = append(out, searchHit{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	for _, r := range parsed.Results {
		out = append(out, searchHit{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
