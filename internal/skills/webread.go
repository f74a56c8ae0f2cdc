package skills

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"

	"pulsebot/internal/perr"
)

const webReadBodyLimit = 2 * 1024 * 1024

// WebReadSkill fetches a URL and converts its main article content to
// Markdown, preferring readability-extracted content and falling back to the
// full document when extraction finds nothing.
type WebReadSkill struct {
	client *http.Client
}

func NewWebReadSkill(client *http.Client) *WebReadSkill {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebReadSkill{client: client}
}

func (w *WebReadSkill) Name() string        { return "web_read" }
func (w *WebReadSkill) Description() string { return "Fetches a web page and returns its readable content as Markdown." }

func (w *WebReadSkill) Tools() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "web_read",
		Description: "Fetch a URL and return its main content as Markdown.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"url": map[string]any{"type": "string"}},
			"required":   []string{"url"},
		},
	}}
}

func (w *WebReadSkill) Execute(ctx context.Context, toolName string, arguments json.RawMessage) (Result, error) {
	if toolName != "web_read" {
		return Result{}, perr.New(perr.UnknownTool, "web_read skill has no tool "+toolName)
	}
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return Result{}, perr.Wrap(perr.ToolArgumentInvalid, "decode web_read arguments", err)
	}
	parsed, err := url.Parse(args.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Result{Success: false, Error: "url must be http(s)"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Result{Success: false, Error: "fetch returned status " + resp.Status}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webReadBodyLimit))
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	html := string(body)
	var title, articleHTML string
	if art, rerr := readability.FromReader(strings.NewReader(html), resp.Request.URL); rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
	} else {
		articleHTML = html
	}

	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(baseOrigin(resp.Request.URL)))
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	md = strings.TrimSpace(md)
	if title != "" && !strings.HasPrefix(md, "# ") {
		md = "# " + title + "\n\n" + md
	}

	return Result{Success: true, Output: map[string]any{"title": title, "markdown": md, "url": resp.Request.URL.String()}}, nil
}

func baseOrigin(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
