package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"pulsebot/internal/perr"
)

// HTTPConfig configures an OpenAI-compatible embeddings endpoint. This shape
// is the lowest common denominator across OpenAI, most local embedding
// servers, and OpenAI-compatible gateways.
type HTTPConfig struct {
	BaseURL   string
	Path      string // default "/v1/embeddings"
	APIKey    string
	APIHeader string // "Authorization" (Bearer) or a custom header name
	Model     string
	Provider  string
	Timeout   time.Duration
	Client    *http.Client
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// HTTPProvider is the generic embedding backend (C3).
type HTTPProvider struct {
	cfg  HTTPConfig
	dims atomic.Int64
}

func NewHTTP(cfg HTTPConfig) *HTTPProvider {
	if cfg.Path == "" {
		cfg.Path = "/v1/embeddings"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &HTTPProvider{cfg: cfg}
}

func (p *HTTPProvider) ProviderName() string { return p.cfg.Provider }
func (p *HTTPProvider) Model() string        { return p.cfg.Model }
func (p *HTTPProvider) Dimensions() int      { return int(p.dims.Load()) }

func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, perr.New(perr.ConfigError, "embed_batch called with no inputs")
	}
	reqBody, err := json.Marshal(embedReq{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, perr.Wrap(perr.ConfigError, "marshal embed request", err)
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	url := p.cfg.BaseURL + p.cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, perr.Wrap(perr.ConfigError, "build embed request", err)
	}
	switch {
	case p.cfg.APIHeader == "Authorization":
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	case p.cfg.APIHeader != "":
		req.Header.Set(p.cfg.APIHeader, p.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return nil, perr.Wrap(perr.MemoryUnavailable, "embedding endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, perr.Wrap(perr.MemoryUnavailable, "read embedding response", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, perr.New(perr.MemoryUnavailable, fmt.Sprintf("embeddings error: %s: %s", resp.Status, string(body)))
	}

	var er embedResp
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, perr.Wrap(perr.MemoryUnavailable, "parse embedding response", err)
	}
	if len(er.Data) != len(texts) {
		return nil, perr.New(perr.MemoryUnavailable, fmt.Sprintf("unexpected embedding count: got %d, want %d", len(er.Data), len(texts)))
	}

	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	if p.dims.Load() == 0 && len(out) > 0 && len(out[0]) > 0 {
		p.dims.Store(int64(len(out[0])))
	}
	return out, nil
}
