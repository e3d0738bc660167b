package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/karanmehta/recheck/internal/ai/core"
	"github.com/karanmehta/recheck/internal/config"
	"github.com/karanmehta/recheck/pkg/models"
)

// Provider implements models.Generator using a local Ollama instance.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	return &Provider{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{},
	}
}

func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response  string `json:"response"`
	EvalCount int    `json:"eval_count"`
}

func (p *Provider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	prompt, err := core.BuildPrompt(req.ToolSlug, req.ToolName, req.AnalysisType, req.Parameters)
	if err != nil {
		return models.GenerationResult{}, err
	}

	body, err := json.Marshal(generateRequest{
		Model:  p.model,
		Prompt: prompt,
		Format: "json",
		Stream: false,
	})
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("encoding request: %w", err)
	}

	u := p.baseURL + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.GenerationResult{}, fmt.Errorf("%w: status %d", core.ErrProviderUnavailable, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.GenerationResult{}, fmt.Errorf("%w: %v", core.ErrInvalidResponse, err)
	}

	content := []byte(out.Response)
	if !json.Valid(content) {
		return models.GenerationResult{}, fmt.Errorf("%w: output is not valid JSON", core.ErrInvalidResponse)
	}

	return models.GenerationResult{
		Output:     content,
		Model:      p.model,
		TokensUsed: out.EvalCount,
	}, nil
}

var _ models.Generator = (*Provider)(nil)
