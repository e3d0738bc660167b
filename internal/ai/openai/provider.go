package openai

import (
	"context"
	"encoding/json"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/karanmehta/recheck/internal/ai/core"
	"github.com/karanmehta/recheck/internal/config"
	"github.com/karanmehta/recheck/pkg/models"
)

// Provider implements models.Generator using the OpenAI chat completions API.
type Provider struct {
	client *goopenai.Client
	model  string
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return &Provider{
		client: goopenai.NewClient(cfg.APIKey),
		model:  cfg.Model,
	}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	prompt, err := core.BuildPrompt(req.ToolSlug, req.ToolName, req.AnalysisType, req.Parameters)
	if err != nil {
		return models.GenerationResult{}, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: p.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return models.GenerationResult{}, fmt.Errorf("%w: no choices returned", core.ErrInvalidResponse)
	}

	content := []byte(resp.Choices[0].Message.Content)
	if !json.Valid(content) {
		return models.GenerationResult{}, fmt.Errorf("%w: output is not valid JSON", core.ErrInvalidResponse)
	}

	return models.GenerationResult{
		Output:     content,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

var _ models.Generator = (*Provider)(nil)
