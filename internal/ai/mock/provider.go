package mock

import (
	"context"
	"encoding/json"

	"github.com/karanmehta/recheck/pkg/models"
)

// Provider satisfies models.Generator for testing and local development.
type Provider struct {
	Name_        string
	GenerateFunc func(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error)
}

func (m *Provider) Name() string { return m.Name_ }

func (m *Provider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.GenerationResult{}, nil
}

// NewProvider returns a Provider with a sensible default response.
func NewProvider() *Provider {
	return &Provider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
			out, _ := json.Marshal(map[string]any{
				"tool":    req.ToolSlug,
				"summary": "Simulated analysis result from the mock provider",
			})
			return models.GenerationResult{
				Output:     out,
				Model:      "mock-v1",
				TokensUsed: 42,
			}, nil
		},
	}
}

// NewFailingProvider returns a Provider that always returns the given error.
func NewFailingProvider(err error) *Provider {
	return &Provider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.GenerationRequest) (models.GenerationResult, error) {
			return models.GenerationResult{}, err
		},
	}
}
