package ai

import (
	"fmt"

	"github.com/karanmehta/recheck/internal/ai/mock"
	"github.com/karanmehta/recheck/internal/ai/ollama"
	"github.com/karanmehta/recheck/internal/ai/openai"
	"github.com/karanmehta/recheck/internal/config"
	"github.com/karanmehta/recheck/pkg/models"
)

// NewGenerator constructs the appropriate generation backend based on config.
// Called once at server startup.
func NewGenerator(cfg config.AIConfig) (models.Generator, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "ollama":
		return ollama.NewProvider(cfg.Ollama), nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of openai, ollama, mock", cfg.Provider)
	}
}
