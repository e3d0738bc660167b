package ai

import "github.com/karanmehta/recheck/internal/ai/core"

// BuildPrompt renders the generation prompt shared by all providers. The
// parameter tree is embedded as formatted JSON so the model sees the exact
// inputs the user supplied.
func BuildPrompt(toolSlug, toolName, analysisType string, parameters map[string]any) (string, error) {
	return core.BuildPrompt(toolSlug, toolName, analysisType, parameters)
}
