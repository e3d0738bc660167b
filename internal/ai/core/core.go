// Package core holds the prompt builder and error sentinels shared by the
// provider subpackages. It lives below the provider packages so that the
// factory in package ai can import them without an import cycle.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable marks transport-level failures talking to the
	// generation backend.
	ErrProviderUnavailable = errors.New("generation backend unreachable")
	// ErrInvalidResponse marks backend replies that are not usable JSON.
	ErrInvalidResponse = errors.New("generation backend returned invalid output")
)

// BuildPrompt renders the generation prompt shared by all providers. The
// parameter tree is embedded as formatted JSON so the model sees the exact
// inputs the user supplied.
func BuildPrompt(toolSlug, toolName, analysisType string, parameters map[string]any) (string, error) {
	encoded, err := json.MarshalIndent(parameters, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding parameters for prompt: %w", err)
	}

	label := toolName
	if label == "" {
		label = toolSlug
	}

	return fmt.Sprintf(
		`You are the %s analysis tool. Produce a %s analysis for the following inputs.

Inputs:
%s

Respond with a single JSON object containing the analysis. Do not include any text outside the JSON object.`,
		label, analysisType, encoded), nil
}
