// Package models contains shared data models used across the Recheck codebase.
package models

import (
	"context"
	"encoding/json"
)

// Generator is the core interface that all AI generation backends must
// implement. Never call specific AI providers directly — always inject this
// interface.
type Generator interface {
	// Generate produces an analysis result for the given tool and parameters.
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// GenerationRequest is the input to a generation call.
type GenerationRequest struct {
	ToolSlug     string
	ToolName     string
	AnalysisType string
	Parameters   map[string]any
}

// GenerationResult is the raw output of a generation call. Output is opaque
// to the dedup engine; it is stored and returned verbatim.
type GenerationResult struct {
	Output     json.RawMessage
	Model      string
	TokensUsed int
}
