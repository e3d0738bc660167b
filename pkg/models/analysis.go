package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	AnalysisStatusCompleted  = "completed"
	AnalysisStatusFailed     = "failed"
	AnalysisStatusProcessing = "processing"
)

// AnalysisRecord is the persisted unit of work: one generated analysis result
// together with the canonical parameters and hash used for duplicate detection.
// Records are created once and never mutated afterwards, except for the
// access-count bump on cache hits and explicit retention cleanup of old
// duplicate-flagged records.
type AnalysisRecord struct {
	ID                   uuid.UUID       `db:"id"                    json:"id"`
	UserID               string          `db:"user_id"               json:"user_id"`
	ToolSlug             string          `db:"tool_slug"             json:"tool_slug"`
	ToolName             string          `db:"tool_name"             json:"tool_name"`
	AnalysisType         string          `db:"analysis_type"         json:"analysis_type"`
	InputData            map[string]any  `db:"input_data"            json:"input_data"`
	NormalizedParameters map[string]any  `db:"normalized_parameters" json:"normalized_parameters"`
	ParameterHash        string          `db:"parameter_hash"        json:"parameter_hash"`
	Result               json.RawMessage `db:"result"                json:"result,omitempty"`
	Metadata             ResultMetadata  `db:"metadata"              json:"metadata"`
	Status               string          `db:"status"                json:"status"`
	IsDuplicate          bool            `db:"is_duplicate"          json:"is_duplicate"`
	OriginalAnalysisID   *uuid.UUID      `db:"original_analysis_id"  json:"original_analysis_id,omitempty"`
	RegenerationCount    int             `db:"regeneration_count"    json:"regeneration_count"`
	AccessCount          int             `db:"access_count"          json:"access_count"`
	CreatedAt            time.Time       `db:"created_at"            json:"created_at"`
	LastAccessedAt       time.Time       `db:"last_accessed_at"      json:"last_accessed_at"`
}

// ResultMetadata describes how a result was produced. Stored alongside the
// result and used for usage reporting.
type ResultMetadata struct {
	ProcessingTimeMS int64   `json:"processing_time_ms"`
	TokensUsed       int     `json:"tokens_used"`
	EstimatedCost    float64 `json:"estimated_cost"`
	Model            string  `json:"model"`
}
