package models

// AnalysisRequest is the input to a duplicate check or generation call.
// Parameters is an arbitrary JSON-like tree of strings, numbers, booleans,
// arrays, and maps; it is never mutated after the request is built.
type AnalysisRequest struct {
	UserID       string         `json:"user_id"`
	ToolSlug     string         `json:"tool_slug"`
	ToolName     string         `json:"tool_name"`
	AnalysisType string         `json:"analysis_type"`
	Parameters   map[string]any `json:"parameters"`
	IsAnonymous  bool           `json:"is_anonymous"`
}

// DuplicateCheckResult is the outcome of a duplicate check. ParameterHash is
// always populated, even on a miss, so the caller can pass it straight to save.
type DuplicateCheckResult struct {
	IsDuplicate       bool            `json:"is_duplicate"`
	ExistingAnalysis  *AnalysisRecord `json:"existing_analysis,omitempty"`
	Similarity        float64         `json:"similarity"`
	Differences       []string        `json:"differences"`
	ShouldShowWarning bool            `json:"should_show_warning"`
	ParameterHash     string          `json:"parameter_hash"`
}
