// Package handler contains the HTTP handlers for the Recheck API. Each
// handler declares the narrow service interface it depends on.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	mw "github.com/karanmehta/recheck/internal/api/middleware"
	"github.com/karanmehta/recheck/internal/api/response"
	"github.com/karanmehta/recheck/internal/params"
	"github.com/karanmehta/recheck/pkg/models"
)

// DuplicateChecker defines the interface the check handler depends on.
type DuplicateChecker interface {
	CheckForDuplicates(ctx context.Context, req models.AnalysisRequest) (*models.DuplicateCheckResult, error)
}

// analysisRequestBody is the shared request shape for check and generate
// calls. The user is taken from the authenticated context, never the body.
type analysisRequestBody struct {
	ToolSlug     string         `json:"tool_slug"`
	ToolName     string         `json:"tool_name"`
	AnalysisType string         `json:"analysis_type"`
	Parameters   map[string]any `json:"parameters"`
	IsAnonymous  bool           `json:"is_anonymous"`
}

func (b *analysisRequestBody) toRequest(userID string) models.AnalysisRequest {
	return models.AnalysisRequest{
		UserID:       userID,
		ToolSlug:     b.ToolSlug,
		ToolName:     b.ToolName,
		AnalysisType: b.AnalysisType,
		Parameters:   b.Parameters,
		IsAnonymous:  b.IsAnonymous,
	}
}

// NewCheckHandler returns an http.HandlerFunc for POST /api/v1/check.
func NewCheckHandler(svc DuplicateChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var body analysisRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if body.ToolSlug == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "tool_slug is required", nil)
			return
		}

		result, err := svc.CheckForDuplicates(r.Context(), body.toRequest(userID))
		if err != nil {
			writeCheckError(w, err)
			return
		}

		response.JSON(w, result)
	}
}

func writeCheckError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, params.ErrTooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, "PARAMETERS_TOO_LARGE",
			"Parameters exceed the maximum serialized size", nil)
	case errors.Is(err, params.ErrNotSerializable):
		response.Error(w, http.StatusBadRequest, "INVALID_PARAMETERS",
			"Parameters are not serializable", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Duplicate check failed", nil)
	}
}
