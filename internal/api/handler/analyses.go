package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/karanmehta/recheck/internal/api/middleware"
	"github.com/karanmehta/recheck/internal/api/response"
	"github.com/karanmehta/recheck/internal/dedup"
	"github.com/karanmehta/recheck/pkg/models"
)

// AnalysisService defines the interface the analysis handlers depend on.
type AnalysisService interface {
	DuplicateChecker
	Generate(ctx context.Context, p dedup.GenerateParams) (*models.AnalysisRecord, error)
	GetCachedResult(ctx context.Context, id uuid.UUID, userID string) (*dedup.CachedResult, error)
	Regenerate(ctx context.Context, id uuid.UUID, userID string) (*models.AnalysisRecord, error)
}

type createAnalysisBody struct {
	analysisRequestBody
	Force              bool       `json:"force"`
	OriginalAnalysisID *uuid.UUID `json:"original_analysis_id,omitempty"`
}

// NewCreateAnalysisHandler returns an http.HandlerFunc for POST /api/v1/analyses.
//
// Unless the caller forces generation or acknowledges a known duplicate via
// original_analysis_id, a duplicate hit short-circuits with 409 and the full
// check result; the client then offers reuse, regenerate, or modify.
func NewCreateAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var body createAnalysisBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if body.ToolSlug == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "tool_slug is required", nil)
			return
		}

		req := body.toRequest(userID)

		if !body.Force && body.OriginalAnalysisID == nil {
			check, err := svc.CheckForDuplicates(r.Context(), req)
			if err != nil {
				writeCheckError(w, err)
				return
			}
			if check.IsDuplicate {
				response.Conflict(w, check)
				return
			}
		}

		rec, err := svc.Generate(r.Context(), dedup.GenerateParams{
			Request:            req,
			Force:              body.Force,
			OriginalAnalysisID: body.OriginalAnalysisID,
		})
		if err != nil {
			writeGenerateError(w, err)
			return
		}

		response.Created(w, rec)
	}
}

// NewGetAnalysisHandler returns an http.HandlerFunc for GET /api/v1/analyses/{analysisID}.
func NewGetAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "analysisID must be a valid UUID", nil)
			return
		}

		cached, err := svc.GetCachedResult(r.Context(), id, userID)
		if err != nil {
			writeLookupError(w, err)
			return
		}

		response.JSON(w, cached)
	}
}

// NewRegenerateHandler returns an http.HandlerFunc for POST /api/v1/analyses/{analysisID}/regenerate.
func NewRegenerateHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "analysisID must be a valid UUID", nil)
			return
		}

		rec, err := svc.Regenerate(r.Context(), id, userID)
		if err != nil {
			if errors.Is(err, dedup.ErrNotFound) || errors.Is(err, dedup.ErrUnauthorized) {
				writeLookupError(w, err)
				return
			}
			writeGenerateError(w, err)
			return
		}

		response.Created(w, rec)
	}
}

func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dedup.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Analysis not found", nil)
	case errors.Is(err, dedup.ErrUnauthorized):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "Analysis belongs to a different user", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Lookup failed", nil)
	}
}

func writeGenerateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dedup.ErrGenerationInFlight):
		w.Header().Set("Retry-After", "5")
		response.Error(w, http.StatusConflict, "GENERATION_IN_FLIGHT",
			"An identical request is already being generated", nil)
	default:
		writeCheckError(w, err)
	}
}
