package handler

import (
	"context"
	"net/http"
	"strconv"

	mw "github.com/karanmehta/recheck/internal/api/middleware"
	"github.com/karanmehta/recheck/internal/api/response"
	"github.com/karanmehta/recheck/pkg/models"
)

const defaultCleanupDays = 30

// DuplicateManager defines the interface the duplicate handlers depend on.
type DuplicateManager interface {
	DuplicateGroups(ctx context.Context, userID string) ([][]*models.AnalysisRecord, error)
	CleanupDuplicates(ctx context.Context, userID string, olderThanDays int) (int64, error)
}

// NewDuplicateGroupsHandler returns an http.HandlerFunc for GET /api/v1/duplicates.
func NewDuplicateGroupsHandler(svc DuplicateManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		groups, err := svc.DuplicateGroups(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list duplicate groups", nil)
			return
		}

		response.JSON(w, groups)
	}
}

// NewCleanupHandler returns an http.HandlerFunc for DELETE /api/v1/duplicates.
func NewCleanupHandler(svc DuplicateManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		days := defaultCleanupDays
		if v := r.URL.Query().Get("older_than_days"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"older_than_days must be a positive integer", nil)
				return
			}
			days = parsed
		}

		count, err := svc.CleanupDuplicates(r.Context(), userID, days)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Cleanup failed", nil)
			return
		}

		response.JSON(w, map[string]any{"deleted": count})
	}
}
