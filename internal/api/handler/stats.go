package handler

import (
	"context"
	"net/http"

	mw "github.com/karanmehta/recheck/internal/api/middleware"
	"github.com/karanmehta/recheck/internal/api/response"
	"github.com/karanmehta/recheck/internal/dedup"
)

// StatsProvider defines the interface the stats handler depends on.
type StatsProvider interface {
	UserStats(ctx context.Context, userID string) (*dedup.UsageStats, error)
}

// NewStatsHandler returns an http.HandlerFunc for GET /api/v1/stats.
func NewStatsHandler(svc StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		stats, err := svc.UserStats(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to aggregate usage", nil)
			return
		}

		response.JSON(w, stats)
	}
}
