package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/karanmehta/recheck/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	InsertAnalysis(ctx context.Context, rec *models.AnalysisRecord) error
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.AnalysisRecord, error)
	FindByParameterHash(ctx context.Context, userID, parameterHash string) (*models.AnalysisRecord, error)
	FindCandidates(ctx context.Context, filter CandidateFilter) ([]*models.AnalysisRecord, error)
	BumpAccess(ctx context.Context, id uuid.UUID) error
	ListDuplicates(ctx context.Context, userID string) ([]*models.AnalysisRecord, error)
	DeleteDuplicatesBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	UserUsage(ctx context.Context, userID string) (*UserUsage, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID string) error
}

// CandidateFilter selects prior records for near-duplicate comparison. The
// store pre-filters by top-level canonical parameter key overlap so the
// engine never re-scans a user's full history.
type CandidateFilter struct {
	UserID        string
	ToolSlug      string
	ParameterKeys []string
	Limit         int
}

// UserUsage aggregates per-user analysis counts for reporting.
type UserUsage struct {
	TotalAnalyses     int
	DuplicateAnalyses int
	TotalTokensUsed   int64
	TotalCost         float64
	PerTool           []ToolUsage
}

// ToolUsage is the per-tool slice of a usage aggregate.
type ToolUsage struct {
	ToolSlug       string `json:"tool_slug"`
	Count          int    `json:"count"`
	DuplicateCount int    `json:"duplicate_count"`
}
