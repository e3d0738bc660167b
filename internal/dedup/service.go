// Package dedup orchestrates duplicate detection and result reuse in front
// of the AI generation backend. Duplicate detection is always a soft signal:
// the caller decides whether to reuse a cached result, regenerate, or let
// the user modify parameters. Store failures during a check degrade to "no
// duplicate found" (an unnecessary regeneration is safe); failures while
// saving a result always propagate (a displayed-but-unpersisted result is
// silent data loss).
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/karanmehta/recheck/internal/cache"
	"github.com/karanmehta/recheck/internal/config"
	"github.com/karanmehta/recheck/internal/params"
	"github.com/karanmehta/recheck/internal/store"
	"github.com/karanmehta/recheck/pkg/models"
)

// maxDifferences caps the human-readable difference list in check results.
const maxDifferences = 5

const statsTTL = time.Minute

// Service coordinates the canonicalize → hash → lookup → compare pipeline
// and the bookkeeping around saved results.
type Service struct {
	store     store.Store
	cache     cache.Cache
	generator models.Generator

	warnThreshold    float64
	maxCandidates    int
	lockTTL          time.Duration
	timeout          time.Duration
	estTokensPerCall int
	costPer1KTokens  float64
}

// NewService creates a new dedup Service. All collaborators are injected;
// the service holds no process-wide state.
func NewService(st store.Store, ca cache.Cache, gen models.Generator, cfg config.DedupConfig, inferenceTimeout time.Duration) *Service {
	return &Service{
		store:            st,
		cache:            ca,
		generator:        gen,
		warnThreshold:    cfg.SimilarityThreshold,
		maxCandidates:    cfg.MaxCandidates,
		lockTTL:          cfg.LockTTL,
		timeout:          inferenceTimeout,
		estTokensPerCall: cfg.EstTokensPerCall,
		costPer1KTokens:  cfg.CostPer1KTokens,
	}
}

// CheckForDuplicates reports whether an equivalent or near-equivalent request
// has already been answered for this user and tool. The returned
// ParameterHash is always populated, even on a miss, so the caller can pass
// it straight to save.
func (s *Service) CheckForDuplicates(ctx context.Context, req models.AnalysisRequest) (*models.DuplicateCheckResult, error) {
	if err := params.Validate(req.Parameters); err != nil {
		return nil, err
	}

	userID := scopeUser(req)
	hash, err := params.Hash(req.Parameters, req.ToolSlug, userID)
	if err != nil {
		return nil, err
	}

	miss := &models.DuplicateCheckResult{
		Similarity:    0,
		Differences:   []string{},
		ParameterHash: hash,
	}

	existing, err := s.store.FindByParameterHash(ctx, userID, hash)
	if err == nil {
		s.noteAccess(ctx, existing.ID)
		return &models.DuplicateCheckResult{
			IsDuplicate:       true,
			ExistingAnalysis:  existing,
			Similarity:        1.0,
			Differences:       []string{},
			ShouldShowWarning: true,
			ParameterHash:     hash,
		}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		// Fail open: an unnecessary regeneration is safe, blocking the user
		// on a flaky lookup is not.
		slog.Warn("duplicate check: hash lookup failed, treating as miss",
			"user_id", userID, "tool_slug", req.ToolSlug, "error", err)
		return miss, nil
	}

	canonical := params.Normalize(req.Parameters)
	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		keys = append(keys, k)
	}

	candidates, err := s.store.FindCandidates(ctx, store.CandidateFilter{
		UserID:        userID,
		ToolSlug:      req.ToolSlug,
		ParameterKeys: keys,
		Limit:         s.maxCandidates,
	})
	if err != nil {
		slog.Warn("duplicate check: candidate scan failed, treating as miss",
			"user_id", userID, "tool_slug", req.ToolSlug, "error", err)
		return miss, nil
	}

	var best *models.AnalysisRecord
	highest := 0.0
	for _, cand := range candidates {
		sim := params.Similarity(req.Parameters, cand.InputData)
		if sim > highest {
			highest = sim
			best = cand
		}
	}

	if best != nil && highest > s.warnThreshold {
		diffs := params.Differences(req.Parameters, best.InputData)
		if len(diffs) > maxDifferences {
			diffs = diffs[:maxDifferences]
		}
		return &models.DuplicateCheckResult{
			IsDuplicate:       true,
			ExistingAnalysis:  best,
			Similarity:        highest,
			Differences:       diffs,
			ShouldShowWarning: true,
			ParameterHash:     hash,
		}, nil
	}

	return miss, nil
}

// SaveResult persists a completed analysis. isDuplicate marks records the
// user generated despite a duplicate warning; originalID links back to the
// record they were warned about. Persistence failures propagate.
func (s *Service) SaveResult(ctx context.Context, req models.AnalysisRequest, result json.RawMessage, meta models.ResultMetadata, isDuplicate bool, originalID *uuid.UUID) (uuid.UUID, error) {
	rec, err := s.saveRecord(ctx, req, result, meta, isDuplicate, originalID)
	if err != nil {
		return uuid.Nil, err
	}
	return rec.ID, nil
}

// ForceRegenerate persists a result while explicitly opting out of duplicate
// bookkeeping for this one record.
func (s *Service) ForceRegenerate(ctx context.Context, req models.AnalysisRequest, result json.RawMessage, meta models.ResultMetadata) (uuid.UUID, error) {
	return s.SaveResult(ctx, req, result, meta, false, nil)
}

// CachedResult is the payload returned when a caller reuses a prior analysis.
type CachedResult struct {
	Result             json.RawMessage       `json:"result"`
	Metadata           models.ResultMetadata `json:"metadata"`
	CreatedAt          time.Time             `json:"created_at"`
	IsDuplicate        bool                  `json:"is_duplicate"`
	OriginalAnalysisID *uuid.UUID            `json:"original_analysis_id,omitempty"`
}

// GetCachedResult fetches a stored result by id, verifying ownership. A
// record owned by a different user is an authorization error, never a silent
// miss. Each successful fetch bumps the record's access count.
func (s *Service) GetCachedResult(ctx context.Context, id uuid.UUID, userID string) (*CachedResult, error) {
	rec, err := s.store.GetAnalysis(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching cached result: %w", err)
	}
	if rec.UserID != userID {
		return nil, ErrUnauthorized
	}

	s.noteAccess(ctx, rec.ID)

	return &CachedResult{
		Result:             rec.Result,
		Metadata:           rec.Metadata,
		CreatedAt:          rec.CreatedAt,
		IsDuplicate:        rec.IsDuplicate,
		OriginalAnalysisID: rec.OriginalAnalysisID,
	}, nil
}

// DuplicateGroups returns the user's duplicate-flagged records grouped by
// parameter hash, keeping only groups with at least two members.
func (s *Service) DuplicateGroups(ctx context.Context, userID string) ([][]*models.AnalysisRecord, error) {
	recs, err := s.store.ListDuplicates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing duplicates: %w", err)
	}

	byHash := make(map[string][]*models.AnalysisRecord)
	var order []string
	for _, rec := range recs {
		if _, seen := byHash[rec.ParameterHash]; !seen {
			order = append(order, rec.ParameterHash)
		}
		byHash[rec.ParameterHash] = append(byHash[rec.ParameterHash], rec)
	}

	groups := make([][]*models.AnalysisRecord, 0, len(order))
	for _, hash := range order {
		if group := byHash[hash]; len(group) >= 2 {
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// CleanupDuplicates deletes duplicate-flagged records older than the cutoff
// and returns how many were removed. Original records survive regardless of
// age.
func (s *Service) CleanupDuplicates(ctx context.Context, userID string, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	count, err := s.store.DeleteDuplicatesBefore(ctx, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up duplicates: %w", err)
	}
	if count > 0 {
		s.invalidateStats(ctx, userID)
	}
	return count, nil
}

// UsageStats aggregates a user's analysis counts and the savings attributable
// to duplicate detection. Purely derived reporting; cached briefly.
type UsageStats struct {
	TotalAnalyses        int               `json:"total_analyses"`
	DuplicateAnalyses    int               `json:"duplicate_analyses"`
	UniqueAnalyses       int               `json:"unique_analyses"`
	TotalTokensUsed      int64             `json:"total_tokens_used"`
	TotalCost            float64           `json:"total_cost"`
	EstimatedTokensSaved int               `json:"estimated_tokens_saved"`
	EstimatedCostSaved   float64           `json:"estimated_cost_saved"`
	PerTool              []store.ToolUsage `json:"per_tool"`
}

// UserStats computes usage statistics for a user.
func (s *Service) UserStats(ctx context.Context, userID string) (*UsageStats, error) {
	key := cache.UserStatsKey(userID)
	if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cached UsageStats
		if json.Unmarshal(b, &cached) == nil {
			return &cached, nil
		}
	}

	usage, err := s.store.UserUsage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage: %w", err)
	}

	stats := &UsageStats{
		TotalAnalyses:        usage.TotalAnalyses,
		DuplicateAnalyses:    usage.DuplicateAnalyses,
		UniqueAnalyses:       usage.TotalAnalyses - usage.DuplicateAnalyses,
		TotalTokensUsed:      usage.TotalTokensUsed,
		TotalCost:            usage.TotalCost,
		EstimatedTokensSaved: usage.DuplicateAnalyses * s.estTokensPerCall,
		PerTool:              usage.PerTool,
	}
	stats.EstimatedCostSaved = float64(stats.EstimatedTokensSaved) / 1000 * s.costPer1KTokens

	if b, err := json.Marshal(stats); err == nil {
		_ = s.cache.Set(ctx, key, b, statsTTL)
	}
	return stats, nil
}

// GenerateParams controls a generation call. Force skips duplicate reuse
// entirely (explicit regeneration); OriginalAnalysisID links the new record
// to the duplicate the user was warned about and chose to regenerate anyway.
type GenerateParams struct {
	Request            models.AnalysisRequest
	Force              bool
	OriginalAnalysisID *uuid.UUID
}

// Generate runs the generation backend and persists the result. The
// check-miss → generate → save critical section is guarded by a short-lived
// advisory lock keyed by (user, parameter hash), so at most one generation
// per identical request is in flight; a second concurrent caller gets
// ErrGenerationInFlight. After acquiring the lock the exact lookup is
// repeated, because another request may have saved between the caller's
// check and now. A Redis outage downgrades the lock to best-effort rather
// than blocking generation.
func (s *Service) Generate(ctx context.Context, p GenerateParams) (*models.AnalysisRecord, error) {
	req := p.Request
	if err := params.Validate(req.Parameters); err != nil {
		return nil, err
	}

	userID := scopeUser(req)
	hash, err := params.Hash(req.Parameters, req.ToolSlug, userID)
	if err != nil {
		return nil, err
	}

	lockKey := cache.GenerationLockKey(userID, hash)
	acquired, err := s.cache.AcquireLock(ctx, lockKey, s.lockTTL)
	switch {
	case err != nil:
		slog.Warn("generation lock unavailable, proceeding unguarded",
			"user_id", userID, "error", err)
	case !acquired:
		return nil, ErrGenerationInFlight
	default:
		defer func() {
			// The request context may already be cancelled by the time we
			// release; use a fresh one so the lock never leaks for lockTTL.
			if err := s.cache.ReleaseLock(context.Background(), lockKey); err != nil {
				slog.Warn("releasing generation lock failed", "key", lockKey, "error", err)
			}
		}()
	}

	if !p.Force {
		if existing, err := s.store.FindByParameterHash(ctx, userID, hash); err == nil {
			s.noteAccess(ctx, existing.ID)
			return existing, nil
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	out, err := s.generator.Generate(genCtx, models.GenerationRequest{
		ToolSlug:     req.ToolSlug,
		ToolName:     req.ToolName,
		AnalysisType: req.AnalysisType,
		Parameters:   req.Parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("generating analysis: %w", err)
	}

	meta := models.ResultMetadata{
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		TokensUsed:       out.TokensUsed,
		EstimatedCost:    float64(out.TokensUsed) / 1000 * s.costPer1KTokens,
		Model:            out.Model,
	}

	isDuplicate := !p.Force && p.OriginalAnalysisID != nil
	var originalID *uuid.UUID
	if isDuplicate {
		originalID = p.OriginalAnalysisID
	}

	return s.saveRecord(ctx, req, out.Output, meta, isDuplicate, originalID)
}

// Regenerate re-runs generation for an existing record's parameters,
// explicitly opting out of duplicate reuse.
func (s *Service) Regenerate(ctx context.Context, id uuid.UUID, userID string) (*models.AnalysisRecord, error) {
	rec, err := s.store.GetAnalysis(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching analysis: %w", err)
	}
	if rec.UserID != userID {
		return nil, ErrUnauthorized
	}

	return s.Generate(ctx, GenerateParams{
		Request: models.AnalysisRequest{
			UserID:       rec.UserID,
			ToolSlug:     rec.ToolSlug,
			ToolName:     rec.ToolName,
			AnalysisType: rec.AnalysisType,
			Parameters:   rec.InputData,
		},
		Force: true,
	})
}

// saveRecord builds and persists an AnalysisRecord. Insert failures
// propagate unwrapped into user-facing errors: this is the fail-closed
// write path.
func (s *Service) saveRecord(ctx context.Context, req models.AnalysisRequest, result json.RawMessage, meta models.ResultMetadata, isDuplicate bool, originalID *uuid.UUID) (*models.AnalysisRecord, error) {
	if err := params.Validate(req.Parameters); err != nil {
		return nil, err
	}

	userID := scopeUser(req)
	hash, err := params.Hash(req.Parameters, req.ToolSlug, userID)
	if err != nil {
		return nil, err
	}

	regenCount := 0
	if isDuplicate {
		regenCount = 1
	}

	now := time.Now().UTC()
	rec := &models.AnalysisRecord{
		ID:                   uuid.New(),
		UserID:               userID,
		ToolSlug:             req.ToolSlug,
		ToolName:             req.ToolName,
		AnalysisType:         req.AnalysisType,
		InputData:            req.Parameters,
		NormalizedParameters: params.Normalize(req.Parameters),
		ParameterHash:        hash,
		Result:               result,
		Metadata:             meta,
		Status:               models.AnalysisStatusCompleted,
		IsDuplicate:          isDuplicate,
		OriginalAnalysisID:   originalID,
		RegenerationCount:    regenCount,
		AccessCount:          1,
		CreatedAt:            now,
		LastAccessedAt:       now,
	}

	if err := s.store.InsertAnalysis(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving analysis result: %w", err)
	}

	s.invalidateStats(ctx, userID)
	return rec, nil
}

// noteAccess bumps a record's access count. Bookkeeping only: a failed bump
// never blocks serving the cached result.
func (s *Service) noteAccess(ctx context.Context, id uuid.UUID) {
	if err := s.store.BumpAccess(ctx, id); err != nil {
		slog.Warn("access count bump failed", "analysis_id", id, "error", err)
	}
}

func (s *Service) invalidateStats(ctx context.Context, userID string) {
	_ = s.cache.Delete(ctx, cache.UserStatsKey(userID))
}

// scopeUser resolves the ownership scope for hashing and storage. Anonymous
// requests all share one scope; there is no cross-user cache sharing.
func scopeUser(req models.AnalysisRequest) string {
	if req.IsAnonymous || req.UserID == "" {
		return params.AnonymousUser
	}
	return req.UserID
}
