package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karanmehta/recheck/pkg/models"
)

const analysisColumns = `id, user_id, tool_slug, tool_name, analysis_type, input_data,
	 normalized_parameters, parameter_hash, result, metadata, status, is_duplicate,
	 original_analysis_id, regeneration_count, access_count, created_at, last_accessed_at`

const defaultCandidateLimit = 25
const maxCandidateLimit = 100

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Analyses ---

func (s *PostgresStore) InsertAnalysis(ctx context.Context, rec *models.AnalysisRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analyses (`+analysisColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		rec.ID, rec.UserID, rec.ToolSlug, rec.ToolName, rec.AnalysisType, rec.InputData,
		rec.NormalizedParameters, rec.ParameterHash, rec.Result, rec.Metadata, rec.Status,
		rec.IsDuplicate, rec.OriginalAnalysisID, rec.RegenerationCount, rec.AccessCount,
		rec.CreatedAt, rec.LastAccessedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id)
	rec, err := scanAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return rec, nil
}

// FindByParameterHash returns the most recent completed record with an
// exact hash match for the user, or ErrNotFound. Several records may share a
// hash when the user regenerated; the newest carries the freshest result.
// Records still processing or failed are never served as cache hits.
func (s *PostgresStore) FindByParameterHash(ctx context.Context, userID, parameterHash string) (*models.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses
		 WHERE user_id = $1 AND parameter_hash = $2 AND status = 'completed'
		 ORDER BY created_at DESC LIMIT 1`, userID, parameterHash)
	rec, err := scanAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find by parameter hash: %w", err)
	}
	return rec, nil
}

// FindCandidates returns the user's recent records for a tool whose
// normalized parameters share at least one top-level key with the filter.
// The GIN index on normalized_parameters serves the ?| key-overlap test.
func (s *PostgresStore) FindCandidates(ctx context.Context, filter CandidateFilter) ([]*models.AnalysisRecord, error) {
	if len(filter.ParameterKeys) == 0 {
		return []*models.AnalysisRecord{}, nil
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultCandidateLimit
	}
	if limit > maxCandidateLimit {
		limit = maxCandidateLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+analysisColumns+` FROM analyses
		 WHERE user_id = $1 AND tool_slug = $2 AND normalized_parameters ?| $3
		 ORDER BY created_at DESC LIMIT $4`,
		filter.UserID, filter.ToolSlug, filter.ParameterKeys, limit)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	defer rows.Close()

	return collectAnalyses(rows)
}

// BumpAccess increments a record's access count. The single-column increment
// is atomic; no transaction is required.
func (s *PostgresStore) BumpAccess(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET access_count = access_count + 1, last_accessed_at = NOW()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("bump access: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDuplicates(ctx context.Context, userID string) ([]*models.AnalysisRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+analysisColumns+` FROM analyses
		 WHERE user_id = $1 AND is_duplicate
		 ORDER BY parameter_hash, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list duplicates: %w", err)
	}
	defer rows.Close()

	return collectAnalyses(rows)
}

// DeleteDuplicatesBefore removes duplicate-flagged records created before the
// cutoff. Originals (is_duplicate = false) are never touched, regardless of age.
func (s *PostgresStore) DeleteDuplicatesBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM analyses WHERE user_id = $1 AND is_duplicate AND created_at < $2`,
		userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete duplicates: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) UserUsage(ctx context.Context, userID string) (*UserUsage, error) {
	var usage UserUsage
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE is_duplicate),
		        COALESCE(SUM((metadata->>'tokens_used')::BIGINT), 0),
		        COALESCE(SUM((metadata->>'estimated_cost')::FLOAT8), 0)
		 FROM analyses WHERE user_id = $1`, userID,
	).Scan(&usage.TotalAnalyses, &usage.DuplicateAnalyses, &usage.TotalTokensUsed, &usage.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("user usage totals: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT tool_slug, COUNT(*), COUNT(*) FILTER (WHERE is_duplicate)
		 FROM analyses WHERE user_id = $1
		 GROUP BY tool_slug ORDER BY COUNT(*) DESC, tool_slug`, userID)
	if err != nil {
		return nil, fmt.Errorf("user usage by tool: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tu ToolUsage
		if err := rows.Scan(&tu.ToolSlug, &tu.Count, &tu.DuplicateCount); err != nil {
			return nil, fmt.Errorf("scan tool usage: %w", err)
		}
		usage.PerTool = append(usage.PerTool, tu)
	}
	return &usage, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

func scanAnalysis(row pgx.Row) (*models.AnalysisRecord, error) {
	var rec models.AnalysisRecord
	err := row.Scan(&rec.ID, &rec.UserID, &rec.ToolSlug, &rec.ToolName, &rec.AnalysisType,
		&rec.InputData, &rec.NormalizedParameters, &rec.ParameterHash, &rec.Result,
		&rec.Metadata, &rec.Status, &rec.IsDuplicate, &rec.OriginalAnalysisID,
		&rec.RegenerationCount, &rec.AccessCount, &rec.CreatedAt, &rec.LastAccessedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectAnalyses(rows pgx.Rows) ([]*models.AnalysisRecord, error) {
	var recs []*models.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
