package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/karanmehta/recheck/internal/config"
	"github.com/karanmehta/recheck/internal/params"
	"github.com/karanmehta/recheck/internal/store"
	"github.com/karanmehta/recheck/pkg/models"
)

// --- mocks ---

type mockStore struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*models.AnalysisRecord
	inserted []*models.AnalysisRecord
	bumped   []uuid.UUID

	findByHashErr  error
	candidatesErr  error
	insertErr      error
	getErr         error
	bumpErr        error
	usage          *store.UserUsage
	usageErr       error
	duplicates     []*models.AnalysisRecord
	duplicatesErr  error
	deletedCount   int64
	deleteErr      error
	deleteCutoffs  []time.Time
	candidateCalls []store.CandidateFilter
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[uuid.UUID]*models.AnalysisRecord)}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) InsertAnalysis(_ context.Context, rec *models.AnalysisRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *mockStore) GetAnalysis(_ context.Context, id uuid.UUID) (*models.AnalysisRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (s *mockStore) FindByParameterHash(_ context.Context, userID, hash string) (*models.AnalysisRecord, error) {
	if s.findByHashErr != nil {
		return nil, s.findByHashErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.UserID == userID && rec.ParameterHash == hash {
			return rec, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) FindCandidates(_ context.Context, filter store.CandidateFilter) ([]*models.AnalysisRecord, error) {
	s.mu.Lock()
	s.candidateCalls = append(s.candidateCalls, filter)
	s.mu.Unlock()
	if s.candidatesErr != nil {
		return nil, s.candidatesErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AnalysisRecord
	for _, rec := range s.records {
		if rec.UserID == filter.UserID && rec.ToolSlug == filter.ToolSlug {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *mockStore) BumpAccess(_ context.Context, id uuid.UUID) error {
	if s.bumpErr != nil {
		return s.bumpErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumped = append(s.bumped, id)
	return nil
}

func (s *mockStore) ListDuplicates(_ context.Context, _ string) ([]*models.AnalysisRecord, error) {
	return s.duplicates, s.duplicatesErr
}

func (s *mockStore) DeleteDuplicatesBefore(_ context.Context, _ string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	s.deleteCutoffs = append(s.deleteCutoffs, cutoff)
	s.mu.Unlock()
	return s.deletedCount, s.deleteErr
}

func (s *mockStore) UserUsage(_ context.Context, _ string) (*store.UserUsage, error) {
	return s.usage, s.usageErr
}

func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *mockStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (s *mockStore) ListAPIKeys(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *mockStore) RevokeAPIKey(_ context.Context, _ uuid.UUID, _ string) error { return nil }

type mockCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	locks   map[string]bool
	lockErr error
	denied  bool
	deletes []string
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte), locks: make(map[string]bool)}
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deletes = append(c.deletes, key)
	return nil
}

func (c *mockCache) Ping(_ context.Context) error { return nil }

func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func (c *mockCache) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	if c.lockErr != nil {
		return false, c.lockErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denied || c.locks[key] {
		return false, nil
	}
	c.locks[key] = true
	return true, nil
}

func (c *mockCache) ReleaseLock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

type mockGenerator struct {
	name         string
	generateFunc func(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error)
	calls        int
	mu           sync.Mutex
}

func (g *mockGenerator) Name() string { return g.name }

func (g *mockGenerator) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.generateFunc != nil {
		return g.generateFunc(ctx, req)
	}
	return models.GenerationResult{
		Output:     json.RawMessage(`{"analysis":"ok"}`),
		Model:      "mock-v1",
		TokensUsed: 100,
	}, nil
}

// --- helpers ---

func testConfig() config.DedupConfig {
	return config.DedupConfig{
		SimilarityThreshold: 0.9,
		MaxCandidates:       25,
		LockTTL:             time.Minute,
		EstTokensPerCall:    1500,
		CostPer1KTokens:     0.03,
	}
}

func newTestService(st *mockStore, ca *mockCache, gen *mockGenerator) *Service {
	return NewService(st, ca, gen, testConfig(), 30*time.Second)
}

func testRequest() models.AnalysisRequest {
	return models.AnalysisRequest{
		UserID:       "user-1",
		ToolSlug:     "swot-analysis",
		ToolName:     "SWOT Analysis",
		AnalysisType: "strategy",
		Parameters: map[string]any{
			"company":  "Acme Corp",
			"industry": "saas",
			"budget":   10000.0,
		},
	}
}

func seedRecord(t *testing.T, st *mockStore, req models.AnalysisRequest) *models.AnalysisRecord {
	t.Helper()
	hash, err := params.Hash(req.Parameters, req.ToolSlug, req.UserID)
	if err != nil {
		t.Fatalf("hashing seed record: %v", err)
	}
	rec := &models.AnalysisRecord{
		ID:                   uuid.New(),
		UserID:               req.UserID,
		ToolSlug:             req.ToolSlug,
		ToolName:             req.ToolName,
		AnalysisType:         req.AnalysisType,
		InputData:            req.Parameters,
		NormalizedParameters: params.Normalize(req.Parameters),
		ParameterHash:        hash,
		Result:               json.RawMessage(`{"analysis":"seeded"}`),
		Metadata:             models.ResultMetadata{TokensUsed: 200, Model: "mock-v1"},
		Status:               models.AnalysisStatusCompleted,
		AccessCount:          1,
		CreatedAt:            time.Now().UTC().Add(-time.Hour),
		LastAccessedAt:       time.Now().UTC().Add(-time.Hour),
	}
	if err := st.InsertAnalysis(context.Background(), rec); err != nil {
		t.Fatalf("seeding record: %v", err)
	}
	return rec
}

// --- CheckForDuplicates tests ---

func TestCheckForDuplicates_ExactMatch(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	req := testRequest()
	seeded := seedRecord(t, st, req)

	// Same semantics, different surface form.
	req.Parameters = map[string]any{
		"industry": "  SaaS ",
		"company":  "acme corp",
		"budget":   10000.004,
	}

	result, err := svc.CheckForDuplicates(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsDuplicate {
		t.Fatal("expected duplicate")
	}
	if result.Similarity != 1.0 {
		t.Errorf("expected similarity 1.0, got %f", result.Similarity)
	}
	if result.ExistingAnalysis == nil || result.ExistingAnalysis.ID != seeded.ID {
		t.Error("expected the seeded record as the existing analysis")
	}
	if !result.ShouldShowWarning {
		t.Error("expected warning flag on exact match")
	}
	if len(result.Differences) != 0 {
		t.Errorf("expected no differences on exact match, got %v", result.Differences)
	}

	// Exact hit bumps the access count.
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.bumped) != 1 || st.bumped[0] != seeded.ID {
		t.Errorf("expected access bump for %s, got %v", seeded.ID, st.bumped)
	}
}

func TestCheckForDuplicates_Miss(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	result, err := svc.CheckForDuplicates(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsDuplicate {
		t.Error("expected no duplicate in empty store")
	}
	if result.ParameterHash == "" {
		t.Error("expected parameter hash populated on a miss")
	}
	if result.Differences == nil {
		t.Error("expected non-nil differences slice")
	}
}

func TestCheckForDuplicates_NearMatch(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	// Seed with many keys so one changed value stays above the warn threshold.
	req := testRequest()
	req.Parameters = map[string]any{
		"k01": 1.0, "k02": 2.0, "k03": 3.0, "k04": 4.0, "k05": 5.0,
		"k06": 6.0, "k07": 7.0, "k08": 8.0, "k09": 9.0, "k10": 10.0,
		"k11": 11.0, "k12": 12.0, "k13": 13.0, "k14": 14.0, "k15": 15.0,
		"k16": 16.0, "k17": 17.0, "k18": 18.0, "k19": 19.0, "k20": 20.0,
	}
	seeded := seedRecord(t, st, req)

	// One key of twenty differs: similarity 0.95 > 0.9 warn threshold.
	req.Parameters = map[string]any{
		"k01": 1.0, "k02": 2.0, "k03": 3.0, "k04": 4.0, "k05": 5.0,
		"k06": 6.0, "k07": 7.0, "k08": 8.0, "k09": 9.0, "k10": 10.0,
		"k11": 11.0, "k12": 12.0, "k13": 13.0, "k14": 14.0, "k15": 15.0,
		"k16": 16.0, "k17": 17.0, "k18": 18.0, "k19": 19.0, "k20": 99.0,
	}

	result, err := svc.CheckForDuplicates(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsDuplicate {
		t.Fatal("expected near-duplicate above warn threshold")
	}
	if result.Similarity != 0.95 {
		t.Errorf("expected similarity 0.95, got %f", result.Similarity)
	}
	if result.ExistingAnalysis == nil || result.ExistingAnalysis.ID != seeded.ID {
		t.Error("expected the seeded record as the best candidate")
	}
	if len(result.Differences) != 1 || result.Differences[0] != "Different value for: k20" {
		t.Errorf("unexpected differences: %v", result.Differences)
	}
}

func TestCheckForDuplicates_BelowThresholdIsMiss(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	req := testRequest()
	seedRecord(t, st, req)

	// 2 of 3 keys shared with one value changed: similarity well below 0.9.
	req.Parameters = map[string]any{
		"company":  "Acme Corp",
		"industry": "fintech",
		"budget":   50000.0,
	}

	result, err := svc.CheckForDuplicates(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsDuplicate {
		t.Errorf("similarity %f should not trigger duplicate", result.Similarity)
	}
}

func TestCheckForDuplicates_DifferencesCapped(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	// 100 keys, 8 changed: similarity 0.92, above warn threshold, with more
	// differences than the cap.
	base := make(map[string]any, 100)
	changed := make(map[string]any, 100)
	for i := 0; i < 100; i++ {
		k := keyName(i)
		base[k] = float64(i)
		if i < 8 {
			changed[k] = float64(i + 1000)
		} else {
			changed[k] = float64(i)
		}
	}

	req := testRequest()
	req.Parameters = base
	seedRecord(t, st, req)
	req.Parameters = changed

	result, err := svc.CheckForDuplicates(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsDuplicate {
		t.Fatalf("expected near-duplicate, similarity %f", result.Similarity)
	}
	if len(result.Differences) != maxDifferences {
		t.Errorf("expected differences capped at %d, got %d", maxDifferences, len(result.Differences))
	}
}

func TestCheckForDuplicates_FailsOpenOnHashLookupError(t *testing.T) {
	st := newMockStore()
	st.findByHashErr = errors.New("connection reset")
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	result, err := svc.CheckForDuplicates(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("store failure should not surface to the caller: %v", err)
	}
	if result.IsDuplicate {
		t.Error("expected miss when store is unavailable")
	}
	if result.ParameterHash == "" {
		t.Error("hash should still be computed locally")
	}
}

func TestCheckForDuplicates_FailsOpenOnCandidateScanError(t *testing.T) {
	st := newMockStore()
	st.candidatesErr = errors.New("timeout")
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	result, err := svc.CheckForDuplicates(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("store failure should not surface to the caller: %v", err)
	}
	if result.IsDuplicate {
		t.Error("expected miss when candidate scan fails")
	}
}

func TestCheckForDuplicates_RejectsInvalidParameters(t *testing.T) {
	svc := newTestService(newMockStore(), newMockCache(), &mockGenerator{name: "mock"})

	req := testRequest()
	req.Parameters = map[string]any{"ch": make(chan int)}

	_, err := svc.CheckForDuplicates(context.Background(), req)
	if !errors.Is(err, params.ErrNotSerializable) {
		t.Fatalf("expected ErrNotSerializable, got: %v", err)
	}
}

func TestCheckForDuplicates_AnonymousScope(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	// Record saved anonymously.
	req := testRequest()
	req.UserID = params.AnonymousUser
	seedRecord(t, st, req)

	// Same parameters, flagged anonymous with a stray user ID.
	req2 := testRequest()
	req2.IsAnonymous = true

	result, err := svc.CheckForDuplicates(context.Background(), req2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsDuplicate {
		t.Error("anonymous requests should share the anonymous scope")
	}
}

func TestCheckForDuplicates_NoCrossUserMatch(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	seedRecord(t, st, testRequest())

	req := testRequest()
	req.UserID = "user-2"

	result, err := svc.CheckForDuplicates(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsDuplicate {
		t.Error("duplicate detection must never cross user boundaries")
	}
}

// --- SaveResult tests ---

func TestSaveResult_PersistsRecord(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	req := testRequest()
	meta := models.ResultMetadata{ProcessingTimeMS: 1200, TokensUsed: 900, Model: "gpt-4o"}

	id, err := svc.SaveResult(context.Background(), req, json.RawMessage(`{"ok":true}`), meta, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected non-nil record ID")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.inserted) != 1 {
		t.Fatalf("expected 1 inserted record, got %d", len(st.inserted))
	}
	rec := st.inserted[0]
	if rec.ParameterHash == "" {
		t.Error("expected parameter hash set")
	}
	if rec.Status != models.AnalysisStatusCompleted {
		t.Errorf("expected status completed, got %s", rec.Status)
	}
	if rec.IsDuplicate {
		t.Error("expected non-duplicate record")
	}
	if rec.RegenerationCount != 0 {
		t.Errorf("expected regeneration count 0, got %d", rec.RegenerationCount)
	}
	if rec.AccessCount != 1 {
		t.Errorf("expected access count 1, got %d", rec.AccessCount)
	}
}

func TestSaveResult_DuplicateBookkeeping(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	originalID := uuid.New()
	_, err := svc.SaveResult(context.Background(), testRequest(),
		json.RawMessage(`{"ok":true}`), models.ResultMetadata{}, true, &originalID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	rec := st.inserted[0]
	if !rec.IsDuplicate {
		t.Error("expected duplicate flag set")
	}
	if rec.OriginalAnalysisID == nil || *rec.OriginalAnalysisID != originalID {
		t.Error("expected link to the original analysis")
	}
	if rec.RegenerationCount != 1 {
		t.Errorf("expected regeneration count 1, got %d", rec.RegenerationCount)
	}
}

func TestSaveResult_PropagatesInsertError(t *testing.T) {
	st := newMockStore()
	st.insertErr = errors.New("disk full")
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	_, err := svc.SaveResult(context.Background(), testRequest(),
		json.RawMessage(`{"ok":true}`), models.ResultMetadata{}, false, nil)
	if err == nil {
		t.Fatal("save failures must propagate")
	}
}

func TestSaveResult_InvalidatesStatsCache(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	svc := newTestService(st, ca, &mockGenerator{name: "mock"})

	_, err := svc.SaveResult(context.Background(), testRequest(),
		json.RawMessage(`{"ok":true}`), models.ResultMetadata{}, false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ca.mu.Lock()
	defer ca.mu.Unlock()
	if len(ca.deletes) != 1 {
		t.Fatalf("expected 1 cache invalidation, got %d", len(ca.deletes))
	}
}

// --- GetCachedResult tests ---

func TestGetCachedResult_ReturnsStoredResult(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	rec := seedRecord(t, st, testRequest())

	got, err := svc.GetCachedResult(context.Background(), rec.ID, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Result) != string(rec.Result) {
		t.Errorf("unexpected result payload: %s", got.Result)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("expected created_at %v, got %v", rec.CreatedAt, got.CreatedAt)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.bumped) != 1 || st.bumped[0] != rec.ID {
		t.Errorf("expected access bump for %s, got %v", rec.ID, st.bumped)
	}
}

func TestGetCachedResult_NotFound(t *testing.T) {
	svc := newTestService(newMockStore(), newMockCache(), &mockGenerator{name: "mock"})

	_, err := svc.GetCachedResult(context.Background(), uuid.New(), "user-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestGetCachedResult_WrongUser(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	rec := seedRecord(t, st, testRequest())

	_, err := svc.GetCachedResult(context.Background(), rec.ID, "user-2")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got: %v", err)
	}

	// No access bump for a denied fetch.
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.bumped) != 0 {
		t.Errorf("expected no access bump on denied fetch, got %v", st.bumped)
	}
}

// --- DuplicateGroups tests ---

func TestDuplicateGroups_GroupsByHash(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	st.duplicates = []*models.AnalysisRecord{
		{ID: uuid.New(), ParameterHash: "aaa"},
		{ID: uuid.New(), ParameterHash: "bbb"},
		{ID: uuid.New(), ParameterHash: "aaa"},
		{ID: uuid.New(), ParameterHash: "ccc"},
		{ID: uuid.New(), ParameterHash: "aaa"},
		{ID: uuid.New(), ParameterHash: "ccc"},
	}

	groups, err := svc.DuplicateGroups(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "bbb" has only one member and is dropped.
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0]) != 3 || groups[0][0].ParameterHash != "aaa" {
		t.Errorf("expected first group of 3 with hash aaa, got %d members", len(groups[0]))
	}
	if len(groups[1]) != 2 || groups[1][0].ParameterHash != "ccc" {
		t.Errorf("expected second group of 2 with hash ccc, got %d members", len(groups[1]))
	}
}

func TestDuplicateGroups_EmptyWhenNoDuplicates(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	groups, err := svc.DuplicateGroups(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if groups == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(groups) != 0 {
		t.Errorf("expected 0 groups, got %d", len(groups))
	}
}

// --- CleanupDuplicates tests ---

func TestCleanupDuplicates_UsesCutoff(t *testing.T) {
	st := newMockStore()
	st.deletedCount = 4
	ca := newMockCache()
	svc := newTestService(st, ca, &mockGenerator{name: "mock"})

	count, err := svc.CleanupDuplicates(context.Background(), "user-1", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 deleted, got %d", count)
	}

	st.mu.Lock()
	cutoff := st.deleteCutoffs[0]
	st.mu.Unlock()

	want := time.Now().UTC().AddDate(0, 0, -30)
	if cutoff.Before(want.Add(-time.Minute)) || cutoff.After(want.Add(time.Minute)) {
		t.Errorf("expected cutoff near %v, got %v", want, cutoff)
	}

	// Deletions invalidate the cached stats.
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if len(ca.deletes) != 1 {
		t.Errorf("expected stats invalidation after cleanup, got %v", ca.deletes)
	}
}

func TestCleanupDuplicates_NoInvalidationWhenNothingDeleted(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	svc := newTestService(st, ca, &mockGenerator{name: "mock"})

	count, err := svc.CleanupDuplicates(context.Background(), "user-1", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 deleted, got %d", count)
	}

	ca.mu.Lock()
	defer ca.mu.Unlock()
	if len(ca.deletes) != 0 {
		t.Errorf("expected no invalidation, got %v", ca.deletes)
	}
}

// --- UserStats tests ---

func TestUserStats_DerivesSavings(t *testing.T) {
	st := newMockStore()
	st.usage = &store.UserUsage{
		TotalAnalyses:     10,
		DuplicateAnalyses: 4,
		TotalTokensUsed:   9000,
		TotalCost:         0.27,
		PerTool: []store.ToolUsage{
			{ToolSlug: "swot-analysis", Count: 10, DuplicateCount: 4},
		},
	}
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	stats, err := svc.UserStats(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.UniqueAnalyses != 6 {
		t.Errorf("expected 6 unique, got %d", stats.UniqueAnalyses)
	}
	if stats.EstimatedTokensSaved != 4*1500 {
		t.Errorf("expected %d tokens saved, got %d", 4*1500, stats.EstimatedTokensSaved)
	}
	wantCost := float64(4*1500) / 1000 * 0.03
	if stats.EstimatedCostSaved != wantCost {
		t.Errorf("expected cost saved %f, got %f", wantCost, stats.EstimatedCostSaved)
	}
}

func TestUserStats_ServedFromCache(t *testing.T) {
	st := newMockStore()
	st.usageErr = errors.New("db down")
	ca := newMockCache()
	cached, _ := json.Marshal(&UsageStats{TotalAnalyses: 7})
	ca.data["stats:user-1"] = cached

	svc := newTestService(st, ca, &mockGenerator{name: "mock"})

	stats, err := svc.UserStats(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected cache hit to bypass the store: %v", err)
	}
	if stats.TotalAnalyses != 7 {
		t.Errorf("expected cached value 7, got %d", stats.TotalAnalyses)
	}
}

// --- Generate tests ---

func TestGenerate_CallsBackendAndPersists(t *testing.T) {
	st := newMockStore()
	gen := &mockGenerator{name: "mock"}
	svc := newTestService(st, newMockCache(), gen)

	rec, err := svc.Generate(context.Background(), GenerateParams{Request: testRequest()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if string(rec.Result) != `{"analysis":"ok"}` {
		t.Errorf("unexpected result: %s", rec.Result)
	}
	if rec.Metadata.TokensUsed != 100 {
		t.Errorf("expected 100 tokens, got %d", rec.Metadata.TokensUsed)
	}
	if rec.Metadata.Model != "mock-v1" {
		t.Errorf("expected model mock-v1, got %s", rec.Metadata.Model)
	}
	wantCost := 100.0 / 1000 * 0.03
	if rec.Metadata.EstimatedCost != wantCost {
		t.Errorf("expected cost %f, got %f", wantCost, rec.Metadata.EstimatedCost)
	}

	gen.mu.Lock()
	defer gen.mu.Unlock()
	if gen.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", gen.calls)
	}
}

func TestGenerate_ReusesExistingWithoutBackendCall(t *testing.T) {
	st := newMockStore()
	gen := &mockGenerator{name: "mock"}
	svc := newTestService(st, newMockCache(), gen)

	seeded := seedRecord(t, st, testRequest())

	rec, err := svc.Generate(context.Background(), GenerateParams{Request: testRequest()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != seeded.ID {
		t.Error("expected the existing record back")
	}

	gen.mu.Lock()
	defer gen.mu.Unlock()
	if gen.calls != 0 {
		t.Errorf("expected no backend call on reuse, got %d", gen.calls)
	}
}

func TestGenerate_ForceSkipsReuse(t *testing.T) {
	st := newMockStore()
	gen := &mockGenerator{name: "mock"}
	svc := newTestService(st, newMockCache(), gen)

	seeded := seedRecord(t, st, testRequest())

	rec, err := svc.Generate(context.Background(), GenerateParams{Request: testRequest(), Force: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == seeded.ID {
		t.Error("force should produce a new record")
	}
	if rec.IsDuplicate {
		t.Error("forced regeneration is not duplicate bookkeeping")
	}

	gen.mu.Lock()
	defer gen.mu.Unlock()
	if gen.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", gen.calls)
	}
}

func TestGenerate_LinksOriginalAnalysis(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	originalID := uuid.New()
	rec, err := svc.Generate(context.Background(), GenerateParams{
		Request:            testRequest(),
		OriginalAnalysisID: &originalID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.IsDuplicate {
		t.Error("expected duplicate bookkeeping when original is linked")
	}
	if rec.OriginalAnalysisID == nil || *rec.OriginalAnalysisID != originalID {
		t.Error("expected link to the original analysis")
	}
}

func TestGenerate_SecondConcurrentCallerRejected(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	ca.denied = true // lock already held elsewhere
	svc := newTestService(st, ca, &mockGenerator{name: "mock"})

	_, err := svc.Generate(context.Background(), GenerateParams{Request: testRequest()})
	if !errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("expected ErrGenerationInFlight, got: %v", err)
	}
}

func TestGenerate_ProceedsWhenLockUnavailable(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	ca.lockErr = errors.New("redis down")
	svc := newTestService(st, ca, &mockGenerator{name: "mock"})

	rec, err := svc.Generate(context.Background(), GenerateParams{Request: testRequest()})
	if err != nil {
		t.Fatalf("lock outage should not block generation: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
}

func TestGenerate_ReleasesLock(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	svc := newTestService(st, ca, &mockGenerator{name: "mock"})

	if _, err := svc.Generate(context.Background(), GenerateParams{Request: testRequest()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ca.mu.Lock()
	defer ca.mu.Unlock()
	if len(ca.locks) != 0 {
		t.Errorf("expected lock released, still held: %v", ca.locks)
	}
}

func TestGenerate_BackendErrorPropagates(t *testing.T) {
	st := newMockStore()
	gen := &mockGenerator{
		name: "mock",
		generateFunc: func(_ context.Context, _ models.GenerationRequest) (models.GenerationResult, error) {
			return models.GenerationResult{}, errors.New("model overloaded")
		},
	}
	svc := newTestService(st, newMockCache(), gen)

	_, err := svc.Generate(context.Background(), GenerateParams{Request: testRequest()})
	if err == nil {
		t.Fatal("expected backend error to propagate")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.inserted) != 0 {
		t.Errorf("expected nothing persisted on failure, got %d records", len(st.inserted))
	}
}

// --- Regenerate tests ---

func TestRegenerate_ProducesNewRecord(t *testing.T) {
	st := newMockStore()
	gen := &mockGenerator{name: "mock"}
	svc := newTestService(st, newMockCache(), gen)

	seeded := seedRecord(t, st, testRequest())

	rec, err := svc.Regenerate(context.Background(), seeded.ID, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == seeded.ID {
		t.Error("regeneration should produce a new record")
	}
	if rec.ParameterHash != seeded.ParameterHash {
		t.Error("regenerated record should keep the same parameter hash")
	}

	gen.mu.Lock()
	defer gen.mu.Unlock()
	if gen.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", gen.calls)
	}
}

func TestRegenerate_WrongUser(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, newMockCache(), &mockGenerator{name: "mock"})

	seeded := seedRecord(t, st, testRequest())

	_, err := svc.Regenerate(context.Background(), seeded.ID, "user-2")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got: %v", err)
	}
}

func TestRegenerate_NotFound(t *testing.T) {
	svc := newTestService(newMockStore(), newMockCache(), &mockGenerator{name: "mock"})

	_, err := svc.Regenerate(context.Background(), uuid.New(), "user-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func keyName(i int) string {
	return string(rune('a'+i/10)) + string(rune('0'+i%10))
}
