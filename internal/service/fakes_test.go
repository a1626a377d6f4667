package service

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/homeyield/selection-server-go/internal/database"
	"github.com/homeyield/selection-server-go/internal/model"
	"github.com/homeyield/selection-server-go/internal/repository"
	"github.com/homeyield/selection-server-go/internal/sse"
)

// memSelectionRepo mirrors the SQL semantics of the Postgres repository.
type memSelectionRepo struct {
	mu   sync.Mutex
	rows []model.AssetSelection

	createErr   error
	linkErr     error
	countErr    error
	backfillErr error
	findErr     error
}

func (r *memSelectionRepo) Create(_ context.Context, p model.CreateSelectionParams) (*model.AssetSelection, error) {
	if err := p.Owner.Validate(); err != nil {
		return nil, err
	}
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, sessionID := p.Owner.Columns()
	row := model.AssetSelection{
		ID:             p.ID,
		UserID:         userID,
		SessionID:      sessionID,
		AnalysisID:     p.AnalysisID,
		AssetType:      p.AssetType,
		AssetData:      p.AssetData,
		MonthlyRevenue: p.MonthlyRevenue,
		SetupCost:      p.SetupCost,
		ROIMonths:      p.ROIMonths,
		SelectedAt:     p.SelectedAt,
	}
	r.rows = append(r.rows, row)
	return &row, nil
}

func (r *memSelectionRepo) FindByOwner(_ context.Context, owner model.Owner) ([]model.AssetSelection, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.AssetSelection
	for _, row := range r.rows {
		if owner.IsUser() && row.UserID != nil && *row.UserID == owner.UserID {
			out = append(out, row)
		}
		if !owner.IsUser() && row.UserID == nil && row.SessionID != nil && *row.SessionID == owner.SessionID {
			out = append(out, row)
		}
	}
	slices.SortStableFunc(out, func(a, b model.AssetSelection) int {
		if c := b.SelectedAt.Compare(a.SelectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *memSelectionRepo) LinkSessionToUser(_ context.Context, sessionID, userID string) (int64, error) {
	if r.linkErr != nil {
		return 0, r.linkErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for i := range r.rows {
		row := &r.rows[i]
		if row.UserID == nil && row.SessionID != nil && *row.SessionID == sessionID {
			id := userID
			row.UserID = &id
			row.SessionID = nil
			n++
		}
	}
	return n, nil
}

func (r *memSelectionRepo) CountMissingAnalysis(_ context.Context, userID string) (int, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, row := range r.rows {
		if row.UserID != nil && *row.UserID == userID && row.AnalysisID == nil {
			n++
		}
	}
	return n, nil
}

func (r *memSelectionRepo) BackfillAnalysisID(_ context.Context, userID, analysisID string) (int64, error) {
	if r.backfillErr != nil {
		return 0, r.backfillErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for i := range r.rows {
		row := &r.rows[i]
		if row.UserID != nil && *row.UserID == userID && row.AnalysisID == nil {
			id := analysisID
			row.AnalysisID = &id
			n++
		}
	}
	return n, nil
}

func (r *memSelectionRepo) FindUserIDsMissingAnalysis(_ context.Context, afterUserID string, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, row := range r.rows {
		if row.UserID != nil && row.AnalysisID == nil && *row.UserID > afterUserID && !slices.Contains(out, *row.UserID) {
			out = append(out, *row.UserID)
		}
	}
	slices.Sort(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSelectionRepo) WithTx(*sqlx.Tx) repository.SelectionRepository {
	return r
}

func (r *memSelectionRepo) snapshot() []model.AssetSelection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.rows)
}

type memAnalysisRepo struct {
	mu   sync.Mutex
	rows []model.PropertyAnalysis

	latestErr error
}

func (r *memAnalysisRepo) FindByID(_ context.Context, id string) (*model.PropertyAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.ID == id {
			found := row
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memAnalysisRepo) FindLatestByUserID(_ context.Context, userID string) (*model.PropertyAnalysis, error) {
	if r.latestErr != nil {
		return nil, r.latestErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *model.PropertyAnalysis
	for i := range r.rows {
		row := r.rows[i]
		if row.UserID == nil || *row.UserID != userID {
			continue
		}
		if latest == nil || row.CreatedAt.After(latest.CreatedAt) ||
			(row.CreatedAt.Equal(latest.CreatedAt) && row.ID > latest.ID) {
			latest = &row
		}
	}
	return latest, nil
}

func (r *memAnalysisRepo) Create(_ context.Context, p model.CreateAnalysisParams) (*model.PropertyAnalysis, error) {
	if err := p.Owner.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, sessionID := p.Owner.Columns()
	row := model.PropertyAnalysis{
		ID: p.ID, UserID: userID, SessionID: sessionID,
		Address: p.Address, Result: p.Result, CreatedAt: p.CreatedAt,
	}
	r.rows = append(r.rows, row)
	return &row, nil
}

func (r *memAnalysisRepo) LinkSessionToUser(_ context.Context, sessionID, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for i := range r.rows {
		row := &r.rows[i]
		if row.UserID == nil && row.SessionID != nil && *row.SessionID == sessionID {
			id := userID
			row.UserID = &id
			row.SessionID = nil
			n++
		}
	}
	return n, nil
}

func (r *memAnalysisRepo) WithTx(*sqlx.Tx) repository.AnalysisRepository {
	return r
}

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type memViewCache struct {
	mu          sync.Mutex
	views       map[string]*model.SelectionView
	gens        map[string]int64
	invalidated []string
}

func newMemViewCache() *memViewCache {
	return &memViewCache{
		views: make(map[string]*model.SelectionView),
		gens:  make(map[string]int64),
	}
}

func (c *memViewCache) Get(_ context.Context, ownerKey string) (*model.SelectionView, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[ownerKey]
	return v, c.gens[ownerKey], ok
}

func (c *memViewCache) Set(_ context.Context, ownerKey string, gen int64, view *model.SelectionView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[ownerKey] != gen {
		return
	}
	c.views[ownerKey] = view
}

func (c *memViewCache) Invalidate(_ context.Context, ownerKeys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range ownerKeys {
		c.gens[k]++
		delete(c.views, k)
		c.invalidated = append(c.invalidated, k)
	}
	return nil
}

func (c *memViewCache) cached(ownerKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.views[ownerKey]
	return ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	owners []string
}

func (p *recordingPublisher) Publish(_ context.Context, ownerKey string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.Type == sse.EventSelectionsInvalidated {
		p.owners = append(p.owners, ownerKey)
	}
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.owners)
}

// mockSelectionRepo is used where call expectations matter more than state.
type mockSelectionRepo struct {
	mock.Mock
}

func (m *mockSelectionRepo) Create(ctx context.Context, params model.CreateSelectionParams) (*model.AssetSelection, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AssetSelection), args.Error(1)
}

func (m *mockSelectionRepo) FindByOwner(ctx context.Context, owner model.Owner) ([]model.AssetSelection, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AssetSelection), args.Error(1)
}

func (m *mockSelectionRepo) LinkSessionToUser(ctx context.Context, sessionID, userID string) (int64, error) {
	args := m.Called(ctx, sessionID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSelectionRepo) CountMissingAnalysis(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockSelectionRepo) BackfillAnalysisID(ctx context.Context, userID, analysisID string) (int64, error) {
	args := m.Called(ctx, userID, analysisID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSelectionRepo) FindUserIDsMissingAnalysis(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	args := m.Called(ctx, afterUserID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockSelectionRepo) WithTx(*sqlx.Tx) repository.SelectionRepository {
	return m
}

// pausingSelectionRepo holds the first FindByOwner for owner after its rows
// are read, until release is closed.
type pausingSelectionRepo struct {
	*memSelectionRepo
	owner   string
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func newPausingSelectionRepo(repo *memSelectionRepo, ownerKey string) *pausingSelectionRepo {
	return &pausingSelectionRepo{
		memSelectionRepo: repo,
		owner:            ownerKey,
		read:             make(chan struct{}),
		release:          make(chan struct{}),
	}
}

func (r *pausingSelectionRepo) FindByOwner(ctx context.Context, owner model.Owner) ([]model.AssetSelection, error) {
	rows, err := r.memSelectionRepo.FindByOwner(ctx, owner)
	if owner.Key() == r.owner {
		r.once.Do(func() {
			close(r.read)
			<-r.release
		})
	}
	return rows, err
}
