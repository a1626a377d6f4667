package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/homeyield/selection-server-go/internal/database"
	"github.com/homeyield/selection-server-go/internal/model"
)

type AnalysisRepository interface {
	FindByID(ctx context.Context, id string) (*model.PropertyAnalysis, error)
	// FindLatestByUserID orders by created_at DESC with id DESC as the tie-break.
	FindLatestByUserID(ctx context.Context, userID string) (*model.PropertyAnalysis, error)
	Create(ctx context.Context, params model.CreateAnalysisParams) (*model.PropertyAnalysis, error)
	LinkSessionToUser(ctx context.Context, sessionID, userID string) (int64, error)
	WithTx(tx *sqlx.Tx) AnalysisRepository
}

type analysisRepo struct {
	db database.DBTX
}

func NewAnalysisRepository(db *sqlx.DB) AnalysisRepository {
	return &analysisRepo{db: db}
}

func (r *analysisRepo) WithTx(tx *sqlx.Tx) AnalysisRepository {
	return &analysisRepo{db: tx}
}

func (r *analysisRepo) FindByID(ctx context.Context, id string) (*model.PropertyAnalysis, error) {
	var analysis model.PropertyAnalysis
	err := r.db.GetContext(ctx, &analysis, `
		SELECT * FROM property_analyses WHERE id = $1
	`, id)
	return HandleNotFound(&analysis, err)
}

func (r *analysisRepo) FindLatestByUserID(ctx context.Context, userID string) (*model.PropertyAnalysis, error) {
	var analysis model.PropertyAnalysis
	err := r.db.GetContext(ctx, &analysis, `
		SELECT * FROM property_analyses
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, userID)
	return HandleNotFound(&analysis, err)
}

func (r *analysisRepo) Create(ctx context.Context, params model.CreateAnalysisParams) (*model.PropertyAnalysis, error) {
	if err := params.Owner.Validate(); err != nil {
		return nil, err
	}
	userID, sessionID := params.Owner.Columns()

	var analysis model.PropertyAnalysis
	err := r.db.GetContext(ctx, &analysis, `
		INSERT INTO property_analyses (id, user_id, session_id, address, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.ID, userID, sessionID, params.Address, params.Result, params.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (r *analysisRepo) LinkSessionToUser(ctx context.Context, sessionID, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE property_analyses SET
			user_id = $2,
			session_id = NULL
		WHERE session_id = $1 AND user_id IS NULL
	`, sessionID, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
