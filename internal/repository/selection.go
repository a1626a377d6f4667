package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/homeyield/selection-server-go/internal/database"
	"github.com/homeyield/selection-server-go/internal/model"
)

type SelectionRepository interface {
	Create(ctx context.Context, params model.CreateSelectionParams) (*model.AssetSelection, error)
	// FindByOwner returns raw rows ordered by selected_at DESC, id ASC.
	FindByOwner(ctx context.Context, owner model.Owner) ([]model.AssetSelection, error)
	LinkSessionToUser(ctx context.Context, sessionID, userID string) (int64, error)
	CountMissingAnalysis(ctx context.Context, userID string) (int, error)
	BackfillAnalysisID(ctx context.Context, userID, analysisID string) (int64, error)
	FindUserIDsMissingAnalysis(ctx context.Context, afterUserID string, limit int) ([]string, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SelectionRepository
}

type selectionRepo struct {
	db database.DBTX
}

func NewSelectionRepository(db *sqlx.DB) SelectionRepository {
	return &selectionRepo{db: db}
}

func (r *selectionRepo) WithTx(tx *sqlx.Tx) SelectionRepository {
	return &selectionRepo{db: tx}
}

func (r *selectionRepo) Create(ctx context.Context, params model.CreateSelectionParams) (*model.AssetSelection, error) {
	if err := params.Owner.Validate(); err != nil {
		return nil, err
	}
	userID, sessionID := params.Owner.Columns()

	var selection model.AssetSelection
	err := r.db.GetContext(ctx, &selection, `
		INSERT INTO asset_selections (
			id, user_id, session_id, analysis_id, asset_type, asset_data,
			monthly_revenue, setup_cost, roi_months, selected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING *
	`, params.ID, userID, sessionID, params.AnalysisID, params.AssetType, params.AssetData,
		params.MonthlyRevenue, params.SetupCost, params.ROIMonths, params.SelectedAt)
	if err != nil {
		return nil, err
	}
	return &selection, nil
}

func (r *selectionRepo) FindByOwner(ctx context.Context, owner model.Owner) ([]model.AssetSelection, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var selections []model.AssetSelection
	var err error
	if owner.IsUser() {
		err = r.db.SelectContext(ctx, &selections, `
			SELECT * FROM asset_selections
			WHERE user_id = $1
			ORDER BY selected_at DESC, id ASC
		`, owner.UserID)
	} else {
		err = r.db.SelectContext(ctx, &selections, `
			SELECT * FROM asset_selections
			WHERE session_id = $1 AND user_id IS NULL
			ORDER BY selected_at DESC, id ASC
		`, owner.SessionID)
	}
	return selections, err
}

// LinkSessionToUser re-tags anonymous rows. Rows that already carry a user id
// are never touched, so a second run affects nothing.
func (r *selectionRepo) LinkSessionToUser(ctx context.Context, sessionID, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE asset_selections SET
			user_id = $2,
			session_id = NULL
		WHERE session_id = $1 AND user_id IS NULL
	`, sessionID, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *selectionRepo) CountMissingAnalysis(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM asset_selections
		WHERE user_id = $1 AND analysis_id IS NULL
	`, userID)
	return count, err
}

// BackfillAnalysisID only fills absent values; an existing analysis_id is kept.
func (r *selectionRepo) BackfillAnalysisID(ctx context.Context, userID, analysisID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE asset_selections SET
			analysis_id = $2
		WHERE user_id = $1 AND analysis_id IS NULL
	`, userID, analysisID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// FindUserIDsMissingAnalysis pages through users ordered by id, starting after
// afterUserID. Users without any analysis are left out; nothing can be
// back-filled for them.
func (r *selectionRepo) FindUserIDsMissingAnalysis(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	var userIDs []string
	err := r.db.SelectContext(ctx, &userIDs, `
		SELECT DISTINCT s.user_id FROM asset_selections s
		WHERE s.user_id IS NOT NULL AND s.analysis_id IS NULL
			AND s.user_id > $1
			AND EXISTS (SELECT 1 FROM property_analyses p WHERE p.user_id = s.user_id)
		ORDER BY s.user_id
		LIMIT $2
	`, afterUserID, limit)
	return userIDs, err
}
