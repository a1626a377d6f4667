package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/homeyield/selection-server-go/internal/audit"
	apperrors "github.com/homeyield/selection-server-go/internal/errors"
	"github.com/homeyield/selection-server-go/internal/identity"
	"github.com/homeyield/selection-server-go/internal/model"
	"github.com/homeyield/selection-server-go/internal/repository"
)

type CreateAnalysisInput struct {
	Address string
	Result  json.RawMessage
	UserID  string
}

type AnalysisService struct {
	analysisRepo repository.AnalysisRepository
	now          func() time.Time
}

func NewAnalysisService(analysisRepo repository.AnalysisRepository) *AnalysisService {
	return &AnalysisService{
		analysisRepo: analysisRepo,
		now:          time.Now,
	}
}

// Create stores an analysis for the current owner and makes it the client's
// active analysis, so later selections are tagged with it.
func (s *AnalysisService) Create(ctx context.Context, ident *identity.Manager, input CreateAnalysisInput) (*model.PropertyAnalysis, error) {
	address := strings.TrimSpace(input.Address)
	if address == "" {
		return nil, apperrors.MissingRequired("address")
	}
	result, err := normalizeObject("result", input.Result)
	if err != nil {
		return nil, err
	}

	owner := model.UserOwner(input.UserID)
	if input.UserID == "" {
		owner = model.SessionOwner(ident.SessionID(ctx))
	}

	analysis, err := s.analysisRepo.Create(ctx, model.CreateAnalysisParams{
		ID:        uuid.NewString(),
		Owner:     owner,
		Address:   address,
		Result:    result,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, apperrors.Persistence("store analysis", err)
	}

	if err := ident.SetActiveAnalysisID(ctx, analysis.ID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("analysisId", analysis.ID).Msg("set active analysis id")
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventAnalysisCreated,
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
		Details:   map[string]interface{}{"analysisId": analysis.ID},
	})

	return analysis, nil
}
