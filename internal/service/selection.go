package service

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
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

type RecordSelectionParams struct {
	AssetType      string
	AssetData      json.RawMessage
	MonthlyRevenue float64
	SetupCost      float64
	ROIMonths      *float64
	AnalysisID     string
	UserID         string
}

type SelectionService struct {
	selectionRepo repository.SelectionRepository
	cache         ViewCache
	invalidator   invalidator
	now           func() time.Time
}

func NewSelectionService(
	selectionRepo repository.SelectionRepository,
	cache ViewCache,
	events EventPublisher,
) *SelectionService {
	return &SelectionService{
		selectionRepo: selectionRepo,
		cache:         cache,
		invalidator:   invalidator{cache: cache, events: events},
		now:           time.Now,
	}
}

// Record stores one selection tagged with exactly one owner: the user when
// params.UserID is set, otherwise the client's anonymous session.
func (s *SelectionService) Record(ctx context.Context, ident *identity.Manager, params RecordSelectionParams) (string, error) {
	assetData, err := validateSelection(params)
	if err != nil {
		return "", err
	}

	var owner model.Owner
	switch {
	case params.UserID != "":
		owner = model.UserOwner(params.UserID)
	case ident != nil:
		owner = model.SessionOwner(ident.SessionID(ctx))
	default:
		return "", apperrors.Internal("no identity available for anonymous selection")
	}

	analysisID := params.AnalysisID
	if analysisID == "" && ident != nil {
		analysisID, _ = ident.ActiveAnalysisID(ctx)
	}

	roi := params.ROIMonths
	if roi == nil && params.MonthlyRevenue > 0 {
		months := params.SetupCost / params.MonthlyRevenue
		roi = &months
	}

	selection, err := s.selectionRepo.Create(ctx, model.CreateSelectionParams{
		ID:             uuid.NewString(),
		Owner:          owner,
		AnalysisID:     optional(analysisID),
		AssetType:      strings.TrimSpace(params.AssetType),
		AssetData:      assetData,
		MonthlyRevenue: params.MonthlyRevenue,
		SetupCost:      params.SetupCost,
		ROIMonths:      roi,
		SelectedAt:     s.now().UTC(),
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("owner", owner.Key()).Str("assetType", params.AssetType).Msg("record selection failed")
		return "", apperrors.Persistence("record selection", err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSelectionRecorded,
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
		Details: map[string]interface{}{
			"selectionId":    selection.ID,
			"assetType":      selection.AssetType,
			"monthlyRevenue": selection.MonthlyRevenue,
			"analysisLinked": selection.AnalysisID != nil,
		},
	})

	s.invalidator.invalidate(ctx, "recorded", owner.Key())
	return selection.ID, nil
}

// ListActive returns the deduplicated view of owner's selections.
func (s *SelectionService) ListActive(ctx context.Context, owner model.Owner) (*model.SelectionView, error) {
	if err := owner.Validate(); err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}

	var gen int64
	if s.cache != nil {
		view, current, ok := s.cache.Get(ctx, owner.Key())
		if ok {
			return view, nil
		}
		gen = current
	}

	rows, err := s.selectionRepo.FindByOwner(ctx, owner)
	if err != nil {
		return nil, apperrors.Persistence("list selections", err)
	}

	view := BuildView(rows)
	if s.cache != nil {
		s.cache.Set(ctx, owner.Key(), gen, view)
	}
	return view, nil
}

func validateSelection(params RecordSelectionParams) (*json.RawMessage, error) {
	if strings.TrimSpace(params.AssetType) == "" {
		return nil, apperrors.MissingRequired("assetType")
	}
	if !nonNegative(params.MonthlyRevenue) {
		return nil, apperrors.InvalidInput("monthlyRevenue", "must be a non-negative number")
	}
	if !nonNegative(params.SetupCost) {
		return nil, apperrors.InvalidInput("setupCost", "must be a non-negative number")
	}
	if params.ROIMonths != nil && !nonNegative(*params.ROIMonths) {
		return nil, apperrors.InvalidInput("roiMonths", "must be a non-negative number")
	}
	return normalizeObject("assetData", params.AssetData)
}

// normalizeObject accepts an absent/null payload or a JSON object.
func normalizeObject(field string, raw json.RawMessage) (*json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, apperrors.InvalidInput(field, "must be a JSON object")
	}
	out := json.RawMessage(trimmed)
	return &out, nil
}

func nonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
