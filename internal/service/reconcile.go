package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/homeyield/selection-server-go/internal/audit"
	"github.com/homeyield/selection-server-go/internal/database"
	apperrors "github.com/homeyield/selection-server-go/internal/errors"
	"github.com/homeyield/selection-server-go/internal/identity"
	"github.com/homeyield/selection-server-go/internal/model"
	"github.com/homeyield/selection-server-go/internal/repository"
)

const (
	StepLinkSession  = "link_session"
	StepBackfill     = "backfill_analysis"
	StepSetActive    = "set_active_analysis"
	reasonReconciled = "reconciled"
)

// TxRunner runs fn in one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type ReconcileRequest struct {
	UserID string
	// SessionID is the anonymous session to fold into the user. Empty skips
	// linking.
	SessionID string
	// KnownAnalysisID is the analysis already in the caller's context, tried
	// before looking up the user's latest analysis.
	KnownAnalysisID string
	// Identity receives the back-filled analysis id. Optional.
	Identity *identity.Manager
}

type StepResult struct {
	Step    string `json:"step"`
	Count   int64  `json:"count"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	err     error
}

func (r StepResult) Err() error {
	return r.err
}

// ReconcileSummary is advisory: callers may report it but must not treat it
// as success or failure of the user's action.
type ReconcileSummary struct {
	UserID         string       `json:"userId"`
	SessionID      string       `json:"sessionId,omitempty"`
	Linked         int64        `json:"linked"`
	AnalysesLinked int64        `json:"analysesLinked"`
	Backfilled     int64        `json:"backfilled"`
	AnalysisID     string       `json:"analysisId,omitempty"`
	Steps          []StepResult `json:"steps"`
}

func (s ReconcileSummary) Failed() bool {
	for _, step := range s.Steps {
		if step.err != nil {
			return true
		}
	}
	return false
}

type ReconcileService struct {
	tx            TxRunner
	selectionRepo repository.SelectionRepository
	analysisRepo  repository.AnalysisRepository
	invalidator   invalidator
}

func NewReconcileService(
	tx TxRunner,
	selectionRepo repository.SelectionRepository,
	analysisRepo repository.AnalysisRepository,
	cache ViewCache,
	events EventPublisher,
) *ReconcileService {
	return &ReconcileService{
		tx:            tx,
		selectionRepo: selectionRepo,
		analysisRepo:  analysisRepo,
		invalidator:   invalidator{cache: cache, events: events},
	}
}

// Reconcile folds the anonymous session into the user and back-fills missing
// analysis ids. Every step runs regardless of earlier failures; failures are
// logged and recorded in the summary, never returned. Running it again after
// a success changes nothing.
func (s *ReconcileService) Reconcile(ctx context.Context, req ReconcileRequest) ReconcileSummary {
	summary := ReconcileSummary{UserID: req.UserID, SessionID: req.SessionID}
	if req.UserID == "" {
		return summary
	}

	link := s.linkSession(ctx, req, &summary)
	summary.Steps = append(summary.Steps, link)

	backfill := s.backfill(ctx, req, &summary)
	summary.Steps = append(summary.Steps, backfill)

	if summary.AnalysisID != "" && req.Identity != nil {
		summary.Steps = append(summary.Steps, s.setActive(ctx, req.Identity, summary.AnalysisID))
	}

	for _, step := range summary.Steps {
		if step.err != nil {
			log.Ctx(ctx).Warn().
				Err(apperrors.ReconciliationPartialFailure(step.Step, step.err)).
				Str("userId", req.UserID).
				Str("sessionId", req.SessionID).
				Msg("reconciliation step failed")
		}
	}

	owners := []string{model.UserOwner(req.UserID).Key()}
	if req.SessionID != "" {
		owners = append(owners, model.SessionOwner(req.SessionID).Key())
	}
	s.invalidator.invalidate(ctx, reasonReconciled, owners...)

	log.Ctx(ctx).Info().
		Str("userId", req.UserID).
		Str("sessionId", req.SessionID).
		Int64("linked", summary.Linked).
		Int64("analysesLinked", summary.AnalysesLinked).
		Int64("backfilled", summary.Backfilled).
		Bool("partialFailure", summary.Failed()).
		Msg("reconciliation finished")

	return summary
}

// Backfill runs only the analysis back-fill for a user, looking up the latest
// analysis. Used by the repair job.
func (s *ReconcileService) Backfill(ctx context.Context, userID string) ReconcileSummary {
	summary := ReconcileSummary{UserID: userID}
	step := s.backfill(ctx, ReconcileRequest{UserID: userID}, &summary)
	summary.Steps = append(summary.Steps, step)

	if step.err != nil {
		log.Ctx(ctx).Warn().
			Err(apperrors.ReconciliationPartialFailure(step.Step, step.err)).
			Str("userId", userID).
			Msg("repair back-fill failed")
	}
	if summary.Backfilled > 0 {
		s.invalidator.invalidate(ctx, reasonReconciled, model.UserOwner(userID).Key())
	}
	return summary
}

func (s *ReconcileService) linkSession(ctx context.Context, req ReconcileRequest, summary *ReconcileSummary) StepResult {
	result := StepResult{Step: StepLinkSession}
	if req.SessionID == "" {
		result.Skipped = true
		return result
	}

	var linked, analysesLinked int64
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		linked, err = s.selectionRepo.WithTx(tx).LinkSessionToUser(ctx, req.SessionID, req.UserID)
		if err != nil {
			return err
		}
		analysesLinked, err = s.analysisRepo.WithTx(tx).LinkSessionToUser(ctx, req.SessionID, req.UserID)
		return err
	})
	if err != nil {
		return result.fail(err)
	}

	summary.Linked = linked
	summary.AnalysesLinked = analysesLinked
	result.Count = linked

	if linked > 0 || analysesLinked > 0 {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventSessionLinked,
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Details: map[string]interface{}{
				"linked":         linked,
				"analysesLinked": analysesLinked,
			},
		})
	}
	return result
}

func (s *ReconcileService) backfill(ctx context.Context, req ReconcileRequest, summary *ReconcileSummary) StepResult {
	result := StepResult{Step: StepBackfill}

	missing, err := s.selectionRepo.CountMissingAnalysis(ctx, req.UserID)
	if err != nil {
		return result.fail(err)
	}
	if missing == 0 {
		result.Skipped = true
		return result
	}

	analysisID, err := s.resolveAnalysisID(ctx, req)
	if err != nil {
		return result.fail(err)
	}
	if analysisID == "" {
		result.Skipped = true
		return result
	}

	filled, err := s.selectionRepo.BackfillAnalysisID(ctx, req.UserID, analysisID)
	if err != nil {
		return result.fail(err)
	}

	summary.Backfilled = filled
	summary.AnalysisID = analysisID
	result.Count = filled

	audit.Log(ctx, audit.Event{
		Type:    audit.EventAnalysisBackfill,
		UserID:  req.UserID,
		Details: map[string]interface{}{"analysisId": analysisID, "backfilled": filled},
	})
	return result
}

// resolveAnalysisID tries the analysis already known to the caller, then the
// user's most recently created analysis. A known id that does not belong to
// the user is ignored.
func (s *ReconcileService) resolveAnalysisID(ctx context.Context, req ReconcileRequest) (string, error) {
	if req.KnownAnalysisID != "" {
		known, err := s.analysisRepo.FindByID(ctx, req.KnownAnalysisID)
		switch {
		case err != nil:
			log.Ctx(ctx).Warn().Err(err).Str("analysisId", req.KnownAnalysisID).Msg("known analysis lookup failed")
		case known != nil && known.UserID != nil && *known.UserID == req.UserID:
			return known.ID, nil
		}
	}

	latest, err := s.analysisRepo.FindLatestByUserID(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	if latest == nil {
		return "", nil
	}
	return latest.ID, nil
}

func (s *ReconcileService) setActive(ctx context.Context, ident *identity.Manager, analysisID string) StepResult {
	result := StepResult{Step: StepSetActive, Count: 1}
	if err := ident.SetActiveAnalysisID(ctx, analysisID); err != nil {
		return result.fail(err)
	}
	return result
}

func (r StepResult) fail(err error) StepResult {
	r.err = err
	r.Error = err.Error()
	r.Count = 0
	return r
}
