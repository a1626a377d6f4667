package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/homeyield/selection-server-go/internal/identity"
	"github.com/homeyield/selection-server-go/internal/middleware"
	"github.com/homeyield/selection-server-go/internal/model"
	"github.com/homeyield/selection-server-go/internal/service"
)

type SelectionStore interface {
	Record(ctx context.Context, ident *identity.Manager, params service.RecordSelectionParams) (string, error)
	ListActive(ctx context.Context, owner model.Owner) (*model.SelectionView, error)
}

// LazyReconciler starts a reconcile for a pair that has not had one yet.
type LazyReconciler interface {
	EnsureRan(ctx context.Context, req service.ReconcileRequest) bool
}

type SelectionHandler struct {
	selections SelectionStore
	reconciler LazyReconciler
}

func NewSelectionHandler(selections SelectionStore, reconciler LazyReconciler) *SelectionHandler {
	return &SelectionHandler{
		selections: selections,
		reconciler: reconciler,
	}
}

func (h *SelectionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Record)
	r.Get("/", h.List)

	return r
}

type recordSelectionRequest struct {
	AssetType      string          `json:"assetType"`
	AssetData      json.RawMessage `json:"assetData"`
	MonthlyRevenue float64         `json:"monthlyRevenue"`
	SetupCost      float64         `json:"setupCost"`
	ROIMonths      *float64        `json:"roiMonths"`
	AnalysisID     string          `json:"analysisId"`
}

// POST /v1/selections
func (h *SelectionHandler) Record(w http.ResponseWriter, r *http.Request) {
	ident := requireIdentity(w, r)
	if ident == nil {
		return
	}

	var req recordSelectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	id, err := h.selections.Record(r.Context(), ident, service.RecordSelectionParams{
		AssetType:      req.AssetType,
		AssetData:      req.AssetData,
		MonthlyRevenue: req.MonthlyRevenue,
		SetupCost:      req.SetupCost,
		ROIMonths:      req.ROIMonths,
		AnalysisID:     req.AnalysisID,
		UserID:         middleware.GetUserID(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GET /v1/selections
// Signed-in callers read their user selections. The first read for a
// (user, session) pair also starts a background reconcile in case the
// sign-in event was missed; clients refetch on the invalidation event.
func (h *SelectionHandler) List(w http.ResponseWriter, r *http.Request) {
	ident := requireIdentity(w, r)
	if ident == nil {
		return
	}

	ctx := r.Context()
	sessionID := ident.SessionID(ctx)
	owner := model.SessionOwner(sessionID)

	if userID := middleware.GetUserID(ctx); userID != "" {
		owner = model.UserOwner(userID)
		if h.reconciler != nil {
			known, _ := ident.ActiveAnalysisID(ctx)
			h.reconciler.EnsureRan(ctx, service.ReconcileRequest{
				UserID:          userID,
				SessionID:       sessionID,
				KnownAnalysisID: known,
				Identity:        ident,
			})
		}
	}

	view, err := h.selections.ListActive(ctx, owner)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}
