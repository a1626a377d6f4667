package handler

import (
	"context"
	"net/http"

	"github.com/homeyield/selection-server-go/internal/audit"
	apperrors "github.com/homeyield/selection-server-go/internal/errors"
	"github.com/homeyield/selection-server-go/internal/middleware"
	"github.com/homeyield/selection-server-go/internal/service"
)

type SignInReconciler interface {
	OnSignIn(ctx context.Context, req service.ReconcileRequest) <-chan service.ReconcileSummary
}

// AuthHandler receives authentication events from the client and folds the
// anonymous session into the signed-in user.
type AuthHandler struct {
	runner     SignInReconciler
	reconciler service.Reconciler
}

func NewAuthHandler(runner SignInReconciler, reconciler service.Reconciler) *AuthHandler {
	return &AuthHandler{
		runner:     runner,
		reconciler: reconciler,
	}
}

// POST /v1/auth/signed-in
// Returns before the reconcile finishes; the run continues after the
// response is written.
func (h *AuthHandler) SignedIn(w http.ResponseWriter, r *http.Request) {
	req, ok := reconcileRequest(w, r)
	if !ok {
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSignedIn,
		UserID:    req.UserID,
		SessionID: req.SessionID,
	})

	h.runner.OnSignIn(r.Context(), req)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "reconciling",
		"userId":    req.UserID,
		"sessionId": req.SessionID,
	})
}

// POST /v1/reconcile
// Runs synchronously and reports the summary. The summary is advisory.
func (h *AuthHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	req, ok := reconcileRequest(w, r)
	if !ok {
		return
	}

	summary := h.reconciler.Reconcile(r.Context(), req)
	writeJSON(w, http.StatusOK, summary)
}

func reconcileRequest(w http.ResponseWriter, r *http.Request) (service.ReconcileRequest, bool) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		writeError(w, apperrors.Unauthorized("Missing authentication token"))
		return service.ReconcileRequest{}, false
	}

	ident := requireIdentity(w, r)
	if ident == nil {
		return service.ReconcileRequest{}, false
	}

	known, _ := ident.ActiveAnalysisID(ctx)
	return service.ReconcileRequest{
		UserID:          userID,
		SessionID:       ident.SessionID(ctx),
		KnownAnalysisID: known,
		Identity:        ident,
	}, true
}
