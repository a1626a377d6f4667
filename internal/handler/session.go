package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/homeyield/selection-server-go/internal/errors"
)

type SessionHandler struct{}

func NewSessionHandler() *SessionHandler {
	return &SessionHandler{}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.GetOrCreate)
	r.Put("/analysis", h.SetActiveAnalysis)

	return r
}

type sessionResponse struct {
	SessionID        string `json:"sessionId"`
	ActiveAnalysisID string `json:"activeAnalysisId,omitempty"`
}

// POST /v1/session
func (h *SessionHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	ident := requireIdentity(w, r)
	if ident == nil {
		return
	}

	ctx := r.Context()
	analysisID, _ := ident.ActiveAnalysisID(ctx)
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:        ident.SessionID(ctx),
		ActiveAnalysisID: analysisID,
	})
}

// PUT /v1/session/analysis
func (h *SessionHandler) SetActiveAnalysis(w http.ResponseWriter, r *http.Request) {
	ident := requireIdentity(w, r)
	if ident == nil {
		return
	}

	var req struct {
		AnalysisID string `json:"analysisId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.AnalysisID == "" {
		writeError(w, apperrors.MissingRequired("analysisId"))
		return
	}

	ctx := r.Context()
	if err := ident.SetActiveAnalysisID(ctx, req.AnalysisID); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to set active analysis")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:        ident.SessionID(ctx),
		ActiveAnalysisID: req.AnalysisID,
	})
}
