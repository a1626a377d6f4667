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

type AnalysisCreator interface {
	Create(ctx context.Context, ident *identity.Manager, input service.CreateAnalysisInput) (*model.PropertyAnalysis, error)
}

type AnalysisHandler struct {
	analyses AnalysisCreator
}

func NewAnalysisHandler(analyses AnalysisCreator) *AnalysisHandler {
	return &AnalysisHandler{analyses: analyses}
}

func (h *AnalysisHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)

	return r
}

// POST /v1/analyses
func (h *AnalysisHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident := requireIdentity(w, r)
	if ident == nil {
		return
	}

	var req struct {
		Address string          `json:"address"`
		Result  json.RawMessage `json:"result"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	analysis, err := h.analyses.Create(r.Context(), ident, service.CreateAnalysisInput{
		Address: req.Address,
		Result:  req.Result,
		UserID:  middleware.GetUserID(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, analysis)
}
