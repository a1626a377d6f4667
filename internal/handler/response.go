package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/homeyield/selection-server-go/internal/errors"
	"github.com/homeyield/selection-server-go/internal/httputil"
	"github.com/homeyield/selection-server-go/internal/identity"
	"github.com/homeyield/selection-server-go/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return apperrors.InvalidInput("body", "request body too large")
		}
		return apperrors.ValidationError("Invalid JSON body").WithCause(err)
	}
	return nil
}

func requireIdentity(w http.ResponseWriter, r *http.Request) *identity.Manager {
	ident := middleware.GetIdentity(r.Context())
	if ident == nil {
		writeError(w, apperrors.IdentityUnavailable(errors.New("no client identity on request")))
	}
	return ident
}
