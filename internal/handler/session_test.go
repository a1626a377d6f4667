package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionHandler(t *testing.T) {
	t.Run("get or create is idempotent per client", func(t *testing.T) {
		client := newTestClient()
		routes := NewSessionHandler().Routes()

		var first, second sessionResponse
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, client.request(t, http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		decodeBody(t, rec, &first)

		rec = httptest.NewRecorder()
		routes.ServeHTTP(rec, client.request(t, http.MethodPost, "/", nil))
		decodeBody(t, rec, &second)

		assert.NotEmpty(t, first.SessionID)
		assert.Equal(t, first.SessionID, second.SessionID)
	})

	t.Run("set active analysis", func(t *testing.T) {
		client := newTestClient()
		routes := NewSessionHandler().Routes()

		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, client.request(t, http.MethodPut, "/analysis", map[string]string{"analysisId": "a1"}))
		assert.Equal(t, http.StatusOK, rec.Code)

		active, ok := client.ident.ActiveAnalysisID(context.Background())
		assert.True(t, ok)
		assert.Equal(t, "a1", active)

		var resp sessionResponse
		rec = httptest.NewRecorder()
		routes.ServeHTTP(rec, client.request(t, http.MethodPost, "/", nil))
		decodeBody(t, rec, &resp)
		assert.Equal(t, "a1", resp.ActiveAnalysisID)
	})

	t.Run("last write wins", func(t *testing.T) {
		client := newTestClient()
		routes := NewSessionHandler().Routes()

		for _, id := range []string{"a1", "a2"} {
			rec := httptest.NewRecorder()
			routes.ServeHTTP(rec, client.request(t, http.MethodPut, "/analysis", map[string]string{"analysisId": id}))
			assert.Equal(t, http.StatusOK, rec.Code)
		}

		active, _ := client.ident.ActiveAnalysisID(context.Background())
		assert.Equal(t, "a2", active)
	})

	t.Run("analysis id required", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewSessionHandler().Routes().ServeHTTP(rec, newTestClient().request(t, http.MethodPut, "/analysis", map[string]string{}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "MISSING_REQUIRED")
	})
}
