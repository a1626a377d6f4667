package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/homeyield/selection-server-go/internal/identity"
	"github.com/homeyield/selection-server-go/internal/middleware"
	"github.com/homeyield/selection-server-go/internal/model"
	"github.com/homeyield/selection-server-go/internal/service"
)

type mockSelectionStore struct {
	mock.Mock
}

func (m *mockSelectionStore) Record(ctx context.Context, ident *identity.Manager, params service.RecordSelectionParams) (string, error) {
	args := m.Called(ctx, ident, params)
	return args.String(0), args.Error(1)
}

func (m *mockSelectionStore) ListActive(ctx context.Context, owner model.Owner) (*model.SelectionView, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SelectionView), args.Error(1)
}

type mockAnalysisCreator struct {
	mock.Mock
}

func (m *mockAnalysisCreator) Create(ctx context.Context, ident *identity.Manager, input service.CreateAnalysisInput) (*model.PropertyAnalysis, error) {
	args := m.Called(ctx, ident, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PropertyAnalysis), args.Error(1)
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) EnsureRan(ctx context.Context, req service.ReconcileRequest) bool {
	return m.Called(ctx, req).Bool(0)
}

func (m *mockRunner) OnSignIn(ctx context.Context, req service.ReconcileRequest) <-chan service.ReconcileSummary {
	m.Called(ctx, req)
	done := make(chan service.ReconcileSummary)
	close(done)
	return done
}

func (m *mockRunner) Reconcile(ctx context.Context, req service.ReconcileRequest) service.ReconcileSummary {
	return m.Called(ctx, req).Get(0).(service.ReconcileSummary)
}

// testClient is one browser profile: a fixed identity and optional user.
type testClient struct {
	ident *identity.Manager
	user  *model.User
}

func newTestClient() *testClient {
	return &testClient{ident: identity.NewManager(identity.NewMemoryStorage())}
}

func (c *testClient) signedIn(userID string) *testClient {
	c.user = &model.User{ID: userID}
	return c
}

func (c *testClient) sessionID() string {
	return c.ident.SessionID(context.Background())
}

func (c *testClient) request(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body == nil {
		req.ContentLength = 0
	}

	ctx := context.WithValue(req.Context(), middleware.IdentityContextKey, c.ident)
	if c.user != nil {
		ctx = context.WithValue(ctx, middleware.UserContextKey, c.user)
	}
	return req.WithContext(ctx)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}
