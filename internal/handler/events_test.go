package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeyield/selection-server-go/internal/sse"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	owners   []string
	client   *sse.Client
	released bool
}

func (f *fakeSubscriber) Subscribe(ownerKey string) *sse.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners = append(f.owners, ownerKey)
	return f.client
}

func (f *fakeSubscriber) Unsubscribe(*sse.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{client: &sse.Client{
		Events: make(chan sse.Event, 1),
		Done:   make(chan struct{}),
	}}
}

func TestEventsHandler_ServeHTTP(t *testing.T) {
	t.Run("returns 503 without client identity", func(t *testing.T) {
		handler := NewEventsHandler(newFakeSubscriber())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("streams invalidations for the signed-in user", func(t *testing.T) {
		subscriber := newFakeSubscriber()
		handler := NewEventsHandler(subscriber)
		client := newTestClient().signedIn("u1")

		base := client.request(t, http.MethodGet, "/v1/events", nil)
		ctx, cancel := context.WithCancel(base.Context())
		req := base.WithContext(ctx)
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			handler.ServeHTTP(rec, req)
			close(done)
		}()

		subscriber.client.Events <- sse.NewInvalidationEvent("user:u1", "reconciled")
		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler did not return after cancel")
		}

		body := rec.Body.String()
		assert.Contains(t, body, "event: connected\n")
		assert.Contains(t, body, "event: selections_invalidated\n")
		assert.Contains(t, body, `"owner":"user:u1"`)
		require.Equal(t, []string{"user:u1"}, subscriber.owners)
		assert.True(t, subscriber.released)
	})

	t.Run("anonymous clients subscribe to their session", func(t *testing.T) {
		subscriber := newFakeSubscriber()
		handler := NewEventsHandler(subscriber)
		client := newTestClient()
		close(subscriber.client.Done)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, client.request(t, http.MethodGet, "/v1/events", nil))

		assert.Equal(t, []string{"session:" + client.sessionID()}, subscriber.owners)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	})
}

func TestEventsHandler_sendRawEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	err := handler.sendRawEvent(rec, rec, sse.Event{Type: "selections_invalidated", Data: []byte(`{"owner":"session:s1"}`)})

	assert.NoError(t, err)
	assert.Equal(t, "event: selections_invalidated\ndata: {\"owner\":\"session:s1\"}\n\n", rec.Body.String())
}
