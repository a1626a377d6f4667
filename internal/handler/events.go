package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/homeyield/selection-server-go/internal/middleware"
	"github.com/homeyield/selection-server-go/internal/model"
	"github.com/homeyield/selection-server-go/internal/sse"
)

type EventSubscriber interface {
	Subscribe(ownerKey string) *sse.Client
	Unsubscribe(client *sse.Client)
}

// EventsHandler streams selections_invalidated events for the caller's
// current owner so read views know when to refetch.
type EventsHandler struct {
	broker    EventSubscriber
	heartbeat time.Duration
}

func NewEventsHandler(broker EventSubscriber) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /v1/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var owner model.Owner
	if userID := middleware.GetUserID(ctx); userID != "" {
		owner = model.UserOwner(userID)
	} else {
		ident := requireIdentity(w, r)
		if ident == nil {
			return
		}
		owner = model.SessionOwner(ident.SessionID(ctx))
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ownerKey := owner.Key()
	client := h.broker.Subscribe(ownerKey)
	defer h.broker.Unsubscribe(client)

	log.Ctx(ctx).Info().Str("owner", ownerKey).Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "connected", map[string]any{"owner": ownerKey}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).Info().Str("owner", ownerKey).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Ctx(ctx).Info().Str("owner", ownerKey).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Ctx(ctx).Debug().Str("owner", ownerKey).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
