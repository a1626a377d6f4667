package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSelectionRecorded EventType = "selection_recorded"
	EventAnalysisCreated   EventType = "analysis_created"
	EventSignedIn          EventType = "signed_in"
	EventSessionLinked     EventType = "session_linked"
	EventAnalysisBackfill  EventType = "analysis_backfilled"
	EventAuthFailure       EventType = "auth_failure"
	EventRateLimitExceed   EventType = "rate_limit_exceeded"
)

// Event describes a change of ownership or attribution worth keeping in the
// audit trail.
type Event struct {
	Type      EventType
	UserID    string
	SessionID string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}

	ctxLogger := logger.With().
		Str("audit", "selection").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now())

	if event.UserID != "" {
		ctxLogger = ctxLogger.Str("user_id", event.UserID)
	}
	if event.SessionID != "" {
		ctxLogger = ctxLogger.Str("session_id", event.SessionID)
	}
	if event.IP != "" {
		ctxLogger = ctxLogger.Str("ip", event.IP)
	}
	if event.UserAgent != "" {
		ctxLogger = ctxLogger.Str("user_agent", event.UserAgent)
	}
	l := ctxLogger.Logger()

	logEvent := l.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case float64:
		return e.Float64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
