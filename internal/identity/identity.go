// Package identity owns the anonymous session id and the active analysis id
// of one client. Other packages read and write them only through Manager.
package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/homeyield/selection-server-go/internal/errors"
)

const (
	sessionIDKey        = "session_id"
	activeAnalysisIDKey = "active_analysis_id"
)

type Manager struct {
	storage Storage
	newID   func() string
}

func NewManager(storage Storage) *Manager {
	return &Manager{
		storage: storage,
		newID:   uuid.NewString,
	}
}

// SessionID returns the stored session id, creating it on first use. When
// storage is unreachable every call returns a fresh id; writes still succeed
// but will not group across requests.
func (m *Manager) SessionID(ctx context.Context) string {
	id, err := m.storage.Get(ctx, sessionIDKey)
	if err == nil && id != "" {
		return id
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return m.degraded(ctx, err)
	}

	candidate := m.newID()
	stored, err := m.storage.SetNX(ctx, sessionIDKey, candidate)
	if err != nil {
		return m.degradedWith(ctx, candidate, err)
	}
	if stored {
		log.Ctx(ctx).Debug().Str("sessionId", candidate).Msg("session id created")
		return candidate
	}

	// Another request stored an id first.
	id, err = m.storage.Get(ctx, sessionIDKey)
	if err != nil || id == "" {
		if err == nil {
			err = ErrNotFound
		}
		return m.degradedWith(ctx, candidate, err)
	}
	return id
}

func (m *Manager) ActiveAnalysisID(ctx context.Context) (string, bool) {
	id, err := m.storage.Get(ctx, activeAnalysisIDKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Ctx(ctx).Warn().Err(apperrors.IdentityUnavailable(err)).Msg("read active analysis id")
		}
		return "", false
	}
	return id, id != ""
}

func (m *Manager) SetActiveAnalysisID(ctx context.Context, id string) error {
	if err := m.storage.Set(ctx, activeAnalysisIDKey, id); err != nil {
		return apperrors.IdentityUnavailable(err)
	}
	return nil
}

func (m *Manager) degraded(ctx context.Context, err error) string {
	return m.degradedWith(ctx, m.newID(), err)
}

func (m *Manager) degradedWith(ctx context.Context, id string, err error) string {
	log.Ctx(ctx).Warn().
		Err(apperrors.IdentityUnavailable(err)).
		Str("sessionId", id).
		Msg("client storage unavailable, using ephemeral session id")
	return id
}
