package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/homeyield/selection-server-go/internal/model"
	"github.com/homeyield/selection-server-go/internal/sse"
)

// ViewCache caches deduplicated views by owner key. Each owner carries a
// generation that Invalidate advances; Set only stores a view loaded under the
// generation Get reported, so a read that overlaps an invalidation is dropped.
type ViewCache interface {
	Get(ctx context.Context, ownerKey string) (view *model.SelectionView, gen int64, ok bool)
	Set(ctx context.Context, ownerKey string, gen int64, view *model.SelectionView)
	Invalidate(ctx context.Context, ownerKeys ...string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, ownerKey string, event sse.Event) error
}

// invalidator drops cached views and tells subscribed clients to refetch.
// Both halves are best-effort.
type invalidator struct {
	cache  ViewCache
	events EventPublisher
}

func (i invalidator) invalidate(ctx context.Context, reason string, ownerKeys ...string) {
	if i.cache != nil {
		if err := i.cache.Invalidate(ctx, ownerKeys...); err != nil {
			log.Ctx(ctx).Warn().Err(err).Strs("owners", ownerKeys).Msg("view cache invalidation failed")
		}
	}
	if i.events == nil {
		return
	}
	for _, ownerKey := range ownerKeys {
		if err := i.events.Publish(ctx, ownerKey, sse.NewInvalidationEvent(ownerKey, reason)); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("owner", ownerKey).Msg("publish invalidation failed")
		}
	}
}
