package relay

import (
	"context"
	"log/slog"

	"github.com/BearBump/SentryBox/internal/models"
	"github.com/pkg/errors"
)

type LinkStore interface {
	ListLinksByVIN(ctx context.Context, vin string) ([]models.Link, error)
	DeleteLinks(ctx context.Context, userID string) ([]string, error)
}

type LinkCache interface {
	Get(ctx context.Context, vin string) ([]models.Link, bool, error)
	Put(ctx context.Context, vin string, links []models.Link) error
	Invalidate(ctx context.Context, vins ...string) error
}

// Registry читает связки через кэш. Ошибки кэша не фатальны: идём в БД.
type Registry struct {
	store LinkStore
	cache LinkCache
}

// NewRegistry accepts a nil cache.
func NewRegistry(store LinkStore, cache LinkCache) *Registry {
	return &Registry{store: store, cache: cache}
}

func (r *Registry) LinksForVIN(ctx context.Context, vin string) ([]models.Link, error) {
	if r.cache != nil {
		links, ok, err := r.cache.Get(ctx, vin)
		if err != nil {
			slog.Warn("link cache read failed", "vin", vin, "err", err)
		} else if ok {
			return links, nil
		}
	}

	links, err := r.store.ListLinksByVIN(ctx, vin)
	if err != nil {
		return nil, errors.Wrap(err, "list links")
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, vin, links); err != nil {
			slog.Warn("link cache write failed", "vin", vin, "err", err)
		}
	}
	return links, nil
}

// RemoveLink drops every link of the user and evicts the affected VINs.
func (r *Registry) RemoveLink(ctx context.Context, userID string) error {
	vins, err := r.store.DeleteLinks(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "delete links")
	}
	slog.Info("telegram links removed", "user_id", userID, "vins", vins)

	if r.cache != nil && len(vins) > 0 {
		if err := r.cache.Invalidate(ctx, vins...); err != nil {
			slog.Warn("link cache invalidate failed", "user_id", userID, "err", err)
		}
	}
	return nil
}
