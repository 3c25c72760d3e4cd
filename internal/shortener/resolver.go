package shortener

import (
	"context"
	"errors"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/rs/zerolog/log"
)

// ResolveStore is the part of the link store the resolver needs.
type ResolveStore interface {
	FindByCode(ctx context.Context, code string) (*internal.Link, error)
	IncrementClicks(ctx context.Context, id int64) error
}

type Resolver struct {
	store ResolveStore
	now   func() time.Time
}

func NewResolver(store ResolveStore) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// Resolve turns a short code into the link to redirect to. Missing,
// inactive and expired links all yield internal.ErrNotFound. A successful
// resolution increments the click count exactly once; a failed increment is
// logged and does not block the redirect.
func (r *Resolver) Resolve(ctx context.Context, code string) (*internal.Link, error) {
	link, err := r.store.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, internal.ErrLinkNotFound) {
			return nil, internal.ErrNotFound
		}
		return nil, err
	}

	if !link.Redirectable(r.now()) {
		log.Debug().Str("code", code).Bool("active", link.IsActive).Msg("link not redirectable")
		return nil, internal.ErrNotFound
	}

	if err := r.store.IncrementClicks(ctx, link.ID); err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to increment click count")
		return link, nil
	}
	link.ClickCount++

	return link, nil
}
