package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/telecheck/platform/pkg/common/logger"
	"github.com/telecheck/platform/pkg/common/models"
)

var ErrProfileResolution = errors.New("profile resolution failed")

// Resolver resolves an external user key to a local profile. The upstream
// identity provider syncs profiles via webhook, so a profile may lag behind
// its user: lookups are retried with a fixed delay before falling back to
// creating a minimal profile on the fly.
type Resolver struct {
	store    ProfileStore
	provider *ProviderClient
	retries  int
	delay    time.Duration
}

func NewResolver(store ProfileStore, provider *ProviderClient, retries int, delay time.Duration) *Resolver {
	if retries <= 0 {
		retries = 3
	}
	return &Resolver{
		store:    store,
		provider: provider,
		retries:  retries,
		delay:    delay,
	}
}

func (r *Resolver) ResolveOrCreateProfile(ctx context.Context, key string) (models.Profile, error) {
	if key == "" {
		return models.Profile{}, fmt.Errorf("%w: empty user key", ErrProfileResolution)
	}

	for attempt := 0; attempt < r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.delay):
			case <-ctx.Done():
				return models.Profile{}, ctx.Err()
			}
		}

		profile, err := r.store.GetByExternalKey(ctx, key)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, ErrProfileNotFound) {
			return models.Profile{}, fmt.Errorf("%w: %v", ErrProfileResolution, err)
		}
		logger.Log.WithField("attempt", attempt+1).Debug("profile not yet synced, retrying lookup")
	}

	logger.Log.WithField("user_key", key).Info("profile still missing after retries, creating minimal profile")

	profile := models.Profile{
		ID:          uuid.New(),
		ExternalKey: key,
	}
	if r.provider != nil {
		if fetched, err := r.provider.FetchProfile(ctx, key); err != nil {
			// Provider attributes are a nicety; the save must not fail on them.
			logger.Log.WithError(err).Warn("identity provider lookup failed, creating empty profile")
		} else {
			profile.Email = fetched.Email
			profile.Name = fetched.Name
		}
	}

	created, err := r.store.Create(ctx, profile)
	if err != nil {
		return models.Profile{}, fmt.Errorf("%w: %v", ErrProfileResolution, err)
	}
	return created, nil
}
