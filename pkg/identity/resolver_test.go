package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/telecheck/platform/pkg/common/logger"
	"github.com/telecheck/platform/pkg/common/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

type fakeProfileStore struct {
	lookups     int
	appearAfter int // lookup attempt on which the profile becomes visible
	profile     models.Profile
	created     *models.Profile
	storeErr    error
}

func (s *fakeProfileStore) GetByExternalKey(_ context.Context, _ string) (models.Profile, error) {
	s.lookups++
	if s.storeErr != nil {
		return models.Profile{}, s.storeErr
	}
	if s.appearAfter > 0 && s.lookups >= s.appearAfter {
		return s.profile, nil
	}
	return models.Profile{}, ErrProfileNotFound
}

func (s *fakeProfileStore) Create(_ context.Context, profile models.Profile) (models.Profile, error) {
	if s.storeErr != nil {
		return models.Profile{}, s.storeErr
	}
	s.created = &profile
	return profile, nil
}

func TestResolveFindsProfileOnRetry(t *testing.T) {
	existing := models.Profile{ID: uuid.New(), ExternalKey: "user@clinic.example"}
	store := &fakeProfileStore{appearAfter: 2, profile: existing}
	resolver := NewResolver(store, nil, 3, time.Millisecond)

	profile, err := resolver.ResolveOrCreateProfile(context.Background(), "user@clinic.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.ID != existing.ID {
		t.Fatal("expected the synced profile, not a new one")
	}
	if store.lookups != 2 {
		t.Fatalf("expected 2 lookups, got %d", store.lookups)
	}
	if store.created != nil {
		t.Fatal("must not create a profile when one syncs in time")
	}
}

func TestResolveCreatesAfterExhaustedRetries(t *testing.T) {
	store := &fakeProfileStore{}
	resolver := NewResolver(store, nil, 3, time.Millisecond)

	profile, err := resolver.ResolveOrCreateProfile(context.Background(), "new@clinic.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.lookups != 3 {
		t.Fatalf("expected 3 lookup attempts, got %d", store.lookups)
	}
	if store.created == nil {
		t.Fatal("expected a minimal profile to be created")
	}
	if profile.ExternalKey != "new@clinic.example" {
		t.Fatalf("unexpected external key: %s", profile.ExternalKey)
	}
	if profile.ID == uuid.Nil {
		t.Fatal("expected a generated profile id")
	}
}

func TestResolveSurfacesStoreFailure(t *testing.T) {
	store := &fakeProfileStore{storeErr: errors.New("connection reset")}
	resolver := NewResolver(store, nil, 3, time.Millisecond)

	_, err := resolver.ResolveOrCreateProfile(context.Background(), "user@clinic.example")
	if !errors.Is(err, ErrProfileResolution) {
		t.Fatalf("expected ErrProfileResolution, got %v", err)
	}
	if store.lookups != 1 {
		t.Fatalf("store failures are not sync lag, expected 1 lookup, got %d", store.lookups)
	}
}

func TestResolveRejectsEmptyKey(t *testing.T) {
	resolver := NewResolver(&fakeProfileStore{}, nil, 3, time.Millisecond)
	if _, err := resolver.ResolveOrCreateProfile(context.Background(), ""); !errors.Is(err, ErrProfileResolution) {
		t.Fatalf("expected ErrProfileResolution, got %v", err)
	}
}

func TestResolveHonorsCancellation(t *testing.T) {
	store := &fakeProfileStore{}
	resolver := NewResolver(store, nil, 3, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := resolver.ResolveOrCreateProfile(ctx, "user@clinic.example")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation not honored during lookup delay")
	}
}
