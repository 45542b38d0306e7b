package resolver

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

// fakeStore returns active keys newest-first, matching the database
// store contract.
type fakeStore struct {
	userKeys map[uuid.UUID][]models.APIKey
	orgKeys  []models.APIKey
	err      error
}

func (f *fakeStore) ActiveUserKeys(_ context.Context, _, userID uuid.UUID) ([]models.APIKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.userKeys[userID], nil
}

func (f *fakeStore) ActiveOrgWideKeys(_ context.Context, _ uuid.UUID) ([]models.APIKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.orgKeys, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func key(userID *uuid.UUID, age time.Duration) models.APIKey {
	return models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		IsActive:  true,
		CreatedAt: time.Now().Add(-age),
	}
}

func TestResolve_UserScopedWins(t *testing.T) {
	orgID := uuid.New()
	userID := uuid.New()

	userKey := key(&userID, time.Hour) // older than the org key
	orgKey := key(nil, time.Minute)

	store := &fakeStore{
		userKeys: map[uuid.UUID][]models.APIKey{userID: {userKey}},
		orgKeys:  []models.APIKey{orgKey},
	}

	got, err := New(store, discardLogger()).Resolve(context.Background(), orgID, userID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != userKey.ID {
		t.Errorf("Resolve() = %v, want user-scoped key %v", got.ID, userKey.ID)
	}
}

func TestResolve_FallsBackToOrgWide(t *testing.T) {
	orgID := uuid.New()
	userID := uuid.New()
	orgKey := key(nil, time.Minute)

	store := &fakeStore{
		userKeys: map[uuid.UUID][]models.APIKey{},
		orgKeys:  []models.APIKey{orgKey},
	}

	got, err := New(store, discardLogger()).Resolve(context.Background(), orgID, userID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != orgKey.ID {
		t.Errorf("Resolve() = %v, want org-wide key %v", got.ID, orgKey.ID)
	}
}

func TestResolve_RemovingUserKeyFallsBack(t *testing.T) {
	orgID := uuid.New()
	userID := uuid.New()

	userKey := key(&userID, time.Hour)
	orgKey := key(nil, time.Minute)

	store := &fakeStore{
		userKeys: map[uuid.UUID][]models.APIKey{userID: {userKey}},
		orgKeys:  []models.APIKey{orgKey},
	}

	r := New(store, discardLogger())

	got, err := r.Resolve(context.Background(), orgID, userID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != userKey.ID {
		t.Fatalf("first Resolve() = %v, want user key", got.ID)
	}

	// Deactivation: the store stops returning the user-scoped key.
	store.userKeys[userID] = nil

	got, err = r.Resolve(context.Background(), orgID, userID)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if got.ID != orgKey.ID {
		t.Errorf("second Resolve() = %v, want org-wide key %v", got.ID, orgKey.ID)
	}
}

func TestResolve_MostRecentOnAmbiguity(t *testing.T) {
	orgID := uuid.New()
	userID := uuid.New()

	newest := key(&userID, time.Minute)
	older := key(&userID, time.Hour)

	store := &fakeStore{
		userKeys: map[uuid.UUID][]models.APIKey{userID: {newest, older}},
	}

	got, err := New(store, discardLogger()).Resolve(context.Background(), orgID, userID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != newest.ID {
		t.Errorf("Resolve() = %v, want most recent key %v", got.ID, newest.ID)
	}
}

func TestResolve_NoCredential(t *testing.T) {
	store := &fakeStore{userKeys: map[uuid.UUID][]models.APIKey{}}

	_, err := New(store, discardLogger()).Resolve(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("Resolve() error = %v, want ErrNoCredential", err)
	}
}

func TestResolve_DifferentUsersDifferentKeys(t *testing.T) {
	orgID := uuid.New()
	u1 := uuid.New()
	u2 := uuid.New()

	userKey := key(&u1, time.Minute)
	orgKey := key(nil, time.Hour)

	store := &fakeStore{
		userKeys: map[uuid.UUID][]models.APIKey{u1: {userKey}},
		orgKeys:  []models.APIKey{orgKey},
	}

	r := New(store, discardLogger())

	got1, err := r.Resolve(context.Background(), orgID, u1)
	if err != nil {
		t.Fatalf("Resolve(u1) error = %v", err)
	}
	if got1.ID != userKey.ID {
		t.Errorf("Resolve(u1) = %v, want user-scoped key", got1.ID)
	}

	got2, err := r.Resolve(context.Background(), orgID, u2)
	if err != nil {
		t.Fatalf("Resolve(u2) error = %v", err)
	}
	if got2.ID != orgKey.ID {
		t.Errorf("Resolve(u2) = %v, want org-wide key", got2.ID)
	}
}

func TestResolve_StoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}

	_, err := New(store, discardLogger()).Resolve(context.Background(), uuid.New(), uuid.New())
	if err == nil || errors.Is(err, ErrNoCredential) {
		t.Errorf("Resolve() error = %v, want wrapped store error", err)
	}
}
