package rating

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/database"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

type fakeStore struct {
	orgID        uuid.UUID
	byRequestID  map[string]*models.Request
	byResponseID map[string]*models.Request
}

func newFakeStore(orgID uuid.UUID, reqs ...*models.Request) *fakeStore {
	f := &fakeStore{
		orgID:        orgID,
		byRequestID:  make(map[string]*models.Request),
		byResponseID: make(map[string]*models.Request),
	}
	for _, r := range reqs {
		f.byRequestID[r.RequestID] = r
		if r.ResponseID != nil {
			f.byResponseID[*r.ResponseID] = r
		}
	}
	return f
}

func (f *fakeStore) GetRequestByRequestID(_ context.Context, id string) (*models.Request, error) {
	if r, ok := f.byRequestID[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetRequestByResponseID(_ context.Context, id string) (*models.Request, error) {
	if r, ok := f.byResponseID[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) OrgOwnsRequest(_ context.Context, orgID uuid.UUID, _ *models.Request) (bool, error) {
	return orgID == f.orgID, nil
}

func (f *fakeStore) UpdateRating(_ context.Context, id uuid.UUID, rating int, feedback *string, at time.Time) error {
	for _, r := range f.byRequestID {
		if r.ID == id {
			r.Rating = &rating
			r.RatingFeedback = feedback
			r.RatedAt = &at
			return nil
		}
	}
	return database.ErrNotFound
}

var testOrg = uuid.New()

func completedRequest() *models.Request {
	respID := "resp_" + uuid.New().String()
	return &models.Request{
		ID:         uuid.New(),
		RequestID:  "req_" + uuid.New().String(),
		ResponseID: &respID,
		Status:     models.StatusCompleted,
	}
}

func TestRate_ByRequestID(t *testing.T) {
	req := completedRequest()
	store := newFakeStore(testOrg, req)
	rs := New(store)

	got, err := rs.Rate(context.Background(), testOrg, req.RequestID, 1, nil)
	if err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if got.Rating == nil || *got.Rating != 1 {
		t.Errorf("Rating = %v, want 1", got.Rating)
	}
	if got.RatedAt == nil {
		t.Error("RatedAt not set")
	}
}

func TestRate_FallsBackToResponseID(t *testing.T) {
	req := completedRequest()
	store := newFakeStore(testOrg, req)
	rs := New(store)

	got, err := rs.Rate(context.Background(), testOrg, *req.ResponseID, -1, nil)
	if err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if got.ID != req.ID {
		t.Errorf("matched request %v, want %v", got.ID, req.ID)
	}
}

func TestRate_NotFound(t *testing.T) {
	rs := New(newFakeStore(testOrg))

	_, err := rs.Rate(context.Background(), testOrg, "req_missing", 1, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Rate() error = %v, want ErrNotFound", err)
	}
}

func TestRate_OtherOrgLooksLikeNotFound(t *testing.T) {
	req := completedRequest()
	rs := New(newFakeStore(testOrg, req))

	_, err := rs.Rate(context.Background(), uuid.New(), req.RequestID, 1, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Rate() across orgs error = %v, want ErrNotFound", err)
	}
}

func TestRate_InvalidRating(t *testing.T) {
	req := completedRequest()
	rs := New(newFakeStore(testOrg, req))

	for _, rating := range []int{0, 2, -2, 5} {
		if _, err := rs.Rate(context.Background(), testOrg, req.RequestID, rating, nil); !errors.Is(err, ErrInvalidRating) {
			t.Errorf("Rate(rating=%d) error = %v, want ErrInvalidRating", rating, err)
		}
	}
}

func TestRate_FailedRequestNotRatable(t *testing.T) {
	req := completedRequest()
	req.Status = models.StatusFailed
	rs := New(newFakeStore(testOrg, req))

	_, err := rs.Rate(context.Background(), testOrg, req.RequestID, 1, nil)
	if !errors.Is(err, ErrNotRatable) {
		t.Errorf("Rate() error = %v, want ErrNotRatable", err)
	}
}

func TestRate_NonTerminalNotRatable(t *testing.T) {
	for _, status := range []string{models.StatusCreated, models.StatusForwarding, models.StatusStreaming} {
		req := completedRequest()
		req.Status = status
		rs := New(newFakeStore(testOrg, req))

		if _, err := rs.Rate(context.Background(), testOrg, req.RequestID, 1, nil); !errors.Is(err, ErrNotRatable) {
			t.Errorf("Rate() on %s error = %v, want ErrNotRatable", status, err)
		}
	}
}

func TestRate_OverwritesPriorRating(t *testing.T) {
	req := completedRequest()
	store := newFakeStore(testOrg, req)
	rs := New(store)

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rs.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	if _, err := rs.Rate(context.Background(), testOrg, req.RequestID, 1, nil); err != nil {
		t.Fatalf("first Rate() error = %v", err)
	}
	firstRatedAt := *store.byRequestID[req.RequestID].RatedAt

	feedback := "changed mind"
	if _, err := rs.Rate(context.Background(), testOrg, req.RequestID, -1, &feedback); err != nil {
		t.Fatalf("second Rate() error = %v", err)
	}

	stored := store.byRequestID[req.RequestID]
	if *stored.Rating != -1 {
		t.Errorf("stored rating = %d, want -1 (overwrite)", *stored.Rating)
	}
	if stored.RatingFeedback == nil || *stored.RatingFeedback != feedback {
		t.Errorf("stored feedback = %v, want %q", stored.RatingFeedback, feedback)
	}
	if !stored.RatedAt.After(firstRatedAt) {
		t.Error("RatedAt not advanced on re-rating")
	}
}
