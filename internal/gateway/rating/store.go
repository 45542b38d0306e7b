// Package rating attaches bounded ratings and feedback to completed
// requests, addressable by either the internal request identifier or
// the upstream response identifier.
package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/database"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

var (
	// ErrNotFound means neither identifier matched a request.
	ErrNotFound = errors.New("rating: request not found")

	// ErrNotRatable means the matched request is not in a completed
	// state. Failed requests cannot be rated.
	ErrNotRatable = errors.New("rating: request is not ratable")

	// ErrInvalidRating means the rating value is outside {-1, 1}.
	ErrInvalidRating = errors.New("rating: rating must be -1 or 1")
)

// Store looks up and mutates request rating fields.
type Store interface {
	GetRequestByRequestID(ctx context.Context, requestID string) (*models.Request, error)
	GetRequestByResponseID(ctx context.Context, responseID string) (*models.Request, error)
	OrgOwnsRequest(ctx context.Context, orgID uuid.UUID, r *models.Request) (bool, error)
	UpdateRating(ctx context.Context, id uuid.UUID, rating int, feedback *string, at time.Time) error
}

type RatingStore struct {
	store Store
	now   func() time.Time
}

func New(store Store) *RatingStore {
	return &RatingStore{store: store, now: time.Now}
}

// Rate records a rating against a request owned by orgID. lookupID may
// be the internal request identifier or the upstream response
// identifier; the request identifier is tried first. Requests owned by
// other organizations are indistinguishable from missing ones.
// Re-rating overwrites the previous rating, feedback, and timestamp.
func (s *RatingStore) Rate(ctx context.Context, orgID uuid.UUID, lookupID string, rating int, feedback *string) (*models.Request, error) {
	if rating != -1 && rating != 1 {
		return nil, ErrInvalidRating
	}

	req, err := s.lookup(ctx, lookupID)
	if err != nil {
		return nil, err
	}

	owned, err := s.store.OrgOwnsRequest(ctx, orgID, req)
	if err != nil {
		return nil, fmt.Errorf("rating: ownership check: %w", err)
	}
	if !owned {
		return nil, ErrNotFound
	}

	if req.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRatable, req.Status)
	}

	ratedAt := s.now().UTC()
	if err := s.store.UpdateRating(ctx, req.ID, rating, feedback, ratedAt); err != nil {
		return nil, fmt.Errorf("rating: update: %w", err)
	}

	req.Rating = &rating
	req.RatingFeedback = feedback
	req.RatedAt = &ratedAt
	return req, nil
}

func (s *RatingStore) lookup(ctx context.Context, lookupID string) (*models.Request, error) {
	req, err := s.store.GetRequestByRequestID(ctx, lookupID)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("rating: lookup by request id: %w", err)
	}

	req, err = s.store.GetRequestByResponseID(ctx, lookupID)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("rating: lookup by response id: %w", err)
	}

	return nil, ErrNotFound
}
