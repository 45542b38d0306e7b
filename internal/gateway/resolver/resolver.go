// Package resolver selects the upstream provider credential to use for
// a request: specificity beats recency beats absence. An active
// user-scoped key always wins over an organization-wide one, and the
// resolver never merges credentials.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

// ErrNoCredential is the governance outcome when neither a user-scoped
// nor an organization-wide active key exists. It is an access-denied
// condition for the caller, not a server error.
var ErrNoCredential = errors.New("resolver: no active credential available")

// Store lists active credentials, newest first. Deactivated keys must
// not be returned, so flag changes apply to the next resolution after
// the write commits.
type Store interface {
	ActiveUserKeys(ctx context.Context, orgID, userID uuid.UUID) ([]models.APIKey, error)
	ActiveOrgWideKeys(ctx context.Context, orgID uuid.UUID) ([]models.APIKey, error)
}

type Resolver struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the single credential to use for (organization, user).
// The user row must already exist; creation happens earlier in the
// pipeline, never here.
func (r *Resolver) Resolve(ctx context.Context, orgID, userID uuid.UUID) (*models.APIKey, error) {
	userKeys, err := r.store.ActiveUserKeys(ctx, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolver: user-scoped lookup: %w", err)
	}

	if len(userKeys) > 0 {
		if len(userKeys) > 1 {
			// Multiple user-scoped keys should not happen under normal
			// administration; pick the newest deterministically.
			r.logger.Warn("multiple active user-scoped keys, using most recent",
				"organization_id", orgID,
				"user_id", userID,
				"count", len(userKeys),
				"selected_key_id", userKeys[0].ID)
		}
		return &userKeys[0], nil
	}

	orgKeys, err := r.store.ActiveOrgWideKeys(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("resolver: organization-wide lookup: %w", err)
	}

	if len(orgKeys) > 0 {
		return &orgKeys[0], nil
	}

	return nil, ErrNoCredential
}
