// Package session maps inbound session tokens to session records,
// creating them when absent and accumulating per-session counters.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/database"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/redis"
)

// Store persists sessions. A missing token reports
// database.ErrNotFound. TouchSession and AddSessionTokens must be
// atomic in-place updates; lost counter increments under concurrent
// same-session traffic are a correctness bug.
type Store interface {
	GetSessionByToken(ctx context.Context, token string) (*models.Session, error)
	CreateSession(ctx context.Context, s *models.Session) error
	TouchSession(ctx context.Context, id uuid.UUID) error
	AddSessionTokens(ctx context.Context, id uuid.UUID, tokens int64) error
}

type Tracker struct {
	store  Store
	cache  *redis.SessionCache // optional, nil disables caching
	logger *slog.Logger
}

func NewTracker(store Store, cache *redis.SessionCache, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, cache: cache, logger: logger}
}

// ResolveOrCreate returns the session for a caller-supplied token,
// creating a fresh one when the token is empty, unknown, or bound to a
// different user. A token owned by another user is never reused:
// sessions fail open to isolation, not convenience. The returned bool
// reports whether a new session was created.
func (t *Tracker) ResolveOrCreate(ctx context.Context, userID uuid.UUID, token string) (*models.Session, bool, error) {
	if token != "" {
		if sessID, cachedUser, ok := t.cache.Get(ctx, token); ok {
			if cachedUser == userID {
				if err := t.store.TouchSession(ctx, sessID); err != nil {
					return nil, false, err
				}
				return &models.Session{ID: sessID, UserID: userID, Token: token}, false, nil
			}
			// Token belongs to another user; fall through to a fresh session.
		} else {
			existing, err := t.store.GetSessionByToken(ctx, token)
			switch {
			case err == nil && existing.UserID == userID:
				if err := t.store.TouchSession(ctx, existing.ID); err != nil {
					return nil, false, err
				}
				if cacheErr := t.cache.Put(ctx, token, existing.ID, userID); cacheErr != nil {
					t.logger.Debug("session cache write failed", "error", cacheErr)
				}
				existing.RequestCount++
				return existing, false, nil
			case err == nil:
				t.logger.Warn("session token presented by a different user, creating fresh session",
					"session_id", existing.ID,
					"user_id", userID)
			case !errors.Is(err, database.ErrNotFound):
				return nil, false, err
			}
		}
	}

	s := &models.Session{
		ID:           uuid.New(),
		UserID:       userID,
		Token:        NewToken(),
		RequestCount: 1,
	}

	if err := t.store.CreateSession(ctx, s); err != nil {
		return nil, false, fmt.Errorf("session: create: %w", err)
	}

	if cacheErr := t.cache.Put(ctx, s.Token, s.ID, userID); cacheErr != nil {
		t.logger.Debug("session cache write failed", "error", cacheErr)
	}

	return s, true, nil
}

// AddUsage accumulates delivered token counts onto the session.
func (t *Tracker) AddUsage(ctx context.Context, sessionID uuid.UUID, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	return t.store.AddSessionTokens(ctx, sessionID, tokens)
}

// NewToken generates an opaque session token.
func NewToken() string {
	return "sess_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
