package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionCache keeps a short-lived token -> session mapping in Redis so
// hot sessions skip a database lookup. Postgres remains the source of
// truth; counters are never cached.
type SessionCache struct {
	client *Client
	ttl    time.Duration
}

type cachedSession struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
}

// NewSessionCache creates a session cache with the given entry TTL
func NewSessionCache(client *Client, ttl time.Duration) *SessionCache {
	return &SessionCache{client: client, ttl: ttl}
}

func sessionKey(token string) string {
	return "session:token:" + token
}

// Get returns the cached (sessionID, userID) for a token, or ok=false
// on a miss. Cache errors degrade to a miss, never to a failure.
func (c *SessionCache) Get(ctx context.Context, token string) (sessionID, userID uuid.UUID, ok bool) {
	if c == nil || c.client == nil {
		return uuid.Nil, uuid.Nil, false
	}

	val, err := c.client.Get(ctx, sessionKey(token))
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}

	var entry cachedSession
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return uuid.Nil, uuid.Nil, false
	}

	return entry.SessionID, entry.UserID, true
}

// Put stores the token mapping. Failures are returned for logging but
// are safe to ignore.
func (c *SessionCache) Put(ctx context.Context, token string, sessionID, userID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := json.Marshal(cachedSession{SessionID: sessionID, UserID: userID})
	if err != nil {
		return fmt.Errorf("failed to serialize session entry: %w", err)
	}

	return c.client.Set(ctx, sessionKey(token), string(data), c.ttl)
}
