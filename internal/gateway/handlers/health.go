package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/gateway/resolver"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

// KeySource supplies the organization-wide credentials the upstream
// probe runs with.
type KeySource interface {
	ActiveOrgWideKeys(ctx context.Context, orgID uuid.UUID) ([]models.APIKey, error)
}

// Decrypter recovers plaintext provider keys from storage.
type Decrypter interface {
	Decrypt(blob string) (string, error)
}

// UpstreamProber issues the minimal upstream call.
type UpstreamProber interface {
	Probe(ctx context.Context, apiKey string) error
}

// HealthProber verifies the full credential path for an organization:
// a stored org-wide key exists, decrypts, and is accepted upstream.
type HealthProber struct {
	keys   KeySource
	vault  Decrypter
	client UpstreamProber
}

func NewHealthProber(keys KeySource, vault Decrypter, client UpstreamProber) *HealthProber {
	return &HealthProber{keys: keys, vault: vault, client: client}
}

func (p *HealthProber) Probe(ctx context.Context, orgID uuid.UUID) error {
	keys, err := p.keys.ActiveOrgWideKeys(ctx, orgID)
	if err != nil {
		return fmt.Errorf("health: list keys: %w", err)
	}
	if len(keys) == 0 {
		return resolver.ErrNoCredential
	}

	plaintext, err := p.vault.Decrypt(keys[0].EncryptedKey)
	if err != nil {
		return fmt.Errorf("health: decrypt: %w", err)
	}

	return p.client.Probe(ctx, plaintext)
}

// Liveness serves the unauthenticated process health endpoint.
type Liveness struct {
	db     Pinger
	logger *slog.Logger
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewLiveness(db Pinger, logger *slog.Logger) *Liveness {
	return &Liveness{db: db, logger: logger}
}

func (l *Liveness) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := l.db.Ping(r.Context()); err != nil {
		l.logger.Error("database ping failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
