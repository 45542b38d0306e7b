package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/gateway/vault"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/database"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

// AdminHandler serves the organization-scoped management surface:
// users and API key registration. Plaintext provider keys only pass
// through here on the way into the vault; they are never readable back.
type AdminHandler struct {
	db     *database.DB
	vault  *vault.Vault
	logger *slog.Logger
}

func NewAdminHandler(db *database.DB, v *vault.Vault, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{db: db, vault: v, logger: logger}
}

type userResponse struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"external_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID, ExternalID: u.ExternalID, CreatedAt: u.CreatedAt}
}

// ListUsers handles GET /v1/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	users, err := h.db.ListUsers(r.Context(), org.OrgID)
	if err != nil {
		h.logger.Error("list users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": out})
}

type createUserBody struct {
	ExternalID string `json:"external_id"`
}

// CreateUser handles POST /v1/users. Creation is idempotent on
// (organization, external_id).
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body createUserBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.ExternalID) == "" {
		writeError(w, http.StatusBadRequest, "external_id is required")
		return
	}

	user, err := h.db.EnsureUser(r.Context(), org.OrgID, body.ExternalID)
	if err != nil {
		h.logger.Error("create user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type keyResponse struct {
	ID          uuid.UUID  `json:"id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	IsActive    bool       `json:"is_active"`
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toKeyResponse(k *models.APIKey) keyResponse {
	return keyResponse{
		ID:          k.ID,
		UserID:      k.UserID,
		IsActive:    k.IsActive,
		Name:        k.Name,
		Description: k.Description,
		CreatedAt:   k.CreatedAt,
		UpdatedAt:   k.UpdatedAt,
	}
}

type createKeyBody struct {
	APIKey         string  `json:"api_key"`
	UserExternalID string  `json:"user_external_id,omitempty"`
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
}

// CreateKey handles POST /v1/keys. The synthetic key appears only in
// this response; the provider key is encrypted before it touches the
// database and is never returned.
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body createKeyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.APIKey) == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	var userID *uuid.UUID
	if body.UserExternalID != "" {
		user, err := h.db.EnsureUser(r.Context(), org.OrgID, body.UserExternalID)
		if err != nil {
			h.logger.Error("ensure user failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		userID = &user.ID
	}

	encrypted, err := h.vault.Encrypt(body.APIKey)
	if err != nil {
		h.logger.Error("key encryption failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	synthetic, err := vault.GenerateSyntheticKey()
	if err != nil {
		h.logger.Error("synthetic key generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	key := &models.APIKey{
		ID:             uuid.New(),
		OrganizationID: org.OrgID,
		UserID:         userID,
		SyntheticKey:   synthetic,
		EncryptedKey:   encrypted,
		IsActive:       true,
		Name:           body.Name,
		Description:    body.Description,
	}
	if err := h.db.CreateAPIKey(r.Context(), key); err != nil {
		h.logger.Error("create key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":            key.ID,
		"synthetic_key": synthetic,
		"user_id":       userID,
		"is_active":     true,
	})
}

// ListKeys handles GET /v1/keys. Optional filters: user_external_id
// narrows to one user's keys, include_inactive=true includes revoked
// keys.
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var userID *uuid.UUID
	if ext := r.URL.Query().Get("user_external_id"); ext != "" {
		user, err := h.db.GetUserByExternalID(r.Context(), org.OrgID, ext)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				writeError(w, http.StatusNotFound, "user not found")
				return
			}
			h.logger.Error("user lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		userID = &user.ID
	}
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	keys, err := h.db.ListAPIKeys(r.Context(), org.OrgID, userID, includeInactive)
	if err != nil {
		h.logger.Error("list keys failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]keyResponse, 0, len(keys))
	for i := range keys {
		out = append(out, toKeyResponse(&keys[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": out})
}

// GetKey handles GET /v1/keys/{id}.
func (h *AdminHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return
	}

	key, err := h.db.GetAPIKey(r.Context(), org.OrgID, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		h.logger.Error("get key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toKeyResponse(key))
}

type updateKeyBody struct {
	IsActive    *bool   `json:"is_active,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	APIKey      *string `json:"api_key,omitempty"`
}

// UpdateKey handles PATCH /v1/keys/{id}: activation toggles, metadata
// edits, and provider key rotation. Rotation re-encrypts in place; the
// synthetic key is stable across rotations.
func (h *AdminHandler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return
	}

	var body updateKeyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var encrypted *string
	if body.APIKey != nil {
		if strings.TrimSpace(*body.APIKey) == "" {
			writeError(w, http.StatusBadRequest, "api_key must not be empty")
			return
		}
		blob, encErr := h.vault.Encrypt(*body.APIKey)
		if encErr != nil {
			h.logger.Error("key encryption failed", "error", encErr)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		encrypted = &blob
	}

	key, err := h.db.UpdateAPIKey(r.Context(), org.OrgID, id, body.IsActive, body.Name, body.Description, encrypted)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		h.logger.Error("update key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toKeyResponse(key))
}
