package models

import (
	"time"

	"github.com/google/uuid"
)

// Request lifecycle statuses. Terminal statuses are final; only the
// rating fields may change after StatusCompleted.
const (
	StatusCreated    = "created"
	StatusForwarding = "forwarding"
	StatusStreaming  = "streaming"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Organization is the top-level tenant owning users, API keys and personas.
type Organization struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is a person or service scoped to exactly one organization,
// identified externally by a caller-supplied string (e.g. an email).
// (OrganizationID, ExternalID) is unique.
type User struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	ExternalID     string
	CreatedAt      time.Time
}

// APIKey maps a non-secret synthetic key to an encrypted upstream
// provider key. UserID is nil for organization-wide keys.
type APIKey struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	UserID         *uuid.UUID
	SyntheticKey   string
	EncryptedKey   string
	IsActive       bool
	Name           *string
	Description    *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session groups requests from one user over an interaction window.
type Session struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Token          string
	StartedAt      time.Time
	LastActivityAt time.Time
	RequestCount   int64
	TotalTokens    int64
}

// Request is one inbound call to the proxy.
type Request struct {
	ID              uuid.UUID
	RequestID       string  // externally visible, "req_" prefixed
	ResponseID      *string // upstream-assigned, globally unique once set
	SessionID       uuid.UUID
	UserID          uuid.UUID
	APIKeyID        uuid.UUID
	PersonaID       *uuid.UUID
	Model           string
	RequestPayload  []byte
	ResponsePayload []byte
	Status          string
	ErrorMessage    *string
	Rating          *int
	RatingFeedback  *string
	RatedAt         *time.Time
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// Terminal reports whether the request reached a final status.
func (r *Request) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// UsageLog records token counts and cost for one completed request.
// Cost is stored in micro-USD to avoid floating point drift in sums.
type UsageLog struct {
	ID           uuid.UUID
	RequestID    uuid.UUID
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostMicroUSD int64
	LoggedAt     time.Time
}

// CostUSD returns the cost as a float for reporting.
func (u *UsageLog) CostUSD() float64 {
	return float64(u.CostMicroUSD) / 1e6
}

// Persona is a stored system prompt applied to a request by reference.
type Persona struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	UserID         *uuid.UUID
	Name           string
	Content        string
	IsActive       bool
	CreatedAt      time.Time
}
