// Package lifecycle orchestrates the path from an authenticated
// inbound request to a persisted, ratable record. It owns the request
// state machine: created -> forwarding -> (streaming | completed) ->
// terminal completed/failed. No request row is ever left non-terminal
// on any exit path.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/gateway/metrics"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/upstream"
	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

// ErrPersonaNotFound means the referenced persona does not exist, is
// inactive, or belongs to another organization.
var ErrPersonaNotFound = errors.New("lifecycle: persona not found")

// ErrCancelled marks a request aborted by the caller.
var ErrCancelled = errors.New("lifecycle: request cancelled by caller")

// Store covers the persistence the manager needs for the state machine.
type Store interface {
	EnsureUser(ctx context.Context, orgID uuid.UUID, externalID string) (*models.User, error)
	GetActivePersona(ctx context.Context, orgID, id uuid.UUID) (*models.Persona, error)
	CreateRequest(ctx context.Context, r *models.Request) error
	SetRequestStatus(ctx context.Context, id uuid.UUID, status string) error
	MarkRequestCompleted(ctx context.Context, id uuid.UUID, responseID *string, payload []byte, at time.Time) error
	MarkRequestFailed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error
}

// Resolver picks the credential for (organization, user).
type Resolver interface {
	Resolve(ctx context.Context, orgID, userID uuid.UUID) (*models.APIKey, error)
}

// Vault decrypts stored provider credentials.
type Vault interface {
	Decrypt(blob string) (string, error)
}

// Tracker resolves sessions and accumulates their counters.
type Tracker interface {
	ResolveOrCreate(ctx context.Context, userID uuid.UUID, token string) (*models.Session, bool, error)
	AddUsage(ctx context.Context, sessionID uuid.UUID, tokens int64) error
}

// Ledger prices and records token usage.
type Ledger interface {
	Record(ctx context.Context, requestID uuid.UUID, model string, inputTokens, outputTokens, totalTokens int) (*models.UsageLog, error)
}

// Upstream issues the provider call.
type Upstream interface {
	CreateResponse(ctx context.Context, apiKey string, req *upstream.Request) (*upstream.Result, error)
	StreamResponse(ctx context.Context, apiKey string, req *upstream.Request) (upstream.Stream, error)
}

// Emit relays one marshaled stream chunk to the caller. An error means
// the caller is gone and the stream must be aborted.
type Emit func(data []byte) error

// Input is one authenticated inbound request.
type Input struct {
	OrgID          uuid.UUID
	ExternalUserID string
	SessionToken   string
	Payload        *upstream.Request
}

// Outcome identifies the attributed request for the caller.
type Outcome struct {
	RequestID    string
	SessionToken string
	Result       *upstream.Result
}

type Manager struct {
	store    Store
	resolver Resolver
	vault    Vault
	tracker  Tracker
	ledger   Ledger
	client   Upstream
	metrics  *metrics.Metrics
	logger   *slog.Logger

	maxRetries     int
	retryBaseDelay time.Duration
}

type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
}

func NewManager(store Store, res Resolver, v Vault, tr Tracker, led Ledger, client Upstream, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Manager {
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 250 * time.Millisecond
	}
	return &Manager{
		store:          store,
		resolver:       res,
		vault:          v,
		tracker:        tr,
		ledger:         led,
		client:         client,
		metrics:        m,
		logger:         logger,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// prepared is the state shared by the buffered and streaming paths
// once the request row exists.
type prepared struct {
	request      *models.Request
	session      *models.Session
	apiKey       string
	sessionToken string
}

// prepare runs the pre-forwarding pipeline: ensure the user row exists,
// resolve the session, pick and decrypt the credential, resolve the
// persona, and persist the request row in its created state. Failures
// here happen before the row exists and surface directly to the caller.
func (m *Manager) prepare(ctx context.Context, in Input) (*prepared, error) {
	if err := in.Payload.Validate(); err != nil {
		return nil, err
	}

	// User creation is completed here, before resolution, so two
	// concurrent first-requests from a new external id cannot race the
	// resolver.
	user, err := m.store.EnsureUser(ctx, in.OrgID, in.ExternalUserID)
	if err != nil {
		return nil, err
	}

	sess, _, err := m.tracker.ResolveOrCreate(ctx, user.ID, in.SessionToken)
	if err != nil {
		return nil, err
	}

	key, err := m.resolver.Resolve(ctx, in.OrgID, user.ID)
	if err != nil {
		return nil, err
	}

	plaintext, err := m.vault.Decrypt(key.EncryptedKey)
	if err != nil {
		// Possible key-rotation or data-corruption signal.
		m.logger.Error("credential decryption failed",
			"api_key_id", key.ID,
			"organization_id", in.OrgID)
		return nil, err
	}

	var personaID *uuid.UUID
	if in.Payload.PersonaID != "" {
		pid, parseErr := uuid.Parse(in.Payload.PersonaID)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: invalid id %q", ErrPersonaNotFound, in.Payload.PersonaID)
		}
		persona, pErr := m.store.GetActivePersona(ctx, in.OrgID, pid)
		if pErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrPersonaNotFound, in.Payload.PersonaID)
		}
		in.Payload.Instructions = persona.Content
		personaID = &persona.ID
	}

	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: marshal payload: %w", err)
	}

	row := &models.Request{
		ID:             uuid.New(),
		RequestID:      NewRequestID(),
		SessionID:      sess.ID,
		UserID:         user.ID,
		APIKeyID:       key.ID,
		PersonaID:      personaID,
		Model:          in.Payload.Model,
		RequestPayload: payload,
		Status:         models.StatusCreated,
	}
	if err := m.store.CreateRequest(ctx, row); err != nil {
		return nil, err
	}

	return &prepared{
		request:      row,
		session:      sess,
		apiKey:       plaintext,
		sessionToken: sess.Token,
	}, nil
}

// Execute runs a buffered request end to end.
func (m *Manager) Execute(ctx context.Context, in Input) (*Outcome, error) {
	p, err := m.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := m.store.SetRequestStatus(ctx, p.request.ID, models.StatusForwarding); err != nil {
		m.fail(p.request.ID, err.Error())
		return nil, err
	}

	result, err := m.forwardWithRetry(ctx, p.apiKey, in.Payload)
	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			err = ErrCancelled
			msg = ErrCancelled.Error()
		}
		m.fail(p.request.ID, msg)
		m.metrics.ObserveRequest(models.StatusFailed, time.Since(start).Seconds())
		return &Outcome{RequestID: p.request.RequestID, SessionToken: p.sessionToken}, err
	}

	m.complete(ctx, p, result)
	m.metrics.ObserveRequest(models.StatusCompleted, time.Since(start).Seconds())

	return &Outcome{
		RequestID:    p.request.RequestID,
		SessionToken: p.sessionToken,
		Result:       result,
	}, nil
}

// ExecuteStream runs a streaming request, relaying chunks through emit
// in arrival order while accumulating the full text and final usage for
// persistence. Caller disconnects abort the upstream call and terminate
// the request as failed with a cancellation message.
func (m *Manager) ExecuteStream(ctx context.Context, in Input, emit Emit) (*Outcome, error) {
	p, err := m.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	out := &Outcome{RequestID: p.request.RequestID, SessionToken: p.sessionToken}

	start := time.Now()
	if err := m.store.SetRequestStatus(ctx, p.request.ID, models.StatusForwarding); err != nil {
		m.fail(p.request.ID, err.Error())
		return out, err
	}

	stream, err := m.openStreamWithRetry(ctx, p.apiKey, in.Payload)
	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			err = ErrCancelled
			msg = ErrCancelled.Error()
		}
		m.fail(p.request.ID, msg)
		m.metrics.ObserveRequest(models.StatusFailed, time.Since(start).Seconds())
		return out, err
	}
	defer stream.Close()

	if err := m.store.SetRequestStatus(ctx, p.request.ID, models.StatusStreaming); err != nil {
		m.fail(p.request.ID, err.Error())
		return out, err
	}

	var (
		text       strings.Builder
		usage      upstream.Usage
		responseID string
		model      string
	)

	for {
		chunk, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			if ctx.Err() != nil {
				m.fail(p.request.ID, "request cancelled by caller during streaming")
				m.metrics.ObserveRequest(models.StatusFailed, time.Since(start).Seconds())
				return out, ErrCancelled
			}
			m.fail(p.request.ID, recvErr.Error())
			m.metrics.ObserveRequest(models.StatusFailed, time.Since(start).Seconds())
			return out, fmt.Errorf("lifecycle: stream: %w", recvErr)
		}

		if chunk.ID != "" {
			responseID = chunk.ID
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = upstream.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			text.WriteString(choice.Delta.Content)
		}

		data, marshalErr := json.Marshal(chunk)
		if marshalErr != nil {
			continue
		}
		if emitErr := emit(data); emitErr != nil {
			// The caller is gone; stop pulling from upstream promptly.
			m.fail(p.request.ID, "request cancelled by caller during streaming")
			m.metrics.ObserveRequest(models.StatusFailed, time.Since(start).Seconds())
			return out, ErrCancelled
		}
	}

	if model == "" {
		model = in.Payload.Model
	}
	result := &upstream.Result{
		ResponseID: responseID,
		Model:      model,
		Text:       text.String(),
		Usage:      usage,
	}

	m.complete(ctx, p, result)
	m.metrics.ObserveRequest(models.StatusCompleted, time.Since(start).Seconds())

	out.Result = result
	return out, nil
}

// forwardWithRetry makes the buffered upstream call, retrying only
// transient network-level failures with exponential backoff. Provider
// application errors surface immediately: retrying a non-idempotent
// generation call risks duplicate billable work.
func (m *Manager) forwardWithRetry(ctx context.Context, apiKey string, payload *upstream.Request) (*upstream.Result, error) {
	var lastErr error
	delay := m.retryBaseDelay

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			m.logger.Warn("retrying upstream call after transient failure",
				"attempt", attempt,
				"error", lastErr)
		}

		result, err := m.client.CreateResponse(ctx, apiKey, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !upstream.IsTransient(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (m *Manager) openStreamWithRetry(ctx context.Context, apiKey string, payload *upstream.Request) (upstream.Stream, error) {
	var lastErr error
	delay := m.retryBaseDelay

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			m.logger.Warn("retrying upstream stream open after transient failure",
				"attempt", attempt,
				"error", lastErr)
		}

		stream, err := m.client.StreamResponse(ctx, apiKey, payload)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		if !upstream.IsTransient(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

// complete moves a request to its terminal completed state, records
// usage, and accumulates session counters. Accounting problems are
// logged, never allowed to block response delivery.
func (m *Manager) complete(ctx context.Context, p *prepared, result *upstream.Result) {
	// Terminal writes use a detached context so a caller disconnect
	// after delivery cannot orphan the row.
	dbCtx, cancel := detachedContext(ctx)
	defer cancel()

	payload, err := json.Marshal(result)
	if err != nil {
		payload = nil
	}

	var responseID *string
	if result.ResponseID != "" {
		responseID = &result.ResponseID
	}

	if err := m.store.MarkRequestCompleted(dbCtx, p.request.ID, responseID, payload, time.Now().UTC()); err != nil {
		m.logger.Error("failed to persist completed request",
			"request_id", p.request.RequestID,
			"error", err)
	}

	entry, err := m.ledger.Record(dbCtx, p.request.ID, result.Model, result.Usage.InputTokens, result.Usage.OutputTokens, result.Usage.TotalTokens)
	if err != nil {
		m.logger.Error("failed to record usage",
			"request_id", p.request.RequestID,
			"error", err)
	} else {
		m.metrics.ObserveUsage(entry.InputTokens, entry.OutputTokens, entry.CostMicroUSD)
	}

	if err := m.tracker.AddUsage(dbCtx, p.session.ID, int64(result.Usage.TotalTokens)); err != nil {
		m.logger.Error("failed to accumulate session usage",
			"session_id", p.session.ID,
			"error", err)
	}
}

// fail moves a request to its terminal failed state. It runs on a
// detached context: the inbound context may already be cancelled, and
// an orphaned non-terminal row is a data-integrity bug.
func (m *Manager) fail(id uuid.UUID, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.store.MarkRequestFailed(ctx, id, msg, time.Now().UTC()); err != nil {
		m.logger.Error("failed to mark request failed",
			"id", id,
			"error", err)
	}
}

// detachedContext returns a context that survives cancellation of the
// request context but still carries a bounded deadline.
func detachedContext(context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// NewRequestID mints an externally visible request identifier.
func NewRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
