package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/gateway/lifecycle"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/rating"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/resolver"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/upstream"
	"github.com/amotivv-inc/memory-box-inference/internal/gateway/vault"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// ResponsesHandler serves the completion proxy surface.
type ResponsesHandler struct {
	manager *lifecycle.Manager
	ratings *rating.RatingStore
	prober  Prober
	logger  *slog.Logger
}

// Prober checks that an organization credential still works upstream.
type Prober interface {
	Probe(ctx context.Context, orgID uuid.UUID) error
}

func NewResponsesHandler(manager *lifecycle.Manager, ratings *rating.RatingStore, prober Prober, logger *slog.Logger) *ResponsesHandler {
	return &ResponsesHandler{
		manager: manager,
		ratings: ratings,
		prober:  prober,
		logger:  logger,
	}
}

// Create handles POST /v1/responses.
func (h *ResponsesHandler) Create(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}

	var payload upstream.Request
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := lifecycle.Input{
		OrgID:          org.OrgID,
		ExternalUserID: userID,
		SessionToken:   r.Header.Get("X-Session-ID"),
		Payload:        &payload,
	}

	if payload.Stream {
		h.stream(w, r, in)
		return
	}

	out, err := h.manager.Execute(r.Context(), in)
	if err != nil {
		h.writeLifecycleError(w, out, err)
		return
	}

	w.Header().Set("X-Request-ID", out.RequestID)
	w.Header().Set("X-Session-ID", out.SessionToken)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          out.Result.ResponseID,
		"request_id":  out.RequestID,
		"session_id":  out.SessionToken,
		"model":       out.Result.Model,
		"output_text": out.Result.Text,
		"usage":       out.Result.Usage,
	})
}

func (h *ResponsesHandler) stream(w http.ResponseWriter, r *http.Request, in lifecycle.Input) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Attribution headers must go out before the first chunk.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	headersSent := false
	emit := func(data []byte) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	out, err := h.manager.ExecuteStream(r.Context(), in, func(data []byte) error {
		headersSent = true
		return emit(data)
	})
	if err != nil {
		if errors.Is(err, lifecycle.ErrCancelled) {
			// Client is gone; nothing left to write.
			return
		}
		if !headersSent {
			h.writeLifecycleError(w, out, err)
			return
		}
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", jsonString(errorBody{Error: "upstream stream failed"}))
		flusher.Flush()
		return
	}

	// Trailing metadata event carries the attribution ids and final
	// usage that stream consumers cannot get from headers.
	meta := map[string]interface{}{
		"request_id": out.RequestID,
		"session_id": out.SessionToken,
		"usage":      out.Result.Usage,
	}
	fmt.Fprintf(w, "event: metadata\ndata: %s\n\n", jsonString(meta))
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (h *ResponsesHandler) writeLifecycleError(w http.ResponseWriter, out *lifecycle.Outcome, err error) {
	if out != nil {
		w.Header().Set("X-Request-ID", out.RequestID)
		w.Header().Set("X-Session-ID", out.SessionToken)
	}

	switch {
	case errors.Is(err, resolver.ErrNoCredential):
		writeError(w, http.StatusForbidden, "no API key configured for this user or organization")
	case errors.Is(err, vault.ErrDecryption):
		h.logger.Error("credential decryption failure surfaced to caller")
		writeError(w, http.StatusInternalServerError, "credential error")
	case errors.Is(err, lifecycle.ErrPersonaNotFound):
		writeError(w, http.StatusNotFound, "persona not found")
	case errors.Is(err, lifecycle.ErrCancelled):
		// Client disconnected; response is undeliverable.
	default:
		if code := upstream.StatusCode(err); code > 0 {
			writeError(w, code, err.Error())
			return
		}
		if upstream.IsTransient(err) {
			writeError(w, http.StatusBadGateway, "upstream unavailable")
			return
		}
		if strings.Contains(err.Error(), "required") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type rateBody struct {
	Rating   int     `json:"rating"`
	Feedback *string `json:"feedback,omitempty"`
}

// Rate handles POST /v1/responses/{id}/rate. The id may be either the
// proxy request id or the upstream response id.
func (h *ResponsesHandler) Rate(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")

	var body rateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.ratings.Rate(r.Context(), org.OrgID, id, body.Rating, body.Feedback)
	if err != nil {
		switch {
		case errors.Is(err, rating.ErrInvalidRating):
			writeError(w, http.StatusBadRequest, "rating must be 1 or -1")
		case errors.Is(err, rating.ErrNotFound):
			writeError(w, http.StatusNotFound, "response not found")
		case errors.Is(err, rating.ErrNotRatable):
			writeError(w, http.StatusConflict, "only completed responses can be rated")
		default:
			h.logger.Error("rating failed", "lookup_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": req.RequestID,
		"rating":     *req.Rating,
		"rated_at":   req.RatedAt,
	})
}

// Health handles GET /v1/responses/health: a minimal upstream call
// with the organization's own credential proving the full path works.
func (h *ResponsesHandler) Health(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.prober.Probe(r.Context(), org.OrgID); err != nil {
		if errors.Is(err, resolver.ErrNoCredential) {
			writeError(w, http.StatusForbidden, "no API key configured for this organization")
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func jsonString(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
