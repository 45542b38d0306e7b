package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

type contextKey string

const orgContextKey contextKey = "organization"

// OrgContext is the authenticated tenant identity extracted from the
// bearer token.
type OrgContext struct {
	OrgID   uuid.UUID
	OrgName string
}

// OrgFromContext returns the authenticated organization, if any.
func OrgFromContext(ctx context.Context) (*OrgContext, bool) {
	org, ok := ctx.Value(orgContextKey).(*OrgContext)
	return org, ok
}

// orgClaims is the expected token payload: sub carries the
// organization id, org_name is informational.
type orgClaims struct {
	OrgName string `json:"org_name,omitempty"`
	jwt.RegisteredClaims
}

// OrgGetter confirms a token's organization actually exists.
type OrgGetter interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error)
}

type Middleware struct {
	jwtSecret []byte
	orgs      OrgGetter
	logger    *slog.Logger
}

func NewMiddleware(jwtSecret []byte, orgs OrgGetter, logger *slog.Logger) *Middleware {
	return &Middleware{jwtSecret: jwtSecret, orgs: orgs, logger: logger}
}

// Auth validates the HS256 bearer token and attaches the organization
// identity to the request context.
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims := &orgClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return m.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "token expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		orgID, err := uuid.Parse(claims.Subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token subject")
			return
		}

		org, err := m.orgs.GetOrganization(r.Context(), orgID)
		if err != nil {
			// A validly signed token for a deleted org is still a 401.
			writeError(w, http.StatusUnauthorized, "unknown organization")
			return
		}

		ctx := context.WithValue(r.Context(), orgContextKey, &OrgContext{
			OrgID:   org.ID,
			OrgName: org.Name,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CORS handles cross-origin preflight and headers.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-Session-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Session-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs every request with outcome and latency.
func (m *Middleware) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status)
	})
}

// statusRecorder captures the response status for logging. Flush is
// forwarded so streaming responses keep working behind the wrapper.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
