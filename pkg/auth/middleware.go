package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ledger-engine/pkg/config"
	"github.com/ekaya-inc/ledger-engine/pkg/models"
)

// BatchHeader carries an optional caller-chosen correlation id stamped onto
// every ledger entry the request writes. Callers performing one logical
// operation across several requests send the same id on each.
const BatchHeader = "X-Batch-Id"

// Middleware authenticates requests with HMAC-signed bearer tokens.
type Middleware struct {
	signingKey []byte
	enabled    bool
	logger     *zap.Logger
}

// NewMiddleware creates an auth middleware from configuration.
func NewMiddleware(cfg config.AuthConfig, logger *zap.Logger) *Middleware {
	return &Middleware{
		signingKey: []byte(cfg.SigningKey),
		enabled:    cfg.EnableVerification,
		logger:     logger.Named("auth"),
	}
}

// RequireAuth wraps a handler with bearer token verification. Verified
// claims and the actor identity are placed in the request context. With
// verification disabled (local development) a wildcard system actor is
// injected instead.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			ctx := SetClaims(r.Context(), &Claims{Capabilities: []string{"*"}})
			next(w, r.WithContext(m.withBatch(ctx, r)))
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return m.signingKey, nil
		})
		if err != nil || !token.Valid {
			m.logger.Debug("Rejected bearer token", zap.Error(err))
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}

		ctx := SetClaims(r.Context(), claims)
		if claims.Subject != "" {
			if claims.ActorType == "" || claims.ActorType == "user" {
				ctx = models.WithUserActor(ctx, claims.Subject)
			} else {
				actorType := claims.ActorType
				actorID := claims.Subject
				ctx = models.WithActor(ctx, models.ActorContext{
					ActorType: &actorType,
					ActorID:   &actorID,
				})
			}
		}

		next(w, r.WithContext(m.withBatch(ctx, r)))
	}
}

// withBatch attaches the request's batch correlation id to the actor
// context, if the caller sent one. Applied after the actor is set so the
// identity is preserved. A malformed id is ignored rather than rejected:
// batch correlation is advisory metadata.
func (m *Middleware) withBatch(ctx context.Context, r *http.Request) context.Context {
	v := r.Header.Get(BatchHeader)
	if v == "" {
		return ctx
	}
	batchID, err := uuid.Parse(v)
	if err != nil {
		m.logger.Debug("Ignoring malformed batch id header", zap.String("value", v))
		return ctx
	}
	return models.WithBatch(ctx, batchID)
}
