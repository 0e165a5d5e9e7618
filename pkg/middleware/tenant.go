package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ledger-engine/pkg/auth"
	"github.com/ekaya-inc/ledger-engine/pkg/database"
)

// TenantScope returns middleware that resolves the {pid} path segment,
// verifies it against the token's project claim, and attaches a
// tenant-scoped database connection to the request context.
func TenantScope(provider *database.TenantScopeProvider, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			pid := r.PathValue("pid")
			projectID, err := uuid.Parse(pid)
			if err != nil {
				http.Error(w, "invalid project id", http.StatusBadRequest)
				return
			}

			if claims, ok := auth.GetClaims(r.Context()); ok && claims.ProjectID != "" && claims.ProjectID != pid {
				http.Error(w, "project mismatch", http.StatusForbidden)
				return
			}

			ctx, cleanup, err := provider.WithTenantScope(r.Context(), projectID)
			if err != nil {
				logger.Error("Failed to acquire tenant scope",
					zap.String("project_id", pid),
					zap.Error(err))
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			defer cleanup()

			next(w, r.WithContext(ctx))
		}
	}
}
