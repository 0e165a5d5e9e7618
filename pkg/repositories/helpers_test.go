//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ledger-engine/pkg/database"
	"github.com/ekaya-inc/ledger-engine/pkg/testhelpers"
)

// tenantContext returns a context scoped to projectID, backed by the shared
// test database. Cleanup releases the scoped connection.
func tenantContext(t *testing.T, projectID uuid.UUID) context.Context {
	t.Helper()

	db := testhelpers.GetEngineDB(t)
	provider := database.NewTenantScopeProvider(db.DB)
	ctx, cleanup, err := provider.WithTenantScope(context.Background(), projectID)
	if err != nil {
		t.Fatalf("Failed to create tenant scope: %v", err)
	}
	t.Cleanup(cleanup)
	return ctx
}
