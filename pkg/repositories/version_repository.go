package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ledger-engine/pkg/database"
)

// VersionAllocator hands out gapless, strictly increasing version numbers
// per (project, entity type, entity id), starting at 1. Allocation takes a
// row-level lock on the entity's counter row that is held until the owning
// transaction commits or rolls back, so two concurrent writers can never
// interleave versions and an aborted write never burns a number.
type VersionAllocator interface {
	// NextVersion reserves the next version for the entity. It must be
	// called inside a transaction; the reservation is released on rollback.
	NextVersion(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (int64, error)
}

type versionAllocator struct{}

// NewVersionAllocator creates a new VersionAllocator.
func NewVersionAllocator() VersionAllocator {
	return &versionAllocator{}
}

var _ VersionAllocator = (*versionAllocator)(nil)

func (a *versionAllocator) NextVersion(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (int64, error) {
	// The counter read-increment-write and the ledger insert must commit or
	// roll back together, otherwise versions could gap.
	if _, ok := database.GetTx(ctx); !ok {
		return 0, fmt.Errorf("version allocation requires an open transaction")
	}
	q, ok := database.QuerierFrom(ctx)
	if !ok {
		return 0, fmt.Errorf("no database querier in context")
	}

	// The upsert locks the counter row for the remainder of the transaction.
	// A writer waiting longer than the transaction's lock_timeout fails with
	// SQLSTATE 55P03, surfaced by the transaction runner as a transient error.
	query := `
		INSERT INTO engine_ledger_versions (project_id, entity_type, entity_id, version)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (project_id, entity_type, entity_id)
		DO UPDATE SET version = engine_ledger_versions.version + 1
		RETURNING version`

	var version int64
	if err := q.QueryRow(ctx, query, projectID, entityType, entityID).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to allocate version for %s %s: %w", entityType, entityID, err)
	}

	return version, nil
}
