//go:build integration

package repositories

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ledger-engine/pkg/apperrors"
	"github.com/ekaya-inc/ledger-engine/pkg/database"
	"github.com/ekaya-inc/ledger-engine/pkg/models"
	"github.com/ekaya-inc/ledger-engine/pkg/snapshot"
	"github.com/ekaya-inc/ledger-engine/pkg/testhelpers"
)

func strPtr(s string) *string { return &s }

func newCreateEntry(projectID uuid.UUID, entityType, entityID string, version int64) *models.LedgerEntry {
	return &models.LedgerEntry{
		ProjectID:       projectID,
		EntityType:      entityType,
		EntityID:        entityID,
		Event:           models.LedgerEventCreate,
		Version:         version,
		After:           models.Attributes{"name": "Alice"},
		SchemaSignature: snapshot.Signature(entityType, []string{"name"}),
	}
}

func TestLedgerRepository_AppendAndGetByID(t *testing.T) {
	repo := NewLedgerRepository()
	projectID := uuid.New()
	ctx := tenantContext(t, projectID)
	batchID := uuid.New()

	entry := &models.LedgerEntry{
		ProjectID:       projectID,
		EntityType:      "user",
		EntityID:        "u1",
		Event:           models.LedgerEventUpdate,
		Version:         1,
		Before:          models.Attributes{"name": "Alice", "email": "a@example.com", "age": json.Number("30")},
		After:           models.Attributes{"name": "Alice", "email": "b@example.com", "age": json.Number("30")},
		ChangedFields:   []string{"email"},
		MediaBefore:     models.MediaRefs{"avatar": {"f1"}},
		MediaAfter:      models.MediaRefs{"avatar": {"f2"}},
		ActorType:       strPtr("user"),
		ActorID:         strPtr("admin-1"),
		BatchID:         &batchID,
		SchemaSignature: snapshot.Signature("user", []string{"name", "email"}),
		Meta:            map[string]string{"source": "admin-ui"},
	}
	require.NoError(t, repo.Append(ctx, entry))
	require.NotEqual(t, uuid.Nil, entry.ID)

	got, err := repo.GetByID(ctx, projectID, entry.ID)
	require.NoError(t, err)

	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, "user", got.EntityType)
	assert.Equal(t, "u1", got.EntityID)
	assert.Equal(t, models.LedgerEventUpdate, got.Event)
	assert.EqualValues(t, 1, got.Version)
	assert.Equal(t, "a@example.com", got.Before["email"])
	assert.Equal(t, "b@example.com", got.After["email"])
	// Snapshots reload with json.Number, matching the normalized form they
	// were written with.
	assert.Equal(t, json.Number("30"), got.After["age"])
	assert.Equal(t, []string{"email"}, got.ChangedFields)
	assert.Equal(t, models.MediaRefs{"avatar": {"f1"}}, got.MediaBefore)
	assert.Equal(t, models.MediaRefs{"avatar": {"f2"}}, got.MediaAfter)
	require.NotNil(t, got.ActorID)
	assert.Equal(t, "admin-1", *got.ActorID)
	require.NotNil(t, got.BatchID)
	assert.Equal(t, batchID, *got.BatchID)
	assert.Nil(t, got.RolledBackFromID)
	assert.Equal(t, entry.SchemaSignature, got.SchemaSignature)
	assert.Equal(t, map[string]string{"source": "admin-ui"}, got.Meta)
}

func TestLedgerRepository_GetByID_NotFound(t *testing.T) {
	repo := NewLedgerRepository()
	projectID := uuid.New()
	ctx := tenantContext(t, projectID)

	_, err := repo.GetByID(ctx, projectID, uuid.New())

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLedgerRepository_RejectsEmptyUpdateDiff(t *testing.T) {
	repo := NewLedgerRepository()
	projectID := uuid.New()
	ctx := tenantContext(t, projectID)

	entry := &models.LedgerEntry{
		ProjectID:       projectID,
		EntityType:      "user",
		EntityID:        "u1",
		Event:           models.LedgerEventUpdate,
		Version:         1,
		Before:          models.Attributes{"name": "Alice"},
		After:           models.Attributes{"name": "Alice"},
		MediaBefore:     models.MediaRefs{"avatar": {"f1"}},
		MediaAfter:      models.MediaRefs{"avatar": {"f1"}},
		SchemaSignature: snapshot.Signature("user", []string{"name"}),
	}

	assert.ErrorIs(t, repo.Append(ctx, entry), apperrors.ErrEmptyDiff)
}

func TestLedgerRepository_GetByEntityVersion(t *testing.T) {
	repo := NewLedgerRepository()
	projectID := uuid.New()
	ctx := tenantContext(t, projectID)

	require.NoError(t, repo.Append(ctx, newCreateEntry(projectID, "user", "u1", 1)))
	second := &models.LedgerEntry{
		ProjectID:       projectID,
		EntityType:      "user",
		EntityID:        "u1",
		Event:           models.LedgerEventUpdate,
		Version:         2,
		Before:          models.Attributes{"name": "Alice"},
		After:           models.Attributes{"name": "Bob"},
		ChangedFields:   []string{"name"},
		SchemaSignature: snapshot.Signature("user", []string{"name"}),
	}
	require.NoError(t, repo.Append(ctx, second))

	got, err := repo.GetByEntityVersion(ctx, projectID, "user", "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, "Bob", got.After["name"])

	_, err = repo.GetByEntityVersion(ctx, projectID, "user", "u1", 3)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLedgerRepository_ListFiltersAndPagination(t *testing.T) {
	repo := NewLedgerRepository()
	projectID := uuid.New()
	ctx := tenantContext(t, projectID)
	batchID := uuid.New()

	require.NoError(t, repo.Append(ctx, newCreateEntry(projectID, "user", "u1", 1)))
	require.NoError(t, repo.Append(ctx, newCreateEntry(projectID, "user", "u2", 1)))
	require.NoError(t, repo.Append(ctx, newCreateEntry(projectID, "role", "r1", 1)))

	deleted := &models.LedgerEntry{
		ProjectID:       projectID,
		EntityType:      "user",
		EntityID:        "u2",
		Event:           models.LedgerEventDelete,
		Version:         2,
		Before:          models.Attributes{"name": "Alice"},
		ChangedFields:   []string{"name"},
		ActorType:       strPtr("user"),
		ActorID:         strPtr("admin-9"),
		BatchID:         &batchID,
		SchemaSignature: snapshot.Signature("user", []string{"name"}),
	}
	require.NoError(t, repo.Append(ctx, deleted))

	all, err := repo.List(ctx, projectID, models.LedgerFilter{}, models.Page{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	// Newest first.
	assert.Equal(t, deleted.ID, all[0].ID)

	users, err := repo.List(ctx, projectID, models.LedgerFilter{EntityType: "user"}, models.Page{})
	require.NoError(t, err)
	assert.Len(t, users, 3)

	u2, err := repo.List(ctx, projectID, models.LedgerFilter{EntityType: "user", EntityID: "u2"}, models.Page{})
	require.NoError(t, err)
	assert.Len(t, u2, 2)

	deletes, err := repo.List(ctx, projectID, models.LedgerFilter{Event: models.LedgerEventDelete}, models.Page{})
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	assert.Equal(t, deleted.ID, deletes[0].ID)

	byActor, err := repo.List(ctx, projectID, models.LedgerFilter{ActorType: "user", ActorID: "admin-9"}, models.Page{})
	require.NoError(t, err)
	assert.Len(t, byActor, 1)

	byBatch, err := repo.List(ctx, projectID, models.LedgerFilter{BatchID: &batchID}, models.Page{})
	require.NoError(t, err)
	assert.Len(t, byBatch, 1)

	pageOne, err := repo.List(ctx, projectID, models.LedgerFilter{}, models.Page{Number: 1, PerPage: 3})
	require.NoError(t, err)
	assert.Len(t, pageOne, 3)
	pageTwo, err := repo.List(ctx, projectID, models.LedgerFilter{}, models.Page{Number: 2, PerPage: 3})
	require.NoError(t, err)
	assert.Len(t, pageTwo, 1)
}

func TestLedgerRepository_ListTimeWindow(t *testing.T) {
	repo := NewLedgerRepository()
	projectID := uuid.New()
	ctx := tenantContext(t, projectID)

	require.NoError(t, repo.Append(ctx, newCreateEntry(projectID, "user", "u1", 1)))
	cutoff := time.Now().UTC().Add(time.Minute)

	before, err := repo.List(ctx, projectID, models.LedgerFilter{CreatedBefore: &cutoff}, models.Page{})
	require.NoError(t, err)
	assert.Len(t, before, 1)

	after, err := repo.List(ctx, projectID, models.LedgerFilter{CreatedAfter: &cutoff}, models.Page{})
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestLedgerRepository_ProjectIsolation(t *testing.T) {
	repo := NewLedgerRepository()
	projectA := uuid.New()
	projectB := uuid.New()
	ctxA := tenantContext(t, projectA)
	ctxB := tenantContext(t, projectB)

	entry := newCreateEntry(projectA, "user", "u1", 1)
	require.NoError(t, repo.Append(ctxA, entry))

	_, err := repo.GetByID(ctxB, projectB, entry.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	entries, err := repo.List(ctxB, projectB, models.LedgerFilter{}, models.Page{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestVersionAllocator_ConcurrentWritersGetGaplessVersions drives concurrent
// transactions against one entity and verifies the allocated versions are
// exactly 1..N with no gaps or duplicates.
func TestVersionAllocator_ConcurrentWritersGetGaplessVersions(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	allocator := NewVersionAllocator()
	repo := NewLedgerRepository()
	runner := database.NewTxRunner(10 * time.Second)
	provider := database.NewTenantScopeProvider(db.DB)

	projectID := uuid.New()
	const writers = 8

	var mu sync.Mutex
	versions := make([]int64, 0, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cleanup, err := provider.WithTenantScope(context.Background(), projectID)
			if err != nil {
				t.Errorf("Failed to create tenant scope: %v", err)
				return
			}
			defer cleanup()

			err = runner.WithTx(ctx, func(ctx context.Context) error {
				v, err := allocator.NextVersion(ctx, projectID, "user", "u1")
				if err != nil {
					return err
				}
				entry := newCreateEntry(projectID, "user", "u1", v)
				entry.Event = models.LedgerEventUpdate
				entry.Before = models.Attributes{"name": "old"}
				entry.ChangedFields = []string{"name"}
				if err := repo.Append(ctx, entry); err != nil {
					return err
				}
				mu.Lock()
				versions = append(versions, v)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Transaction failed: %v", err)
			}
		}()
	}
	wg.Wait()

	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	require.Len(t, versions, writers)
	for i, v := range versions {
		assert.EqualValues(t, i+1, v)
	}
}

func TestVersionAllocator_RequiresTransaction(t *testing.T) {
	allocator := NewVersionAllocator()
	projectID := uuid.New()
	ctx := tenantContext(t, projectID)

	_, err := allocator.NextVersion(ctx, projectID, "user", "u1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction")
}

// TestVersionAllocator_RolledBackTransactionBurnsNoNumber verifies an aborted
// write releases its reserved version, so the next writer gets it.
func TestVersionAllocator_RolledBackTransactionBurnsNoNumber(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	allocator := NewVersionAllocator()
	runner := database.NewTxRunner(0)
	provider := database.NewTenantScopeProvider(db.DB)
	projectID := uuid.New()

	ctx, cleanup, err := provider.WithTenantScope(context.Background(), projectID)
	require.NoError(t, err)
	defer cleanup()

	abort := assert.AnError
	err = runner.WithTx(ctx, func(ctx context.Context) error {
		v, err := allocator.NextVersion(ctx, projectID, "user", "u1")
		if err != nil {
			return err
		}
		assert.EqualValues(t, 1, v)
		return abort
	})
	require.ErrorIs(t, err, abort)

	err = runner.WithTx(ctx, func(ctx context.Context) error {
		v, err := allocator.NextVersion(ctx, projectID, "user", "u1")
		if err != nil {
			return err
		}
		assert.EqualValues(t, 1, v)
		return nil
	})
	require.NoError(t, err)
}
