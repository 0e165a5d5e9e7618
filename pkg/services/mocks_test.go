package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ledger-engine/pkg/apperrors"
	"github.com/ekaya-inc/ledger-engine/pkg/models"
	"github.com/ekaya-inc/ledger-engine/pkg/repositories"
)

// fakeTxRunner executes the function directly. Service-level tests exercise
// transaction semantics through the repository fakes.
type fakeTxRunner struct {
	beginErr error
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.beginErr != nil {
		return f.beginErr
	}
	return fn(ctx)
}

type fakeAllocator struct {
	counters map[string]int64
	err      error
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{counters: map[string]int64{}}
}

func (f *fakeAllocator) NextVersion(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	key := projectID.String() + "/" + entityType + "/" + entityID
	f.counters[key]++
	return f.counters[key], nil
}

var _ repositories.VersionAllocator = (*fakeAllocator)(nil)

type fakeLedgerRepo struct {
	entries []*models.LedgerEntry
}

func (f *fakeLedgerRepo) Append(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now().UTC()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLedgerRepo) GetByID(ctx context.Context, projectID, id uuid.UUID) (*models.LedgerEntry, error) {
	for _, e := range f.entries {
		if e.ProjectID == projectID && e.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("ledger entry %s: %w", id, apperrors.ErrNotFound)
}

func (f *fakeLedgerRepo) GetByEntityVersion(ctx context.Context, projectID uuid.UUID, entityType, entityID string, version int64) (*models.LedgerEntry, error) {
	for _, e := range f.entries {
		if e.ProjectID == projectID && e.EntityType == entityType && e.EntityID == entityID && e.Version == version {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%s %s version %d: %w", entityType, entityID, version, apperrors.ErrNotFound)
}

func (f *fakeLedgerRepo) List(ctx context.Context, projectID uuid.UUID, filter models.LedgerFilter, page models.Page) ([]*models.LedgerEntry, error) {
	var out []*models.LedgerEntry
	for _, e := range f.entries {
		if e.ProjectID != projectID {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if filter.Event != "" && e.Event != filter.Event {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

var _ repositories.LedgerRepository = (*fakeLedgerRepo)(nil)

type fakeEntityRepo struct {
	entities map[string]*models.Entity
}

func newFakeEntityRepo() *fakeEntityRepo {
	return &fakeEntityRepo{entities: map[string]*models.Entity{}}
}

func entityKey(projectID uuid.UUID, entityType, entityID string) string {
	return projectID.String() + "/" + entityType + "/" + entityID
}

func (f *fakeEntityRepo) Get(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (*models.Entity, error) {
	e, ok := f.entities[entityKey(projectID, entityType, entityID)]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", entityType, entityID, apperrors.ErrNotFound)
	}
	clone := *e
	return &clone, nil
}

func (f *fakeEntityRepo) Exists(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (bool, error) {
	_, ok := f.entities[entityKey(projectID, entityType, entityID)]
	return ok, nil
}

func (f *fakeEntityRepo) Insert(ctx context.Context, entity *models.Entity) error {
	now := time.Now().UTC()
	entity.CreatedAt = now
	entity.UpdatedAt = now
	clone := *entity
	f.entities[entityKey(entity.ProjectID, entity.EntityType, entity.EntityID)] = &clone
	return nil
}

func (f *fakeEntityRepo) Update(ctx context.Context, entity *models.Entity) error {
	key := entityKey(entity.ProjectID, entity.EntityType, entity.EntityID)
	if _, ok := f.entities[key]; !ok {
		return fmt.Errorf("%s %s: %w", entity.EntityType, entity.EntityID, apperrors.ErrNotFound)
	}
	entity.UpdatedAt = time.Now().UTC()
	clone := *entity
	f.entities[key] = &clone
	return nil
}

func (f *fakeEntityRepo) Delete(ctx context.Context, projectID uuid.UUID, entityType, entityID string) error {
	key := entityKey(projectID, entityType, entityID)
	if _, ok := f.entities[key]; !ok {
		return fmt.Errorf("%s %s: %w", entityType, entityID, apperrors.ErrNotFound)
	}
	delete(f.entities, key)
	return nil
}

var _ repositories.EntityRepository = (*fakeEntityRepo)(nil)

type fakeAccess struct {
	granted  map[string]bool
	allowAll bool
}

func allowAllAccess() *fakeAccess {
	return &fakeAccess{allowAll: true}
}

func (f *fakeAccess) ActorCan(ctx context.Context, capability string) bool {
	return f.allowAll || f.granted[capability]
}

var _ AccessChecker = (*fakeAccess)(nil)
