package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ledger-engine/pkg/apperrors"
	"github.com/ekaya-inc/ledger-engine/pkg/models"
	"github.com/ekaya-inc/ledger-engine/pkg/repositories"
	"github.com/ekaya-inc/ledger-engine/pkg/snapshot"
)

// RollbackService reverts an entity to the state recorded by a prior ledger
// entry. History is never rewritten: a successful rollback applies the prior
// state through the normal entity write path, which captures a new ledger
// entry whose RolledBackFromID points at the entry being reversed.
//
// A rollback targets the chosen entry's attribute snapshot directly. An
// operator may jump to any historical version; intermediate versions are not
// replayed.
type RollbackService interface {
	// Rollback reverts the entity described by entryID and returns the new
	// ledger entry. Rejections are distinguishable:
	//   - apperrors.ErrNotFound: no such ledger entry
	//   - apperrors.ErrUnsupportedEntityType: type not enabled for rollback
	//   - apperrors.ErrForbidden: actor lacks rollback or update capability
	//   - *apperrors.SchemaDriftError: tracked-field set changed since entry
	//   - *apperrors.StateConflictError: entity existence doesn't match
	//   - apperrors.ErrLockTimeout: transient, safe to retry
	Rollback(ctx context.Context, projectID, entryID uuid.UUID) (*models.LedgerEntry, error)
}

type rollbackService struct {
	ledger   repositories.LedgerRepository
	entities repositories.EntityRepository
	writer   EntityService
	registry *Registry
	access   AccessChecker
	logger   *zap.Logger
}

// NewRollbackService creates a new RollbackService.
func NewRollbackService(ledger repositories.LedgerRepository, entities repositories.EntityRepository, writer EntityService, registry *Registry, access AccessChecker, logger *zap.Logger) RollbackService {
	return &rollbackService{
		ledger:   ledger,
		entities: entities,
		writer:   writer,
		registry: registry,
		access:   access,
		logger:   logger.Named("rollback-service"),
	}
}

var _ RollbackService = (*rollbackService)(nil)

func (s *rollbackService) Rollback(ctx context.Context, projectID, entryID uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.ledger.GetByID(ctx, projectID, entryID)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}

	cfg, ok := s.registry.Lookup(entry.EntityType)
	if !ok || !cfg.RollbackEnabled {
		return nil, fmt.Errorf("rollback of %s %s: %w", entry.EntityType, entry.EntityID, apperrors.ErrUnsupportedEntityType)
	}

	// Both the generic rollback capability and the type's update capability
	// must hold.
	if !s.access.ActorCan(ctx, CapabilityLedgerRollback) || !s.access.ActorCan(ctx, UpdateCapability(entry.EntityType)) {
		return nil, fmt.Errorf("rollback of %s %s: %w", entry.EntityType, entry.EntityID, apperrors.ErrForbidden)
	}

	if err := s.checkSchemaDrift(entry, cfg.TrackedFields); err != nil {
		return nil, err
	}

	if err := s.checkStateConflict(ctx, entry); err != nil {
		return nil, err
	}

	// The write-back flows through the normal entity write path so capture
	// fires normally; the marker stamps the new entry's provenance. The
	// write path runs atomically, so a race lost after validation fails the
	// whole operation without partial state.
	ctx = models.WithRollbackProvenance(ctx, entry.ID)

	var newEntry *models.LedgerEntry
	switch entry.Event {
	case models.LedgerEventCreate:
		// Reversing a create removes the entity.
		newEntry, err = s.writer.Delete(ctx, projectID, entry.EntityType, entry.EntityID)
	case models.LedgerEventUpdate:
		var target map[string]any
		target, err = s.reconstructTarget(ctx, entry)
		if err == nil {
			_, newEntry, err = s.writer.Update(ctx, projectID, entry.EntityType, entry.EntityID, target, entry.MediaBefore)
		}
	case models.LedgerEventDelete:
		_, newEntry, err = s.writer.Create(ctx, projectID, entry.EntityType, entry.EntityID, entry.Before, entry.MediaBefore)
	default:
		return nil, fmt.Errorf("rollback: unknown ledger event %q", entry.Event)
	}
	if err != nil {
		// The existence check passed, so not-found here means a concurrent
		// delete won the race after validation. Report the state conflict,
		// not a missing ledger entry.
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, &apperrors.StateConflictError{
				EntityType: entry.EntityType,
				EntityID:   entry.EntityID,
				Exists:     false,
				WantExists: true,
			}
		}
		return nil, fmt.Errorf("rollback of %s %s: %w", entry.EntityType, entry.EntityID, err)
	}
	if newEntry == nil {
		// The entity already matches the target snapshot; nothing was
		// written and no version was consumed.
		return nil, fmt.Errorf("rollback of %s %s: entity already matches the target state: %w",
			entry.EntityType, entry.EntityID, apperrors.ErrEmptyDiff)
	}

	s.logger.Info("Rolled back entity",
		zap.String("entity_type", entry.EntityType),
		zap.String("entity_id", entry.EntityID),
		zap.String("rolled_back_from", entry.ID.String()),
		zap.Int64("new_version", newEntry.Version))

	return newEntry, nil
}

// checkSchemaDrift refuses rollback when the entity type's tracked-field set
// no longer matches the one fingerprinted at entry-write time. Writing
// attributes that no longer exist, or omitting now-required ones, would
// corrupt the entity.
func (s *rollbackService) checkSchemaDrift(entry *models.LedgerEntry, trackedNow []string) error {
	if snapshot.SignatureMatches(entry.SchemaSignature, entry.EntityType, trackedNow) {
		return nil
	}

	// Field-level detail is reconstructed from the entry's recorded
	// snapshots, which hold the tracked fields present at write time.
	recorded := snapshot.Keys(entry.After)
	if entry.Event == models.LedgerEventDelete {
		recorded = snapshot.Keys(entry.Before)
	}
	missing, extra := snapshot.FieldDrift(recorded, trackedNow)
	return &apperrors.SchemaDriftError{
		EntityType:    entry.EntityType,
		MissingFields: missing,
		ExtraFields:   extra,
	}
}

// checkStateConflict verifies the entity's current existence matches what
// the rollback expects: reversing a create or update needs a live entity,
// undeleting needs the entity to be gone.
func (s *rollbackService) checkStateConflict(ctx context.Context, entry *models.LedgerEntry) error {
	exists, err := s.entities.Exists(ctx, entry.ProjectID, entry.EntityType, entry.EntityID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}

	wantExists := entry.Event != models.LedgerEventDelete
	if exists != wantExists {
		return &apperrors.StateConflictError{
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Exists:     exists,
			WantExists: wantExists,
		}
	}
	return nil
}

// reconstructTarget builds the attribute mapping an update rollback applies.
// When the type's rollback policy covers all tracked fields the target is
// the entry's before snapshot as-is; otherwise only the eligible fields are
// reverted on top of the entity's current state.
func (s *rollbackService) reconstructTarget(ctx context.Context, entry *models.LedgerEntry) (map[string]any, error) {
	eligible := s.registry.RollbackFields(entry.EntityType)
	cfg, _ := s.registry.Lookup(entry.EntityType)
	if len(eligible) == len(cfg.TrackedFields) {
		return entry.Before, nil
	}

	current, err := s.entities.Get(ctx, entry.ProjectID, entry.EntityType, entry.EntityID)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}

	target := make(map[string]any, len(current.Attributes))
	for k, v := range current.Attributes {
		target[k] = v
	}
	for _, f := range eligible {
		if v, ok := entry.Before[f]; ok {
			target[f] = v
		} else {
			delete(target, f)
		}
	}
	return target, nil
}
