package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ledger-engine/pkg/apperrors"
	"github.com/ekaya-inc/ledger-engine/pkg/database"
	"github.com/ekaya-inc/ledger-engine/pkg/models"
	"github.com/ekaya-inc/ledger-engine/pkg/repositories"
)

// EntityService is the write path for auditable entities. Every mutation
// runs inside one transaction together with its capture, so an entity change
// without an audit trail (or vice versa) can never commit.
type EntityService interface {
	// Get returns the current state of an entity.
	Get(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (*models.Entity, error)

	// Create stores a new entity and captures a create entry.
	Create(ctx context.Context, projectID uuid.UUID, entityType, entityID string, attrs map[string]any, media models.MediaRefs) (*models.Entity, *models.LedgerEntry, error)

	// Update replaces the entity's attribute and media state and captures an
	// update entry. A save that changes no tracked data still succeeds but
	// produces no ledger entry.
	Update(ctx context.Context, projectID uuid.UUID, entityType, entityID string, attrs map[string]any, media models.MediaRefs) (*models.Entity, *models.LedgerEntry, error)

	// Delete removes the entity and captures a delete entry.
	Delete(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (*models.LedgerEntry, error)
}

type entityService struct {
	entities repositories.EntityRepository
	capture  CaptureService
	tx       database.TxRunner
	logger   *zap.Logger
}

// NewEntityService creates a new EntityService.
func NewEntityService(entities repositories.EntityRepository, capture CaptureService, tx database.TxRunner, logger *zap.Logger) EntityService {
	return &entityService{
		entities: entities,
		capture:  capture,
		tx:       tx,
		logger:   logger.Named("entity-service"),
	}
}

var _ EntityService = (*entityService)(nil)

func (s *entityService) Get(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (*models.Entity, error) {
	entity, err := s.entities.Get(ctx, projectID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return entity, nil
}

func (s *entityService) Create(ctx context.Context, projectID uuid.UUID, entityType, entityID string, attrs map[string]any, media models.MediaRefs) (*models.Entity, *models.LedgerEntry, error) {
	var entity *models.Entity
	var entry *models.LedgerEntry

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		exists, err := s.entities.Exists(ctx, projectID, entityType, entityID)
		if err != nil {
			return err
		}
		if exists {
			return &apperrors.StateConflictError{
				EntityType: entityType,
				EntityID:   entityID,
				Exists:     true,
				WantExists: false,
			}
		}

		cap := s.capture.SnapshotAbsent(projectID, entityType, entityID)

		entity = &models.Entity{
			ProjectID:  projectID,
			EntityType: entityType,
			EntityID:   entityID,
			Attributes: models.Attributes(attrs),
			Media:      media,
		}
		if err := s.entities.Insert(ctx, entity); err != nil {
			return err
		}

		entry, err = s.capture.Record(ctx, cap, models.LedgerEventCreate, attrs, media)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to create entity",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil, nil, fmt.Errorf("create entity: %w", err)
	}

	return entity, entry, nil
}

func (s *entityService) Update(ctx context.Context, projectID uuid.UUID, entityType, entityID string, attrs map[string]any, media models.MediaRefs) (*models.Entity, *models.LedgerEntry, error) {
	var entity *models.Entity
	var entry *models.LedgerEntry

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.entities.Get(ctx, projectID, entityType, entityID)
		if err != nil {
			return err
		}

		cap := s.capture.Snapshot(projectID, entityType, entityID, current.Attributes, current.Media)

		current.Attributes = models.Attributes(attrs)
		current.Media = media
		if err := s.entities.Update(ctx, current); err != nil {
			return err
		}
		entity = current

		entry, err = s.capture.Record(ctx, cap, models.LedgerEventUpdate, attrs, media)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to update entity",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil, nil, fmt.Errorf("update entity: %w", err)
	}

	return entity, entry, nil
}

func (s *entityService) Delete(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.entities.Get(ctx, projectID, entityType, entityID)
		if err != nil {
			return err
		}

		cap := s.capture.Snapshot(projectID, entityType, entityID, current.Attributes, current.Media)

		if err := s.entities.Delete(ctx, projectID, entityType, entityID); err != nil {
			return err
		}

		entry, err = s.capture.Record(ctx, cap, models.LedgerEventDelete, nil, nil)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to delete entity",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil, fmt.Errorf("delete entity: %w", err)
	}

	return entry, nil
}
