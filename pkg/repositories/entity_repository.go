package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ledger-engine/pkg/apperrors"
	"github.com/ekaya-inc/ledger-engine/pkg/database"
	"github.com/ekaya-inc/ledger-engine/pkg/models"
)

// EntityRepository provides data access for the generic entity store the
// capture pipeline wraps.
type EntityRepository interface {
	// Get returns an entity or apperrors.ErrNotFound.
	Get(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (*models.Entity, error)

	// Exists reports whether the entity currently exists.
	Exists(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (bool, error)

	// Insert creates a new entity row.
	Insert(ctx context.Context, entity *models.Entity) error

	// Update replaces the entity's attribute and media state.
	Update(ctx context.Context, entity *models.Entity) error

	// Delete removes the entity row. Returns apperrors.ErrNotFound if absent.
	Delete(ctx context.Context, projectID uuid.UUID, entityType, entityID string) error
}

type entityRepository struct{}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

func (r *entityRepository) Get(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (*models.Entity, error) {
	q, ok := database.QuerierFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("no database querier in context")
	}

	query := `
		SELECT project_id, entity_type, entity_id, attributes, media, created_at, updated_at
		FROM engine_entities
		WHERE project_id = $1 AND entity_type = $2 AND entity_id = $3`

	var entity models.Entity
	var attrs, media []byte
	err := q.QueryRow(ctx, query, projectID, entityType, entityID).Scan(
		&entity.ProjectID,
		&entity.EntityType,
		&entity.EntityID,
		&attrs,
		&media,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", entityType, entityID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	// Numbers decode as json.Number so a reloaded entity normalizes
	// identically to the request that wrote it.
	dec := json.NewDecoder(bytes.NewReader(attrs))
	dec.UseNumber()
	if err := dec.Decode(&entity.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity attributes: %w", err)
	}
	if len(media) > 0 && string(media) != "null" {
		if err := json.Unmarshal(media, &entity.Media); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity media: %w", err)
		}
	}

	return &entity, nil
}

func (r *entityRepository) Exists(ctx context.Context, projectID uuid.UUID, entityType, entityID string) (bool, error) {
	q, ok := database.QuerierFrom(ctx)
	if !ok {
		return false, fmt.Errorf("no database querier in context")
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM engine_entities
			WHERE project_id = $1 AND entity_type = $2 AND entity_id = $3
		)`

	var exists bool
	if err := q.QueryRow(ctx, query, projectID, entityType, entityID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check entity existence: %w", err)
	}
	return exists, nil
}

func (r *entityRepository) Insert(ctx context.Context, entity *models.Entity) error {
	q, ok := database.QuerierFrom(ctx)
	if !ok {
		return fmt.Errorf("no database querier in context")
	}

	attrs, media, err := marshalEntityState(entity)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entity.CreatedAt = now
	entity.UpdatedAt = now

	query := `
		INSERT INTO engine_entities (project_id, entity_type, entity_id, attributes, media, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = q.Exec(ctx, query,
		entity.ProjectID, entity.EntityType, entity.EntityID, attrs, media, entity.CreatedAt, entity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	return nil
}

func (r *entityRepository) Update(ctx context.Context, entity *models.Entity) error {
	q, ok := database.QuerierFrom(ctx)
	if !ok {
		return fmt.Errorf("no database querier in context")
	}

	attrs, media, err := marshalEntityState(entity)
	if err != nil {
		return err
	}

	entity.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE engine_entities
		SET attributes = $4, media = $5, updated_at = $6
		WHERE project_id = $1 AND entity_type = $2 AND entity_id = $3`

	tag, err := q.Exec(ctx, query,
		entity.ProjectID, entity.EntityType, entity.EntityID, attrs, media, entity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", entity.EntityType, entity.EntityID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *entityRepository) Delete(ctx context.Context, projectID uuid.UUID, entityType, entityID string) error {
	q, ok := database.QuerierFrom(ctx)
	if !ok {
		return fmt.Errorf("no database querier in context")
	}

	query := `
		DELETE FROM engine_entities
		WHERE project_id = $1 AND entity_type = $2 AND entity_id = $3`

	tag, err := q.Exec(ctx, query, projectID, entityType, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", entityType, entityID, apperrors.ErrNotFound)
	}
	return nil
}

func marshalEntityState(entity *models.Entity) (attrs, media []byte, err error) {
	if entity.Attributes == nil {
		entity.Attributes = models.Attributes{}
	}
	attrs, err = json.Marshal(entity.Attributes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal entity attributes: %w", err)
	}
	if len(entity.Media) > 0 {
		media, err = json.Marshal(entity.Media)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal entity media: %w", err)
		}
	}
	return attrs, media, nil
}
