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
	"github.com/ekaya-inc/ledger-engine/pkg/snapshot"
)

// LedgerRepository provides append-only data access for the change ledger.
// There is deliberately no update or delete operation: persisted entries are
// immutable, and corrections are expressed as new entries.
type LedgerRepository interface {
	// Append inserts a new ledger entry. It rejects an update entry whose
	// scalar and media diffs are both empty.
	Append(ctx context.Context, entry *models.LedgerEntry) error

	// GetByID returns a single entry or apperrors.ErrNotFound.
	GetByID(ctx context.Context, projectID, id uuid.UUID) (*models.LedgerEntry, error)

	// GetByEntityVersion returns the entry at a specific version of an
	// entity's history, or apperrors.ErrNotFound.
	GetByEntityVersion(ctx context.Context, projectID uuid.UUID, entityType, entityID string, version int64) (*models.LedgerEntry, error)

	// List returns entries matching the filter, newest first.
	List(ctx context.Context, projectID uuid.UUID, filter models.LedgerFilter, page models.Page) ([]*models.LedgerEntry, error)
}

type ledgerRepository struct{}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository() LedgerRepository {
	return &ledgerRepository{}
}

var _ LedgerRepository = (*ledgerRepository)(nil)

const ledgerColumns = `id, project_id, entity_type, entity_id, event, version,
	before_attrs, after_attrs, changed_fields, media_before, media_after,
	actor_type, actor_id, batch_id, rolled_back_from_id, schema_signature, meta, created_at`

func (r *ledgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	q, ok := database.QuerierFrom(ctx)
	if !ok {
		return fmt.Errorf("no database querier in context")
	}

	if entry.Event == models.LedgerEventUpdate && len(entry.ChangedFields) == 0 &&
		snapshot.MediaEqual(entry.MediaBefore, entry.MediaAfter) {
		return fmt.Errorf("refusing to append update entry for %s %s: %w",
			entry.EntityType, entry.EntityID, apperrors.ErrEmptyDiff)
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now().UTC()

	before, err := marshalNullable(entry.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before attributes: %w", err)
	}
	after, err := marshalNullable(entry.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after attributes: %w", err)
	}
	changed, err := marshalNullable(entry.ChangedFields)
	if err != nil {
		return fmt.Errorf("failed to marshal changed_fields: %w", err)
	}
	mediaBefore, err := marshalNullable(entry.MediaBefore)
	if err != nil {
		return fmt.Errorf("failed to marshal media_before: %w", err)
	}
	mediaAfter, err := marshalNullable(entry.MediaAfter)
	if err != nil {
		return fmt.Errorf("failed to marshal media_after: %w", err)
	}
	meta, err := marshalNullable(entry.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}

	query := `
		INSERT INTO engine_ledger_entries (
			id, project_id, entity_type, entity_id, event, version,
			before_attrs, after_attrs, changed_fields, media_before, media_after,
			actor_type, actor_id, batch_id, rolled_back_from_id, schema_signature, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err = q.Exec(ctx, query,
		entry.ID,
		entry.ProjectID,
		entry.EntityType,
		entry.EntityID,
		entry.Event,
		entry.Version,
		before,
		after,
		changed,
		mediaBefore,
		mediaAfter,
		entry.ActorType,
		entry.ActorID,
		entry.BatchID,
		entry.RolledBackFromID,
		entry.SchemaSignature,
		meta,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return nil
}

func (r *ledgerRepository) GetByID(ctx context.Context, projectID, id uuid.UUID) (*models.LedgerEntry, error) {
	q, ok := database.QuerierFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("no database querier in context")
	}

	query := `SELECT ` + ledgerColumns + `
		FROM engine_ledger_entries
		WHERE project_id = $1 AND id = $2`

	entry, err := scanLedgerEntry(q.QueryRow(ctx, query, projectID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ledger entry %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return entry, nil
}

func (r *ledgerRepository) GetByEntityVersion(ctx context.Context, projectID uuid.UUID, entityType, entityID string, version int64) (*models.LedgerEntry, error) {
	q, ok := database.QuerierFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("no database querier in context")
	}

	query := `SELECT ` + ledgerColumns + `
		FROM engine_ledger_entries
		WHERE project_id = $1 AND entity_type = $2 AND entity_id = $3 AND version = $4`

	entry, err := scanLedgerEntry(q.QueryRow(ctx, query, projectID, entityType, entityID, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %s version %d: %w", entityType, entityID, version, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return entry, nil
}

func (r *ledgerRepository) List(ctx context.Context, projectID uuid.UUID, filter models.LedgerFilter, page models.Page) ([]*models.LedgerEntry, error) {
	q, ok := database.QuerierFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("no database querier in context")
	}

	query := `SELECT ` + ledgerColumns + ` FROM engine_ledger_entries WHERE project_id = $1`
	args := []any{projectID}

	appendCond := func(cond string, val any) {
		args = append(args, val)
		query += fmt.Sprintf(" AND %s $%d", cond, len(args))
	}

	if filter.EntityType != "" {
		appendCond("entity_type =", filter.EntityType)
	}
	if filter.EntityID != "" {
		appendCond("entity_id =", filter.EntityID)
	}
	if filter.Event != "" {
		appendCond("event =", filter.Event)
	}
	if filter.ActorType != "" {
		appendCond("actor_type =", filter.ActorType)
	}
	if filter.ActorID != "" {
		appendCond("actor_id =", filter.ActorID)
	}
	if filter.BatchID != nil {
		appendCond("batch_id =", *filter.BatchID)
	}
	if filter.CreatedAfter != nil {
		appendCond("created_at >=", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		appendCond("created_at <", *filter.CreatedBefore)
	}

	args = append(args, page.Limit(), page.Offset())
	query += fmt.Sprintf(" ORDER BY created_at DESC, version DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}

func scanLedgerEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var before, after, changed, mediaBefore, mediaAfter, meta []byte

	err := row.Scan(
		&entry.ID,
		&entry.ProjectID,
		&entry.EntityType,
		&entry.EntityID,
		&entry.Event,
		&entry.Version,
		&before,
		&after,
		&changed,
		&mediaBefore,
		&mediaAfter,
		&entry.ActorType,
		&entry.ActorID,
		&entry.BatchID,
		&entry.RolledBackFromID,
		&entry.SchemaSignature,
		&meta,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	if err := unmarshalNullable(before, &entry.Before); err != nil {
		return nil, fmt.Errorf("failed to unmarshal before attributes: %w", err)
	}
	if err := unmarshalNullable(after, &entry.After); err != nil {
		return nil, fmt.Errorf("failed to unmarshal after attributes: %w", err)
	}
	if err := unmarshalNullable(changed, &entry.ChangedFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal changed_fields: %w", err)
	}
	if err := unmarshalNullable(mediaBefore, &entry.MediaBefore); err != nil {
		return nil, fmt.Errorf("failed to unmarshal media_before: %w", err)
	}
	if err := unmarshalNullable(mediaAfter, &entry.MediaAfter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal media_after: %w", err)
	}
	if err := unmarshalNullable(meta, &entry.Meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
	}

	return &entry, nil
}

func marshalNullable(v any) ([]byte, error) {
	if isNilOrEmpty(v) {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable(data []byte, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	// Numbers decode as json.Number so reloaded snapshots normalize
	// identically to the request path.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dst)
}

func isNilOrEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case models.Attributes:
		return val == nil
	case models.MediaRefs:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]string:
		return len(val) == 0
	default:
		return false
	}
}
